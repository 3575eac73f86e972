package spark

import (
	"context"
	"testing"
)

func TestFakeAccountService_RegisterAndGet(t *testing.T) {
	svc := NewFakeAccountService()
	ctx := context.Background()

	if err := svc.RegisterSession(ctx, 1, []byte{0xAA, 0xBB}); err != nil {
		t.Fatalf("RegisterSession: %v", err)
	}
	key, ok, err := svc.GetSession(ctx, 1)
	if err != nil || !ok {
		t.Fatalf("GetSession: ok=%v err=%v", ok, err)
	}
	if len(key) != 2 || key[0] != 0xAA || key[1] != 0xBB {
		t.Fatalf("key = %x, want aabb", key)
	}

	if err := svc.RegisterSession(ctx, 1, []byte{0x01}); err == nil {
		t.Fatal("expected error re-registering an active session")
	}

	if err := svc.RemoveSession(ctx, 1); err != nil {
		t.Fatalf("RemoveSession: %v", err)
	}
	if _, ok, _ := svc.GetSession(ctx, 1); ok {
		t.Fatal("session still present after RemoveSession")
	}
}

func TestFakeCharacterService_Lifecycle(t *testing.T) {
	svc := NewFakeCharacterService()
	ctx := context.Background()

	c, err := svc.CreateCharacter(ctx, 1, "Arthas", 3, 1)
	if err != nil {
		t.Fatalf("CreateCharacter: %v", err)
	}
	if !c.FirstLogin {
		t.Fatal("newly created character should have FirstLogin = true")
	}

	if _, err := svc.CreateCharacter(ctx, 1, "Arthas", 3, 1); err == nil {
		t.Fatal("expected duplicate-name error")
	}

	list, err := svc.EnumerateCharacters(ctx, 1)
	if err != nil || len(list) != 1 {
		t.Fatalf("EnumerateCharacters: list=%v err=%v", list, err)
	}

	loaded, err := svc.LoadCharacter(ctx, 1, c.ID)
	if err != nil {
		t.Fatalf("LoadCharacter: %v", err)
	}
	if loaded.FirstLogin {
		t.Fatal("LoadCharacter should clear FirstLogin")
	}

	if err := svc.RenameCharacter(ctx, 1, c.ID, "Lichking"); err != nil {
		t.Fatalf("RenameCharacter: %v", err)
	}
	list, _ = svc.EnumerateCharacters(ctx, 1)
	if list[0].Name != "Lichking" {
		t.Fatalf("name = %q, want Lichking", list[0].Name)
	}

	if err := svc.DeleteCharacter(ctx, 1, c.ID); err != nil {
		t.Fatalf("DeleteCharacter: %v", err)
	}
	list, _ = svc.EnumerateCharacters(ctx, 1)
	if len(list) != 0 {
		t.Fatalf("list after delete = %v, want empty", list)
	}

	if err := svc.DeleteCharacter(ctx, 1, c.ID); err == nil {
		t.Fatal("expected error deleting an already-deleted character")
	}
}
