package spark

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/udisondev/wowcore/internal/model"
)

func TestRealmStatus_EncodeDecodeRoundTrip(t *testing.T) {
	want := model.Realm{
		ID:         7,
		Name:       "Azshara",
		Address:    "203.0.113.1:8085",
		IP:         "203.0.113.1",
		Port:       8085,
		Population: 0.42,
		Type:       model.RealmTypePVP,
		Flags:      model.RealmFlags{Recommended: true, Full: true},
		Category:   1,
		Region:     2,
	}

	got, err := decodeRealmStatus(encodeRealmStatus(want))
	if err != nil {
		t.Fatalf("decodeRealmStatus: %v", err)
	}
	if got != want {
		t.Fatalf("round-trip mismatch:\n got  %+v\n want %+v", got, want)
	}
}

func TestFakeRealmService_SeedsOfflineAndPublishFlipsOnline(t *testing.T) {
	svc := NewFakeRealmService([]model.Realm{{ID: 1, Name: "Azshara"}})
	ctx := context.Background()

	all, err := svc.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 1 || !all[0].Flags.Offline {
		t.Fatalf("seeded realm = %+v, want offline", all)
	}

	published := model.Realm{ID: 1, Name: "Azshara", Population: 12}
	if err := svc.PublishStatus(ctx, published); err != nil {
		t.Fatalf("PublishStatus: %v", err)
	}
	all, _ = svc.All(ctx)
	if all[0].Flags.Offline || all[0].Population != 12 {
		t.Fatalf("published realm = %+v, want online with population 12", all[0])
	}

	if err := svc.MarkOffline(ctx, 1); err != nil {
		t.Fatalf("MarkOffline: %v", err)
	}
	all, _ = svc.All(ctx)
	if !all[0].Flags.Offline || all[0].Population != 0 {
		t.Fatalf("realm after MarkOffline = %+v, want offline with zero population", all[0])
	}

	if err := svc.MarkOffline(ctx, 999); err == nil {
		t.Fatal("expected error marking an unknown realm offline")
	}
}

func TestRealmChannelHandler_PublishAndCloseDrivesService(t *testing.T) {
	svc := NewFakeRealmService([]model.Realm{{ID: 5, Name: "Stonemaul"}})

	srv, cli := net.Pipe()
	login := NewEndpoint(srv, 65536, "login/1.0")
	realm := NewEndpoint(cli, 65536, "gateway/1.0")
	login.Register("realm-status", RealmChannelHandlerFactory(svc))
	defer login.Close()
	defer realm.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go login.Serve(ctx)
	go realm.Serve(ctx)

	ch, err := realm.OpenChannel(ctx, "realm-status", "5", 1, nil)
	if err != nil {
		t.Fatalf("OpenChannel: %v", err)
	}

	status := model.Realm{ID: 5, Name: "Stonemaul", Population: 3, Type: model.RealmTypeNormal}
	if err := PublishRealmStatus(ch, status); err != nil {
		t.Fatalf("PublishRealmStatus: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		all, _ := svc.All(context.Background())
		if len(all) == 1 && !all[0].Flags.Offline && all[0].Population == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("status never published: %+v", all)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := realm.Close(); err != nil {
		t.Fatalf("realm.Close: %v", err)
	}

	deadline = time.Now().Add(time.Second)
	for {
		all, _ := svc.All(context.Background())
		if len(all) == 1 && all[0].Flags.Offline {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("realm never marked offline on close: %+v", all)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
