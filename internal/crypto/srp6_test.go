package crypto

import (
	"bytes"
	"math/big"
	"testing"
)

func TestSRP6_GameMode_HappyLogin(t *testing.T) {
	salt := []byte{
		0xBE, 0xB2, 0x53, 0x79, 0xD1, 0xA8, 0x58, 0x1E,
		0xB5, 0xA7, 0x27, 0x67, 0x3A, 0x24, 0x41, 0xEE,
	}
	identity := "ALICE"
	password := "password123"

	v := ComputeVerifier(ModeGame, GameGroup256, identity, password, salt)
	if v.Sign() <= 0 || v.Cmp(GameGroup256.N) >= 0 {
		t.Fatalf("verifier out of range: %s", v.String())
	}

	server, err := NewServerSession(ModeGame, GameGroup256, identity, salt, v, nil)
	if err != nil {
		t.Fatalf("NewServerSession: %v", err)
	}
	client, err := NewClientSession(ModeGame, GameGroup256, identity, password, nil)
	if err != nil {
		t.Fatalf("NewClientSession: %v", err)
	}

	clientK, err := client.ComputeSessionKey(salt, server.B())
	if err != nil {
		t.Fatalf("client ComputeSessionKey: %v", err)
	}
	serverK, err := server.ComputeSessionKey(client.A())
	if err != nil {
		t.Fatalf("server ComputeSessionKey: %v", err)
	}
	if !bytes.Equal(clientK, serverK) {
		t.Fatalf("session keys diverge:\n client=%x\n server=%x", clientK, serverK)
	}
	if len(clientK) != 40 {
		t.Fatalf("session key length = %d, want 40", len(clientK))
	}

	M1 := client.ComputeProof()
	M2, err := server.VerifyClientProof(M1)
	if err != nil {
		t.Fatalf("server rejected valid client proof: %v", err)
	}
	if !client.VerifyServerProof(M1, M2) {
		t.Fatal("client rejected valid server proof")
	}
}

func TestSRP6_RFC5054Mode_HappyLogin(t *testing.T) {
	salt := make([]byte, 32)
	for i := range salt {
		salt[i] = byte(i * 7)
	}
	identity := "bob"
	password := "hunter2"

	v := ComputeVerifier(ModeRFC5054, RFC5054Group1024, identity, password, salt)

	server, err := NewServerSession(ModeRFC5054, RFC5054Group1024, identity, salt, v, nil)
	if err != nil {
		t.Fatalf("NewServerSession: %v", err)
	}
	client, err := NewClientSession(ModeRFC5054, RFC5054Group1024, identity, password, nil)
	if err != nil {
		t.Fatalf("NewClientSession: %v", err)
	}

	clientK, err := client.ComputeSessionKey(salt, server.B())
	if err != nil {
		t.Fatalf("client ComputeSessionKey: %v", err)
	}
	serverK, err := server.ComputeSessionKey(client.A())
	if err != nil {
		t.Fatalf("server ComputeSessionKey: %v", err)
	}
	if !bytes.Equal(clientK, serverK) {
		t.Fatalf("session keys diverge:\n client=%x\n server=%x", clientK, serverK)
	}

	M1 := client.ComputeProof()
	M2, err := server.VerifyClientProof(M1)
	if err != nil {
		t.Fatalf("server rejected valid client proof: %v", err)
	}
	if !client.VerifyServerProof(M1, M2) {
		t.Fatal("client rejected valid server proof")
	}
}

func TestSRP6_WrongPasswordFailsProof(t *testing.T) {
	salt := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	identity := "CARL"
	v := ComputeVerifier(ModeGame, GameGroup256, identity, "correct-horse", salt)

	server, err := NewServerSession(ModeGame, GameGroup256, identity, salt, v, nil)
	if err != nil {
		t.Fatalf("NewServerSession: %v", err)
	}
	client, err := NewClientSession(ModeGame, GameGroup256, identity, "wrong-password", nil)
	if err != nil {
		t.Fatalf("NewClientSession: %v", err)
	}

	if _, err := client.ComputeSessionKey(salt, server.B()); err != nil {
		t.Fatalf("client ComputeSessionKey: %v", err)
	}
	if _, err := server.ComputeSessionKey(client.A()); err != nil {
		t.Fatalf("server ComputeSessionKey: %v", err)
	}

	M1 := client.ComputeProof()
	if _, err := server.VerifyClientProof(M1); err != ErrProofMismatch {
		t.Fatalf("expected ErrProofMismatch, got %v", err)
	}
}

func TestSRP6_RejectsZeroEphemeral(t *testing.T) {
	salt := []byte{0x01}
	identity := "DAVE"
	v := ComputeVerifier(ModeGame, GameGroup256, identity, "pw", salt)

	server, err := NewServerSession(ModeGame, GameGroup256, identity, salt, v, nil)
	if err != nil {
		t.Fatalf("NewServerSession: %v", err)
	}
	if _, err := server.ComputeSessionKey(big.NewInt(0)); err != ErrInvalidEphemeral {
		t.Fatalf("expected ErrInvalidEphemeral for A=0, got %v", err)
	}
	if _, err := server.ComputeSessionKey(new(big.Int).Set(GameGroup256.N)); err != ErrInvalidEphemeral {
		t.Fatalf("expected ErrInvalidEphemeral for A=N, got %v", err)
	}
}

func TestComputeVerifier_IsDeterministic(t *testing.T) {
	salt := []byte{0xAA, 0xBB, 0xCC}
	v1 := ComputeVerifier(ModeGame, GameGroup256, "EVE", "password", salt)
	v2 := ComputeVerifier(ModeGame, GameGroup256, "eve", "password", salt)
	if v1.Cmp(v2) != 0 {
		t.Fatal("verifier must be case-insensitive on identity, per uppercasing rule")
	}
}
