package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestIntegrityVerifier_ComputeAndVerify(t *testing.T) {
	kind := BinaryKind{Build: 5875, Platform: "x86", OS: "Win"}
	blobs := map[BinaryKind][]byte{
		kind: {0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
	}
	v := NewIntegrityVerifier(blobs)

	salt := []byte{0x10, 0x20, 0x30, 0x40}
	A := []byte{0xAA, 0xBB, 0xCC}

	sum, err := v.Compute(kind, salt, A)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(sum) != 20 {
		t.Fatalf("checksum length = %d, want 20", len(sum))
	}

	ok, err := v.Verify(kind, salt, A, sum)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatal("Verify rejected a checksum it just produced")
	}

	tampered := append([]byte(nil), sum...)
	tampered[0] ^= 0xFF
	if ok, _ := v.Verify(kind, salt, A, tampered); ok {
		t.Fatal("Verify accepted a tampered checksum")
	}
}

func TestIntegrityVerifier_UnknownBinary(t *testing.T) {
	v := NewIntegrityVerifier(nil)
	_, err := v.Compute(BinaryKind{Build: 1, Platform: "x86", OS: "Win"}, []byte{0x01}, []byte{0x02})
	var target *ErrUnknownBinary
	if err == nil {
		t.Fatal("expected error for unregistered binary kind")
	}
	if !errors.As(err, &target) {
		t.Fatalf("expected *ErrUnknownBinary, got %T: %v", err, err)
	}
}

func TestIntegrityVerifier_ReconnectPath(t *testing.T) {
	v := NewIntegrityVerifier(nil)
	salt := []byte{0x01, 0x02, 0x03}

	sum := v.ComputeReconnect(salt)
	if len(sum) != 20 {
		t.Fatalf("reconnect hash length = %d, want 20", len(sum))
	}
	if !v.VerifyReconnect(salt, sum) {
		t.Fatal("VerifyReconnect rejected a hash it just produced")
	}
	if v.VerifyReconnect(salt, append([]byte(nil), bytes.Repeat([]byte{0xFF}, 20)...)) {
		t.Fatal("VerifyReconnect accepted a wrong hash")
	}
}

