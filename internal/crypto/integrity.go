package crypto

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // protocol-mandated primitive
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/udisondev/wowcore/internal/constants"
)

// BinaryKind identifies one build/platform/OS combination that the client
// integrity check covers (§4.3).
type BinaryKind struct {
	Build    int
	Platform string
	OS       string
}

func (k BinaryKind) String() string {
	return fmt.Sprintf("%d/%s/%s", k.Build, k.Platform, k.OS)
}

// IntegrityVerifier holds the known binary blobs for each supported
// (build, platform, OS) combination and computes the two-pass checksum
// the login proof step validates.
type IntegrityVerifier struct {
	blobs map[BinaryKind][]byte
}

// NewIntegrityVerifier builds a verifier over a static blob table,
// typically loaded once at process start from embedded or on-disk data.
func NewIntegrityVerifier(blobs map[BinaryKind][]byte) *IntegrityVerifier {
	cp := make(map[BinaryKind][]byte, len(blobs))
	for k, v := range blobs {
		b := make([]byte, len(v))
		copy(b, v)
		cp[k] = b
	}
	return &IntegrityVerifier{blobs: cp}
}

// ErrUnknownBinary is returned when no blob is registered for a
// (build, platform, OS) triple.
type ErrUnknownBinary struct{ Kind BinaryKind }

func (e *ErrUnknownBinary) Error() string {
	return fmt.Sprintf("integrity: no binary blob registered for %s", e.Kind)
}

// Compute derives the checksum the server expects back from the client:
//
//	checksum = HMAC-SHA1(blob, salt)
//	final    = SHA1(checksum || A)
//
// where A is the client's SRP6 public ephemeral value, in the byte order
// it arrived in on the wire (little-endian in game mode).
func (v *IntegrityVerifier) Compute(kind BinaryKind, salt []byte, A []byte) ([]byte, error) {
	blob, ok := v.blobs[kind]
	if !ok {
		return nil, &ErrUnknownBinary{Kind: kind}
	}
	mac := hmac.New(sha1.New, salt)
	mac.Write(blob)
	checksum := mac.Sum(nil)

	final := sha1.New()
	final.Write(checksum)
	final.Write(A)
	return final.Sum(nil), nil
}

// ComputeReconnect derives the reconnect-path hash, where the checksum is
// defined to be a zero-filled 20-byte buffer regardless of which binary is
// installed: final = SHA1(zero20 || salt).
func (v *IntegrityVerifier) ComputeReconnect(salt []byte) []byte {
	final := sha1.New()
	final.Write(make([]byte, constants.ChecksumSize))
	final.Write(salt)
	return final.Sum(nil)
}

// Verify recomputes the expected checksum and compares it in constant
// time against the value the client sent.
func (v *IntegrityVerifier) Verify(kind BinaryKind, salt, A, clientChecksum []byte) (bool, error) {
	want, err := v.Compute(kind, salt, A)
	if err != nil {
		return false, err
	}
	return hmac.Equal(want, clientChecksum), nil
}

// VerifyReconnect compares a reconnect-path hash against the value the
// client sent; it never consults the blob table.
func (v *IntegrityVerifier) VerifyReconnect(salt, clientChecksum []byte) bool {
	return hmac.Equal(v.ComputeReconnect(salt), clientChecksum)
}

// Known reports whether a blob is registered for kind, without computing
// anything. The login state machine does not call it; an unknown build
// surfaces as the ErrUnknownBinary returned by Verify.
func (v *IntegrityVerifier) Known(kind BinaryKind) bool {
	_, ok := v.blobs[kind]
	return ok
}

// LoadBlobDir scans dir for one file per supported (build, platform, OS)
// triple, named "<build>_<platform>_<os>.bin" (e.g. "5875_win_x64.bin"),
// and builds the blob table NewIntegrityVerifier expects. Grounded on the
// teacher's internal/html.Cache directory-preload shape: a flat
// directory of named assets read once at startup, keyed by parsing each
// filename.
func LoadBlobDir(dir string) (map[BinaryKind][]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("integrity: reading blob dir %s: %w", dir, err)
	}

	blobs := make(map[BinaryKind][]byte, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".bin" {
			continue
		}
		kind, err := parseBlobName(e.Name())
		if err != nil {
			return nil, fmt.Errorf("integrity: %s: %w", e.Name(), err)
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("integrity: reading %s: %w", e.Name(), err)
		}
		blobs[kind] = data
	}
	return blobs, nil
}

func parseBlobName(name string) (BinaryKind, error) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	parts := strings.SplitN(base, "_", 3)
	if len(parts) != 3 {
		return BinaryKind{}, fmt.Errorf("expected <build>_<platform>_<os>.bin, got %q", name)
	}
	build, err := strconv.Atoi(parts[0])
	if err != nil {
		return BinaryKind{}, fmt.Errorf("parsing build from %q: %w", name, err)
	}
	return BinaryKind{Build: build, Platform: parts[1], OS: parts[2]}, nil
}
