package crypto

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // protocol-mandated primitive
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// DeriveGrid reorders the digits 0..9 into a deterministic derangement
// keyed by a 32-bit grid seed, per §4.4:
//
//	idx = G mod (10 - step); select pool[idx]; remove that slot; G /= (10 - step)
//
// for step = 0..9.
func DeriveGrid(seed uint32) [10]byte {
	pool := [10]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	live := pool[:]
	var grid [10]byte
	for step := 0; step < 10; step++ {
		n := uint32(10 - step)
		idx := seed % n
		grid[step] = live[idx]
		live = append(live[:idx], live[idx+1:]...)
		seed /= n
	}
	return grid
}

// remapASCIIDigits maps each ASCII digit byte in pin to the index of that
// digit within grid, then renders the remapped digit back to ASCII. This
// is the "remapped(pin_as_ascii_digits)" transform of §4.4.
func remapASCIIDigits(grid [10]byte, pin string) []byte {
	out := make([]byte, len(pin))
	for i := 0; i < len(pin); i++ {
		d := pin[i] - '0'
		for idx, v := range grid {
			if v == d {
				out[i] = byte('0' + idx)
				break
			}
		}
	}
	return out
}

// FixedPINHash computes H(clientSalt | H(serverSalt | remapped(pin))) for
// the given grid, matching the client-side derivation bit-for-bit.
func FixedPINHash(grid [10]byte, serverSalt, clientSalt []byte, pin string) []byte {
	remapped := remapASCIIDigits(grid, pin)

	inner := sha1.New()
	inner.Write(serverSalt)
	inner.Write(remapped)
	innerSum := inner.Sum(nil)

	outer := sha1.New()
	outer.Write(clientSalt)
	outer.Write(innerSum)
	return outer.Sum(nil)
}

// VerifyFixedPIN recomputes the expected hash from the account's stored
// PIN and compares it in constant time against what the client sent.
func VerifyFixedPIN(grid [10]byte, serverSalt, clientSalt []byte, storedPIN string, clientHash []byte) bool {
	want := FixedPINHash(grid, serverSalt, clientSalt, storedPIN)
	return hmac.Equal(want, clientHash)
}

// VerifyTOTP checks a 6-digit TOTP code against a base32-encoded seed,
// accepting the current 30-second step or either neighbor (§4.4).
func VerifyTOTP(base32Seed string, code uint32, at time.Time) (bool, error) {
	ok, err := totp.ValidateCustom(formatCode(code), base32Seed, at, totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

// formatCode renders a 6-digit TOTP code as a zero-padded decimal string,
// the format totp.ValidateCustom expects.
func formatCode(code uint32) string {
	const digits = 6
	buf := make([]byte, digits)
	for i := digits - 1; i >= 0; i-- {
		buf[i] = byte('0' + code%10)
		code /= 10
	}
	return string(buf)
}
