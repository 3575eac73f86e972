package crypto

import (
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // protocol-mandated primitive, not used for confidentiality
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Mode selects which SRP6 byte-encoding convention is in effect: the
// custom "game" variant (little-endian big-integer encoding throughout)
// or the RFC5054-compliant variant (standard big-endian encoding). See
// §3/§4.2 — these are the two hard-coded groups the login state machine
// can negotiate.
type Mode int

const (
	ModeGame Mode = iota
	ModeRFC5054
)

// Group is a named (N, g) SRP6 parameter pair.
type Group struct {
	N    *big.Int
	G    *big.Int
	NLen int // byte length of N, used for all fixed-width padding
}

func mustBig(hex string) *big.Int {
	n, ok := new(big.Int).SetString(hex, 16)
	if !ok {
		panic(fmt.Sprintf("crypto: invalid hex constant %q", hex))
	}
	return n
}

var (
	// GameGroup256 is the 256-bit "game" group used by ModeGame sessions.
	GameGroup256 = Group{
		N:    mustBig("894B645E89E1535BBDAD5B8B290650530801B18EBFBF5E8FAB3C82872A3E9BB7"),
		G:    big.NewInt(7),
		NLen: 32,
	}

	// RFC5054Group1024 is the 1024-bit fallback group for clients that
	// negotiate the RFC5054-compliant (big-endian) encoding instead of the
	// game-mode variant.
	RFC5054Group1024 = Group{
		N: mustBig("E11A4C4412DDE6E36343992683A56815BD6B555CCE6ECF6E7B81391417EC7969A0859" +
			"729E71D8EA311E96D065904751EFAEA4A52507AB5A2326325CA463E5137B61E9706FCC51" +
			"39C4632E7FCAEF13E19964659EDE56096AE7A2E6CC5332D764BCA69763C2553A8A6BE3C5" +
			"5A97211EA44D527BC7D84FD47EC98F1DBB9DD758F93"),
		G:    big.NewInt(2),
		NLen: 128,
	}
)

// Well known SRP6 error conditions (§4.2).
var (
	ErrInvalidEphemeral = errors.New("srp6: invalid (zero or negative) ephemeral value")
	ErrProofMismatch    = errors.New("srp6: client proof verification failed")
)

func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(out)-1-i] = v
	}
	return out
}

// Encode renders x as a big-endian, zero-padded byte slice of length n,
// reversed to little-endian when mode is ModeGame. This is the pad(A),
// pad(B), pad(g) behavior described throughout §3/§4.2.
func (m Mode) Encode(x *big.Int, n int) []byte {
	raw := x.Bytes()
	if len(raw) > n {
		raw = raw[len(raw)-n:]
	}
	out := make([]byte, n)
	copy(out[n-len(raw):], raw)
	if m == ModeGame {
		out = reverseBytes(out)
	}
	return out
}

// decodeHash turns a SHA-1 digest back into a big integer, reading it as
// little-endian in ModeGame and big-endian otherwise.
func (m Mode) decodeHash(digest []byte) *big.Int {
	if m == ModeGame {
		return new(big.Int).SetBytes(reverseBytes(digest))
	}
	return new(big.Int).SetBytes(digest)
}

// Decode is Encode's inverse: it reads raw as a big integer using the
// same little/big-endian convention (reversed-then-big-endian in
// ModeGame, plain big-endian otherwise). Used to reconstruct the
// client's public ephemeral A from wire bytes.
func (m Mode) Decode(raw []byte) *big.Int {
	if m == ModeGame {
		return new(big.Int).SetBytes(reverseBytes(raw))
	}
	return new(big.Int).SetBytes(raw)
}

func sha1Sum(parts ...[]byte) []byte {
	h := sha1.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// multiplier returns k = H(N, pad(g)) for the group under mode.
func multiplier(mode Mode, g Group) *big.Int {
	digest := sha1Sum(mode.Encode(g.N, g.NLen), mode.Encode(g.G, g.NLen))
	return mode.decodeHash(digest)
}

// privateExponent computes x = H(s | H(I:P)), with the game-mode quirk of
// reversing the salt before the outer hash and decoding the result
// little-endian (§3).
func privateExponent(mode Mode, identity, password string, salt []byte) *big.Int {
	inner := sha1Sum([]byte(strings.ToUpper(identity) + ":" + password))
	s := salt
	if mode == ModeGame {
		s = reverseBytes(salt)
	}
	digest := sha1Sum(s, inner)
	return mode.decodeHash(digest)
}

// ComputeVerifier derives v = g^x mod N for a new account record.
func ComputeVerifier(mode Mode, g Group, identity, password string, salt []byte) *big.Int {
	x := privateExponent(mode, identity, password, salt)
	return new(big.Int).Exp(g.G, x, g.N)
}

// scrambler computes u = H(pad(A), pad(B)).
func scrambler(mode Mode, g Group, A, B *big.Int) *big.Int {
	digest := sha1Sum(mode.Encode(A, g.NLen), mode.Encode(B, g.NLen))
	return mode.decodeHash(digest)
}

// interleave derives the 40-byte session key from the raw premaster secret
// S: strip leading zero bytes, drop one more if the remainder is odd,
// split into even/odd-index halves, SHA-1 each half, and interleave the
// two 20-byte digests (§4.2).
func interleave(S *big.Int) []byte {
	buf := S.Bytes()
	for len(buf) > 0 && buf[0] == 0 {
		buf = buf[1:]
	}
	if len(buf)%2 != 0 {
		buf = buf[1:]
	}
	half := len(buf) / 2
	even := make([]byte, half)
	odd := make([]byte, half)
	for i := 0; i < half; i++ {
		even[i] = buf[2*i]
		odd[i] = buf[2*i+1]
	}
	h1 := sha1Sum(even)
	h2 := sha1Sum(odd)
	K := make([]byte, 40)
	for i := 0; i < 20; i++ {
		K[2*i] = h1[i]
		K[2*i+1] = h2[i]
	}
	return K
}

// computeM1 computes the client proof
// M1 = H( H(N) XOR H(g) | H(I) | s | A | B | K ).
func computeM1(mode Mode, g Group, identity string, salt []byte, A, B *big.Int, K []byte) []byte {
	hN := sha1Sum(mode.Encode(g.N, g.NLen))
	hG := sha1Sum(mode.Encode(g.G, g.NLen))
	xorNG := xorBytes(hN, hG)
	hI := sha1Sum([]byte(strings.ToUpper(identity)))
	Aenc := mode.Encode(A, g.NLen)
	Benc := mode.Encode(B, g.NLen)
	return sha1Sum(xorNG, hI, salt, Aenc, Benc, K)
}

// computeM2 computes the server proof M2 = H(A | M1 | K).
func computeM2(mode Mode, g Group, A *big.Int, M1, K []byte) []byte {
	Aenc := mode.Encode(A, g.NLen)
	return sha1Sum(Aenc, M1, K)
}

func randomExponent(limit *big.Int) (*big.Int, error) {
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, fmt.Errorf("srp6: generating random exponent: %w", err)
	}
	if n.Sign() == 0 {
		n.SetInt64(1)
	}
	return n, nil
}

// ServerSession holds server-side SRP6 state for a single login attempt,
// from the initial challenge through session-key derivation.
type ServerSession struct {
	mode  Mode
	group Group
	v     *big.Int
	b     *big.Int
	bPub  *big.Int

	identity string
	salt     []byte

	a *big.Int // client public value A, set once ComputeSessionKey runs
	K []byte
}

// NewServerSession starts a server role for (identity, salt, verifier). If
// secret is non-nil it is used as the ephemeral b (for deterministic
// tests); otherwise a random b is generated.
func NewServerSession(mode Mode, g Group, identity string, salt []byte, verifier *big.Int, secret *big.Int) (*ServerSession, error) {
	b := secret
	var err error
	if b == nil {
		b, err = randomExponent(g.N)
		if err != nil {
			return nil, err
		}
	}
	if b.Sign() <= 0 {
		return nil, ErrInvalidEphemeral
	}

	k := multiplier(mode, g)
	// B = (k*v + g^b) mod N
	term1 := new(big.Int).Mul(k, verifier)
	term2 := new(big.Int).Exp(g.G, b, g.N)
	B := new(big.Int).Add(term1, term2)
	B.Mod(B, g.N)

	return &ServerSession{
		mode:     mode,
		group:    g,
		v:        verifier,
		b:        b,
		bPub:     B,
		identity: identity,
		salt:     salt,
	}, nil
}

// B returns the server's public ephemeral value, to be sent in the challenge.
func (s *ServerSession) B() *big.Int { return s.bPub }

// ComputeSessionKey derives K from the client's public value A.
func (s *ServerSession) ComputeSessionKey(A *big.Int) ([]byte, error) {
	if A.Sign() <= 0 || new(big.Int).Mod(A, s.group.N).Sign() == 0 {
		return nil, ErrInvalidEphemeral
	}
	u := scrambler(s.mode, s.group, A, s.bPub)

	// S = (A * v^u)^b mod N
	vu := new(big.Int).Exp(s.v, u, s.group.N)
	base := new(big.Int).Mul(A, vu)
	base.Mod(base, s.group.N)
	S := new(big.Int).Exp(base, s.b, s.group.N)

	s.a = A
	s.K = interleave(S)
	return s.K, nil
}

// VerifyClientProof checks the client's M1 and, on success, returns M2.
// ComputeSessionKey must have been called first.
func (s *ServerSession) VerifyClientProof(M1 []byte) ([]byte, error) {
	if s.K == nil {
		return nil, fmt.Errorf("srp6: session key not yet derived")
	}
	expected := computeM1(s.mode, s.group, s.identity, s.salt, s.a, s.bPub, s.K)
	if subtle.ConstantTimeCompare(expected, M1) != 1 {
		return nil, ErrProofMismatch
	}
	return computeM2(s.mode, s.group, s.a, M1, s.K), nil
}

// ClientSession holds client-side SRP6 state, used by tests and by a
// future native client implementation.
type ClientSession struct {
	mode  Mode
	group Group
	a     *big.Int
	aPub  *big.Int

	identity string
	password string
	salt     []byte

	b *big.Int
	K []byte
}

// NewClientSession starts a client role. If secret is non-nil it is used
// as the ephemeral a (for deterministic tests); otherwise random.
func NewClientSession(mode Mode, g Group, identity, password string, secret *big.Int) (*ClientSession, error) {
	a := secret
	var err error
	if a == nil {
		a, err = randomExponent(g.N)
		if err != nil {
			return nil, err
		}
	}
	if a.Sign() <= 0 {
		return nil, ErrInvalidEphemeral
	}
	A := new(big.Int).Exp(g.G, a, g.N)
	return &ClientSession{
		mode:     mode,
		group:    g,
		a:        a,
		aPub:     A,
		identity: identity,
		password: password,
	}, nil
}

// A returns the client's public ephemeral value.
func (c *ClientSession) A() *big.Int { return c.aPub }

// ComputeSessionKey derives K from the server's challenge (salt, B).
func (c *ClientSession) ComputeSessionKey(salt []byte, B *big.Int) ([]byte, error) {
	if B.Sign() <= 0 || new(big.Int).Mod(B, c.group.N).Sign() == 0 {
		return nil, ErrInvalidEphemeral
	}
	c.salt = salt
	c.b = B

	u := scrambler(c.mode, c.group, c.aPub, B)
	x := privateExponent(c.mode, c.identity, c.password, salt)
	k := multiplier(c.mode, c.group)

	gx := new(big.Int).Exp(c.group.G, x, c.group.N)
	base := new(big.Int).Sub(B, new(big.Int).Mul(k, gx))
	base.Mod(base, c.group.N)

	exp := new(big.Int).Add(c.a, new(big.Int).Mul(u, x))
	S := new(big.Int).Exp(base, exp, c.group.N)

	c.K = interleave(S)
	return c.K, nil
}

// ComputeProof computes the client's M1, to be sent to the server.
func (c *ClientSession) ComputeProof() []byte {
	return computeM1(c.mode, c.group, c.identity, c.salt, c.aPub, c.b, c.K)
}

// VerifyServerProof checks the server's M2 against the client's own
// derivation.
func (c *ClientSession) VerifyServerProof(M1, M2 []byte) bool {
	expected := computeM2(c.mode, c.group, c.aPub, M1, c.K)
	return subtle.ConstantTimeCompare(expected, M2) == 1
}
