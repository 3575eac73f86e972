package crypto

import (
	"fmt"
	"sync/atomic"

	"github.com/udisondev/wowcore/internal/constants"
)

// Obfuscator is the symmetric, stateful XOR-with-feedback cipher applied to
// the connection header after a successful login proof (§3). It is not a
// cryptographic primitive; it must be bit-exact for interoperability with
// the client.
//
// Per byte:
//
//	send: i <- i mod |K|; x <- (b XOR K[i]) + j; i++; j <- x; b <- x
//	recv: i <- i mod |K|; x <- (b - j) XOR K[i]; i++; j <- b_original; b <- x
//
// Send and receive directions carry independent (i, j) state, grounded on
// the "atomic enabled flag + in-place transform with carry" shape of
// la2go's GameCrypt, generalized from its fixed key[i&0xF] lookup to the
// spec's modulo-key-length index.
type Obfuscator struct {
	key []byte

	iSend, jSend byte
	iRecv, jRecv byte

	enabled atomic.Bool
}

// NewObfuscator creates an Obfuscator for the given key. The key must be
// 1..255 bytes; it is not copied defensively by callers that reuse it, so
// NewObfuscator takes its own copy.
func NewObfuscator(key []byte) (*Obfuscator, error) {
	if len(key) == 0 || len(key) > constants.ObfuscatorMaxKeySize {
		return nil, fmt.Errorf("obfuscator: key length %d out of range (1..%d)", len(key), constants.ObfuscatorMaxKeySize)
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Obfuscator{key: k}, nil
}

// Enable activates the cipher. Header bytes already buffered prior to this
// call are never re-decrypted (§4.1) — callers must not run already-read
// bytes back through Decrypt/Encrypt after enabling.
func (o *Obfuscator) Enable() {
	o.enabled.Store(true)
}

// Enabled reports whether the cipher has been activated.
func (o *Obfuscator) Enabled() bool {
	return o.enabled.Load()
}

// EncryptByte transforms a single outbound byte and advances send state.
func (o *Obfuscator) EncryptByte(b byte) byte {
	i := int(o.iSend) % len(o.key)
	x := (b ^ o.key[i]) + o.jSend
	o.iSend++
	o.jSend = x
	return x
}

// DecryptByte transforms a single inbound byte and advances receive state.
func (o *Obfuscator) DecryptByte(b byte) byte {
	i := int(o.iRecv) % len(o.key)
	x := (b - o.jRecv) ^ o.key[i]
	o.iRecv++
	o.jRecv = b
	return x
}

// Encrypt transforms data in-place using EncryptByte, byte by byte, in
// order. A no-op until Enable has been called.
func (o *Obfuscator) Encrypt(data []byte) {
	if !o.enabled.Load() {
		return
	}
	for i, b := range data {
		data[i] = o.EncryptByte(b)
	}
}

// Decrypt transforms data in-place using DecryptByte, byte by byte, in
// order. A no-op until Enable has been called.
func (o *Obfuscator) Decrypt(data []byte) {
	if !o.enabled.Load() {
		return
	}
	for i, b := range data {
		data[i] = o.DecryptByte(b)
	}
}
