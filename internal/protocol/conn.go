package protocol

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/udisondev/wowcore/internal/constants"
	"github.com/udisondev/wowcore/internal/crypto"
)

// Stats tracks per-connection byte/packet counters (§3 Data Model).
type Stats struct {
	BytesIn, BytesOut     atomic.Uint64
	PacketsIn, PacketsOut atomic.Uint64
}

// Conn wraps a net.Conn with the framing and double-buffered write
// semantics described in §4.1: reads are driven by the owning state
// machine's single goroutine, but Send may be called concurrently from
// other goroutines (admission-queue broadcasts, RPC pushes) — at most one
// write is ever in flight, and a writer that arrives while one is already
// in flight just appends to the pending buffer instead of blocking.
type Conn struct {
	nc  net.Conn
	obf *crypto.Obfuscator

	maxInbound int
	readBuf    []byte

	writeMu sync.Mutex
	writing bool
	pending []byte

	Stats Stats
}

// NewConn wraps nc with a read buffer capped at maxInbound bytes. The
// obfuscator starts nil (disabled); call EnableObfuscation once the login
// proof succeeds.
func NewConn(nc net.Conn, maxInbound int) *Conn {
	return &Conn{
		nc:         nc,
		maxInbound: maxInbound,
		readBuf:    make([]byte, maxInbound),
	}
}

// EnableObfuscation activates the stream cipher for both directions.
// Bytes already buffered from a prior Read are never re-decrypted — this
// only affects header bytes read from this point forward.
func (c *Conn) EnableObfuscation(key []byte) error {
	obf, err := crypto.NewObfuscator(key)
	if err != nil {
		return fmt.Errorf("protocol: enabling obfuscation: %w", err)
	}
	obf.Enable()
	c.obf = obf
	return nil
}

// RemoteAddr returns the underlying connection's remote address.
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// Close closes the underlying connection. Idempotent and safe to call
// from any goroutine, including concurrently with a Send in progress.
func (c *Conn) Close() error { return c.nc.Close() }

// ReadFrame reads one frame, blocking until a full header+payload has
// arrived, the cap is exceeded, or the connection fails. The returned
// payload aliases the connection's internal read buffer and is only
// valid until the next ReadFrame call.
func (c *Conn) ReadFrame() (opcode byte, payload []byte, err error) {
	opcode, payload, err = ReadFrame(c.nc, c.obf, c.readBuf)
	if err != nil {
		return 0, nil, err
	}
	c.Stats.PacketsIn.Add(1)
	c.Stats.BytesIn.Add(uint64(len(payload)))
	return opcode, payload, nil
}

// Send serializes one frame and queues it for write. If no write is
// currently in flight, Send performs it (and drains anything that
// accumulates behind it) on the calling goroutine; otherwise it appends
// to the pending buffer and returns immediately, trusting the in-flight
// writer to pick it up.
func (c *Conn) Send(opcode byte, payload []byte) error {
	frame := encodeFrame(c.obf, opcode, payload)

	c.Stats.PacketsOut.Add(1)

	c.writeMu.Lock()
	c.pending = append(c.pending, frame...)
	if c.writing {
		c.writeMu.Unlock()
		return nil
	}
	c.writing = true
	c.writeMu.Unlock()

	return c.drain()
}

// drain writes out the pending buffer, swapping in whatever accumulates
// while a write is in progress, until the pending buffer is empty.
func (c *Conn) drain() error {
	for {
		c.writeMu.Lock()
		front := c.pending
		c.pending = nil
		c.writeMu.Unlock()

		if len(front) == 0 {
			c.writeMu.Lock()
			c.writing = false
			c.writeMu.Unlock()
			return nil
		}

		if _, err := c.nc.Write(front); err != nil {
			c.writeMu.Lock()
			c.writing = false
			c.writeMu.Unlock()
			return fmt.Errorf("protocol: writing frame: %w", err)
		}
		c.Stats.BytesOut.Add(uint64(len(front)))
	}
}

// encodeFrame builds one complete on-wire frame (header+payload) into a
// freshly allocated buffer, applying the obfuscator to the header if
// enabled.
func encodeFrame(obf *crypto.Obfuscator, opcode byte, payload []byte) []byte {
	buf := make([]byte, constants.PacketHeaderSize+len(payload))
	header := buf[:constants.PacketHeaderSize]
	binary.BigEndian.PutUint16(header[0:2], uint16(len(payload)+1))
	header[2] = opcode
	header[3] = 0
	if obf != nil {
		obf.Encrypt(header)
	}
	copy(buf[constants.PacketHeaderSize:], payload)
	return buf
}
