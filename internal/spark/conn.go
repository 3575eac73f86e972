package spark

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
)

// message is one decoded frame: its channel, token (uuid.Nil when
// untracked), response bit, and payload.
type message struct {
	channel  byte
	token    uuid.UUID
	response bool
	payload  []byte
}

// frameConn is the framed transport under one Endpoint: it reads/writes
// complete §6 envelopes over a net.Conn, with the same "at most one
// write in flight, excess writers just append" double-buffering
// discipline as protocol.Conn (§4.1), generalized to the larger,
// configurable inbound cap the RPC fabric requires instead of login's
// fixed 64 KiB.
type frameConn struct {
	nc         net.Conn
	maxInbound int
	readBuf    []byte

	writeMu sync.Mutex
	writing bool
	pending []byte
}

func newFrameConn(nc net.Conn, maxInbound int) *frameConn {
	return &frameConn{
		nc:         nc,
		maxInbound: maxInbound,
		readBuf:    make([]byte, EnvelopeSize+maxInbound),
	}
}

// readMessage blocks for one complete frame. The returned payload aliases
// the connection's read buffer and is only valid until the next call.
func (c *frameConn) readMessage() (message, error) {
	var header [EnvelopeSize]byte
	if _, err := io.ReadFull(c.nc, header[:]); err != nil {
		return message{}, fmt.Errorf("spark: reading envelope: %w", err)
	}

	total := binary.LittleEndian.Uint32(header[0:4])
	flags := header[4]
	channel := header[5]
	token, err := uuid.FromBytes(header[6:22])
	if err != nil {
		return message{}, fmt.Errorf("spark: parsing token: %w", err)
	}

	if total < EnvelopeSize {
		return message{}, fmt.Errorf("spark: malformed envelope size %d (< header %d)", total, EnvelopeSize)
	}
	payloadLen := int(total) - EnvelopeSize
	if payloadLen > c.maxInbound {
		return message{}, fmt.Errorf("spark: oversize frame %d exceeds cap %d", payloadLen, c.maxInbound)
	}

	payload := c.readBuf[:payloadLen]
	if payloadLen > 0 {
		if _, err := io.ReadFull(c.nc, payload); err != nil {
			return message{}, fmt.Errorf("spark: reading payload: %w", err)
		}
	}

	return message{
		channel:  channel,
		token:    token,
		response: flags&flagResponse != 0,
		payload:  payload,
	}, nil
}

// writeMessage queues one frame for write, performing it inline if no
// write is already in flight.
func (c *frameConn) writeMessage(channel byte, token uuid.UUID, response bool, payload []byte) error {
	frame := make([]byte, EnvelopeSize+len(payload))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(EnvelopeSize+len(payload)))
	var flags byte
	if response {
		flags |= flagResponse
	}
	frame[4] = flags
	frame[5] = channel
	tb, _ := token.MarshalBinary()
	copy(frame[6:22], tb)
	copy(frame[EnvelopeSize:], payload)

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

func (c *frameConn) drain() error {
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
			return fmt.Errorf("spark: writing frame: %w", err)
		}
	}
}

func (c *frameConn) Close() error { return c.nc.Close() }
