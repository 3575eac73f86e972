// Package protocol implements the framed transport shared by the login
// and gateway wire protocols: a big-endian size+opcode header, an
// optional post-auth stream obfuscator, and the truncation/oversize
// rules that close a connection on malformed input.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"

	"github.com/udisondev/wowcore/internal/constants"
	"github.com/udisondev/wowcore/internal/crypto"
)

// ErrEmptyPacket is returned by ReadFrame when a frame carries no opcode
// (size == 0); this is always a protocol violation, never a valid message.
var ErrEmptyPacket = fmt.Errorf("protocol: empty frame (size field is zero)")

// ErrOversizePacket is returned when a frame's declared size exceeds the
// buffer's capacity.
type ErrOversizePacket struct {
	Declared, Max int
}

func (e *ErrOversizePacket) Error() string {
	return fmt.Sprintf("protocol: frame size %d exceeds cap %d", e.Declared, e.Max)
}

// ReadFrame reads one frame from r into buf and returns its opcode and
// payload. buf must be at least constants.PacketHeaderSize bytes and is
// reused across calls by the caller; the returned payload aliases buf.
//
// Framing (§4.1): a 4-byte header (2-byte BE size, 1-byte opcode, 1
// reserved byte) followed by size-1 bytes of payload. obf may be nil or
// disabled; in that case the header is read as plaintext. Truncation
// (EOF mid-message) and malformed size both return an error, which the
// caller must treat as fatal for the connection.
func ReadFrame(r io.Reader, obf *crypto.Obfuscator, buf []byte) (opcode byte, payload []byte, err error) {
	if len(buf) < constants.PacketHeaderSize {
		return 0, nil, fmt.Errorf("protocol: read buffer smaller than header (%d < %d)", len(buf), constants.PacketHeaderSize)
	}

	header := buf[:constants.PacketHeaderSize]
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, fmt.Errorf("protocol: reading header: %w", err)
	}
	if obf != nil {
		obf.Decrypt(header)
	}

	size := int(binary.BigEndian.Uint16(header[0:2]))
	opcode = header[2]
	// header[3] is the reserved alignment byte; always decrypted, never interpreted.

	if size == 0 {
		return 0, nil, ErrEmptyPacket
	}
	payloadLen := size - 1
	if payloadLen > len(buf) {
		slog.Warn("protocol: oversize frame", "declared", size, "cap", len(buf), "header", fmt.Sprintf("% x", header))
		return 0, nil, &ErrOversizePacket{Declared: size, Max: len(buf)}
	}

	payload = buf[:payloadLen]
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, fmt.Errorf("protocol: reading payload: %w", err)
		}
	}
	return opcode, payload, nil
}

// WriteFrame writes one frame to w. payload must live at
// buf[constants.PacketHeaderSize : constants.PacketHeaderSize+payloadLen];
// WriteFrame fills in the header in place and writes the whole buffer in
// one call.
func WriteFrame(w io.Writer, obf *crypto.Obfuscator, buf []byte, opcode byte, payloadLen int) error {
	total := constants.PacketHeaderSize + payloadLen
	if len(buf) < total {
		return fmt.Errorf("protocol: write buffer too small (need %d, have %d)", total, len(buf))
	}

	header := buf[:constants.PacketHeaderSize]
	binary.BigEndian.PutUint16(header[0:2], uint16(payloadLen+1))
	header[2] = opcode
	header[3] = 0
	if obf != nil {
		obf.Encrypt(header)
	}

	if _, err := w.Write(buf[:total]); err != nil {
		return fmt.Errorf("protocol: writing frame: %w", err)
	}
	return nil
}
