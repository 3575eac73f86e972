// Package spark implements the inter-service RPC fabric (C8): many
// logical channels multiplexed over one framed TCP connection, addressed
// by a one-byte channel id (0 reserved for control), with request/
// response correlation via 16-byte UUID tokens. This is what lets the
// login process and a realm's gateway process exchange session keys and
// realm status without a connection per concern (§4.8).
//
// Grounded on the teacher's internal/gslistener — a single fixed GS<->LS
// link with its own envelope, read loop, and (state, opcode) dispatch —
// generalized here from one implicit channel into N independently
// lifecycled channels, each with its own tracked-request table.
package spark

import "fmt"

// Envelope is the fixed wire header described in §6: a little-endian
// uint32 total size (header + payload), a flags byte, a channel id, and
// a 16-byte token. EnvelopeSize is the on-wire header length, bit-exact
// for interop with an unchanged peer.
const EnvelopeSize = 4 + 1 + 1 + 16

// Flags bit layout (§6): bit 0 is the response marker, bits 1-3 are a
// payload alignment shift this implementation always sends as zero
// (reserved for a future padded-payload optimization no CORE component
// needs yet), bits 4-7 are reserved. Only bit 0 is written or read:
// every other bit is sent as zero and ignored on receipt, so reserved
// bits from a peer are not preserved.
const (
	flagResponse   byte = 1 << 0
	flagAlignShift byte = 0b0000_1110
)

// ControlChannel is the reserved channel id for Hello/OpenChannel/
// OpenChannelResponse/CloseChannel/Ping/Pong (§4.8).
const ControlChannel byte = 0

// MaxChannels is the number of concurrently open channels one connection
// can address (§3: "A single TCP connection can hold up to 255 channels
// concurrently" plus the reserved control channel 0).
const MaxChannels = 256

// ErrChannelIDReserved is returned when a caller proposes channel 0,
// which is always rejected (§8 boundary behavior).
var ErrChannelIDReserved = fmt.Errorf("spark: channel id 0 is reserved for control")
