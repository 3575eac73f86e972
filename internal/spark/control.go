package spark

import (
	"encoding/binary"
	"fmt"
)

// ControlTag discriminates the union of messages carried on
// ControlChannel (§4.8).
type ControlTag byte

const (
	CtrlHello ControlTag = iota
	CtrlOpenChannel
	CtrlOpenChannelResponse
	CtrlCloseChannel
	CtrlPing
	CtrlPong
)

// OpenResult is the status an OpenChannelResponse carries.
type OpenResult byte

const (
	OpenOK OpenResult = iota
	OpenErrNoHandler
	OpenErrReservedID
)

func putLenStr(buf []byte, s string) int {
	buf[0] = byte(len(s))
	copy(buf[1:], s)
	return 1 + len(s)
}

func getLenStr(data []byte) (string, []byte, error) {
	if len(data) < 1 {
		return "", nil, fmt.Errorf("spark: truncated length-prefixed string")
	}
	n := int(data[0])
	if len(data)-1 < n {
		return "", nil, fmt.Errorf("spark: truncated string body (want %d, have %d)", n, len(data)-1)
	}
	return string(data[1 : 1+n]), data[1+n:], nil
}

// Hello is the one-shot banner exchanged immediately after connect
// (§4.8). Banner is free-form, typically "<process kind> <version>".
type Hello struct {
	Banner string
}

func encodeHello(h Hello) []byte {
	buf := make([]byte, 1+1+len(h.Banner))
	buf[0] = byte(CtrlHello)
	putLenStr(buf[1:], h.Banner)
	return buf
}

func decodeHello(data []byte) (Hello, error) {
	banner, _, err := getLenStr(data)
	if err != nil {
		return Hello{}, err
	}
	return Hello{Banner: banner}, nil
}

// OpenChannel requests a new logical channel for a named service (§4.8
// step 1). ServiceName disambiguates among multiple handlers of the same
// ServiceType (e.g. which realm's CharacterService); it may be empty.
type OpenChannel struct {
	ServiceType string
	ServiceName string
	ProposedID  byte
}

func encodeOpenChannel(o OpenChannel) []byte {
	buf := make([]byte, 1+1+len(o.ServiceType)+1+len(o.ServiceName)+1)
	buf[0] = byte(CtrlOpenChannel)
	off := 1
	off += putLenStr(buf[off:], o.ServiceType)
	off += putLenStr(buf[off:], o.ServiceName)
	buf[off] = o.ProposedID
	return buf
}

func decodeOpenChannel(data []byte) (OpenChannel, error) {
	var (
		o   OpenChannel
		err error
	)
	rest := data
	if o.ServiceType, rest, err = getLenStr(rest); err != nil {
		return OpenChannel{}, err
	}
	if o.ServiceName, rest, err = getLenStr(rest); err != nil {
		return OpenChannel{}, err
	}
	if len(rest) < 1 {
		return OpenChannel{}, fmt.Errorf("spark: OpenChannel missing proposed id")
	}
	o.ProposedID = rest[0]
	return o, nil
}

// OpenChannelResponse answers an OpenChannel (§4.8 step 2): OK with the
// actual channel id assigned (which may differ from ProposedID on
// collision), or an error result with no id.
type OpenChannelResponse struct {
	Result OpenResult
	Actual byte
}

func encodeOpenChannelResponse(r OpenChannelResponse) []byte {
	return []byte{byte(CtrlOpenChannelResponse), byte(r.Result), r.Actual}
}

func decodeOpenChannelResponse(data []byte) (OpenChannelResponse, error) {
	if len(data) < 2 {
		return OpenChannelResponse{}, fmt.Errorf("spark: OpenChannelResponse too short")
	}
	return OpenChannelResponse{Result: OpenResult(data[0]), Actual: data[1]}, nil
}

// CloseChannel announces the sender is done with a channel id.
type CloseChannel struct {
	ID byte
}

func encodeCloseChannel(c CloseChannel) []byte {
	return []byte{byte(CtrlCloseChannel), c.ID}
}

func decodeCloseChannel(data []byte) (CloseChannel, error) {
	if len(data) < 1 {
		return CloseChannel{}, fmt.Errorf("spark: CloseChannel too short")
	}
	return CloseChannel{ID: data[0]}, nil
}

// Ping/Pong carry a monotonic sequence number for liveness checking
// (§4.8).
type Ping struct{ Seq uint32 }
type Pong struct{ Seq uint32 }

func encodePing(p Ping) []byte {
	buf := make([]byte, 5)
	buf[0] = byte(CtrlPing)
	binary.LittleEndian.PutUint32(buf[1:], p.Seq)
	return buf
}

func decodePing(data []byte) (Ping, error) {
	if len(data) < 4 {
		return Ping{}, fmt.Errorf("spark: Ping too short")
	}
	return Ping{Seq: binary.LittleEndian.Uint32(data)}, nil
}

func encodePong(p Pong) []byte {
	buf := make([]byte, 5)
	buf[0] = byte(CtrlPong)
	binary.LittleEndian.PutUint32(buf[1:], p.Seq)
	return buf
}

func decodePong(data []byte) (Pong, error) {
	if len(data) < 4 {
		return Pong{}, fmt.Errorf("spark: Pong too short")
	}
	return Pong{Seq: binary.LittleEndian.Uint32(data)}, nil
}
