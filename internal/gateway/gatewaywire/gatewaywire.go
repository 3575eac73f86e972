// Package gatewaywire encodes and decodes the gateway-port payload bytes
// behind C1's framed header (§6, §4.6): world-auth, character-list, and
// world-enter messages. Multi-byte integers are little-endian;
// variable-length fields carry a single length-prefix byte, matching
// loginwire's conventions.
package gatewaywire

import (
	"encoding/binary"
	"fmt"
)

func putLenStr(buf []byte, s string) int {
	buf[0] = byte(len(s))
	copy(buf[1:], s)
	return 1 + len(s)
}

func getLenStr(data []byte) (string, []byte, error) {
	if len(data) < 1 {
		return "", nil, fmt.Errorf("gatewaywire: truncated length-prefixed field")
	}
	n := int(data[0])
	if len(data)-1 < n {
		return "", nil, fmt.Errorf("gatewaywire: truncated field body (want %d, have %d)", n, len(data)-1)
	}
	return string(data[1 : 1+n]), data[1+n:], nil
}

func getLenBytes(data []byte) ([]byte, []byte, error) {
	if len(data) < 1 {
		return nil, nil, fmt.Errorf("gatewaywire: truncated length-prefixed field")
	}
	n := int(data[0])
	if len(data)-1 < n {
		return nil, nil, fmt.Errorf("gatewaywire: truncated field body (want %d, have %d)", n, len(data)-1)
	}
	return data[1 : 1+n], data[1+n:], nil
}

// WorldChallenge is the gateway's one-shot greeting sent immediately on
// accept, before authentication: a fresh random seed the client folds
// into its WorldAuth proof.
type WorldChallenge struct {
	ServerSeed [4]byte
}

// EncodeWorldChallenge writes w into buf and returns the byte count.
func EncodeWorldChallenge(buf []byte, w WorldChallenge) int {
	return copy(buf, w.ServerSeed[:])
}

// WorldAuth is the client's opening message on the gateway port (§4.6):
// account name, build, a seed-derived client proof, and an optional
// addons digest.
type WorldAuth struct {
	AccountName  string
	Build        uint32
	ClientProof  [20]byte
	AddonsDigest []byte // may be empty
}

// DecodeWorldAuth parses a WORLD_AUTH payload.
func DecodeWorldAuth(data []byte) (WorldAuth, error) {
	var (
		w   WorldAuth
		err error
	)
	rest := data
	if w.AccountName, rest, err = getLenStr(rest); err != nil {
		return WorldAuth{}, err
	}
	if len(rest) < 4+20 {
		return WorldAuth{}, fmt.Errorf("gatewaywire: WorldAuth too short (%d bytes)", len(rest))
	}
	w.Build = binary.LittleEndian.Uint32(rest[:4])
	rest = rest[4:]
	copy(w.ClientProof[:], rest[:20])
	rest = rest[20:]
	if len(rest) > 0 {
		digest, _, err := getLenBytes(rest)
		if err != nil {
			return WorldAuth{}, err
		}
		w.AddonsDigest = digest
	}
	return w, nil
}

// WorldAuthResponse answers WorldAuth with a result code and, on
// success, the server's challenge seed (consumed by obfuscator setup on
// the client side).
type WorldAuthResponse struct {
	Result     byte
	ServerSeed [4]byte
}

// EncodeWorldAuthResponse writes r into buf and returns the byte count.
func EncodeWorldAuthResponse(buf []byte, r WorldAuthResponse) int {
	buf[0] = r.Result
	if r.Result != 0 {
		return 1
	}
	copy(buf[1:], r.ServerSeed[:])
	return 5
}

// QueuePosition reports the client's current Admission Queue position
// (§4.7); Position == 0 means the client has been released.
type QueuePosition struct {
	Position int32
}

// EncodeQueuePosition writes q into buf and returns the byte count.
func EncodeQueuePosition(buf []byte, q QueuePosition) int {
	binary.LittleEndian.PutUint32(buf, uint32(q.Position))
	return 4
}

// CharacterEntry is one row of the character list response.
type CharacterEntry struct {
	ID     int64
	Name   string
	Class  byte
	Race   byte
	Level  byte
	ZoneID int32
}

// EncodeCharacterList writes the character list response into buf and
// returns the byte count.
func EncodeCharacterList(buf []byte, chars []CharacterEntry) int {
	off := 0
	buf[off] = byte(len(chars))
	off++
	for _, c := range chars {
		binary.LittleEndian.PutUint64(buf[off:], uint64(c.ID))
		off += 8
		off += putLenStr(buf[off:], c.Name)
		buf[off] = c.Class
		off++
		buf[off] = c.Race
		off++
		buf[off] = c.Level
		off++
		binary.LittleEndian.PutUint32(buf[off:], uint32(c.ZoneID))
		off += 4
	}
	return off
}

// CharacterCreate requests a new character on the authenticated account.
type CharacterCreate struct {
	Name  string
	Class byte
	Race  byte
}

// DecodeCharacterCreate parses a CHARACTER_CREATE payload.
func DecodeCharacterCreate(data []byte) (CharacterCreate, error) {
	var (
		c   CharacterCreate
		err error
	)
	rest := data
	if c.Name, rest, err = getLenStr(rest); err != nil {
		return CharacterCreate{}, err
	}
	if len(rest) < 2 {
		return CharacterCreate{}, fmt.Errorf("gatewaywire: CharacterCreate too short")
	}
	c.Class = rest[0]
	c.Race = rest[1]
	return c, nil
}

// CharacterOpAck answers create/delete/rename with a result code.
type CharacterOpAck struct {
	Result byte
}

// EncodeCharacterOpAck writes a into buf and returns the byte count.
func EncodeCharacterOpAck(buf []byte, a CharacterOpAck) int {
	buf[0] = a.Result
	return 1
}

// CharacterDelete requests deletion of characterID.
type CharacterDelete struct {
	CharacterID int64
}

// DecodeCharacterDelete parses a CHARACTER_DELETE payload.
func DecodeCharacterDelete(data []byte) (CharacterDelete, error) {
	if len(data) < 8 {
		return CharacterDelete{}, fmt.Errorf("gatewaywire: CharacterDelete too short")
	}
	return CharacterDelete{CharacterID: int64(binary.LittleEndian.Uint64(data))}, nil
}

// CharacterRename requests renaming characterID to NewName.
type CharacterRename struct {
	CharacterID int64
	NewName     string
}

// DecodeCharacterRename parses a CHARACTER_RENAME payload.
func DecodeCharacterRename(data []byte) (CharacterRename, error) {
	if len(data) < 8 {
		return CharacterRename{}, fmt.Errorf("gatewaywire: CharacterRename too short")
	}
	name, _, err := getLenStr(data[8:])
	if err != nil {
		return CharacterRename{}, err
	}
	return CharacterRename{
		CharacterID: int64(binary.LittleEndian.Uint64(data[:8])),
		NewName:     name,
	}, nil
}

// WorldEnter requests entry into the world with the chosen character.
type WorldEnter struct {
	CharacterID int64
}

// DecodeWorldEnter parses a WORLD_ENTER payload.
func DecodeWorldEnter(data []byte) (WorldEnter, error) {
	if len(data) < 8 {
		return WorldEnter{}, fmt.Errorf("gatewaywire: WorldEnter too short")
	}
	return WorldEnter{CharacterID: int64(binary.LittleEndian.Uint64(data))}, nil
}

// WorldEnterAck answers WorldEnter with a result code and, on success,
// the zone the character loaded into. The gateway's first-login zone
// mask (§4.6) applies only to the character list, not to this ack.
type WorldEnterAck struct {
	Result byte
	ZoneID int32
}

// EncodeWorldEnterAck writes a into buf and returns the byte count.
func EncodeWorldEnterAck(buf []byte, a WorldEnterAck) int {
	buf[0] = a.Result
	if a.Result != 0 {
		return 1
	}
	binary.LittleEndian.PutUint32(buf[1:], uint32(a.ZoneID))
	return 5
}
