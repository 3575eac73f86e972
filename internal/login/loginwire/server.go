package loginwire

import (
	"encoding/binary"
	"math"
)

// LoginChallengeResponse is the server's SRP6 challenge sent in reply to
// a LoginChallenge. When Result is non-zero (version gate or
// unknown-account rejection) only Result is meaningful.
type LoginChallengeResponse struct {
	Result        byte
	B             []byte
	G             byte
	N             []byte
	Salt          [32]byte
	IntegritySalt [16]byte
	SecondFactor  SecondFactorKind
	PINGridSeed   uint32 // valid iff SecondFactor == SecondFactorFixedPIN
}

// EncodeLoginChallengeResponse writes r into buf and returns the byte
// count written.
func EncodeLoginChallengeResponse(buf []byte, r LoginChallengeResponse) int {
	buf[0] = r.Result
	if r.Result != 0 {
		return 1
	}
	off := 1
	off += putLenBytes(buf[off:], r.B)
	buf[off] = r.G
	off++
	off += putLenBytes(buf[off:], r.N)
	off += copy(buf[off:], r.Salt[:])
	off += copy(buf[off:], r.IntegritySalt[:])
	buf[off] = byte(r.SecondFactor)
	off++
	if r.SecondFactor == SecondFactorFixedPIN {
		binary.LittleEndian.PutUint32(buf[off:], r.PINGridSeed)
		off += 4
	}
	return off
}

// LoginProofResponse answers a LoginProof: the SRP6 server proof M2 on
// success, or just a result code on failure.
type LoginProofResponse struct {
	Result byte
	M2     [20]byte
}

// EncodeLoginProofResponse writes r into buf and returns the byte count.
func EncodeLoginProofResponse(buf []byte, r LoginProofResponse) int {
	buf[0] = r.Result
	if r.Result != 0 {
		return 1
	}
	copy(buf[1:], r.M2[:])
	return 21
}

// ReconnectChallengeResponse carries the server's random seed for the
// reconnect proof, or a failure result code.
type ReconnectChallengeResponse struct {
	Result     byte
	ServerSeed [16]byte
}

// EncodeReconnectChallengeResponse writes r into buf and returns the
// byte count.
func EncodeReconnectChallengeResponse(buf []byte, r ReconnectChallengeResponse) int {
	buf[0] = r.Result
	if r.Result != 0 {
		return 1
	}
	copy(buf[1:], r.ServerSeed[:])
	return 17
}

// ReconnectProofResponse is a bare result code; reconnect never
// re-derives a session key so there is no server proof to carry.
type ReconnectProofResponse struct {
	Result byte
}

// EncodeReconnectProofResponse writes r into buf and returns the byte
// count.
func EncodeReconnectProofResponse(buf []byte, r ReconnectProofResponse) int {
	buf[0] = r.Result
	return 1
}

// RealmEntry is one row of the realm list response.
type RealmEntry struct {
	ID         int32
	Name       string
	Address    string
	Population float32
	Type       byte
	Flags      byte
	Category   int32
	Region     int32
}

// EncodeRealmList writes the realm list response into buf and returns
// the byte count.
func EncodeRealmList(buf []byte, realms []RealmEntry) int {
	off := 0
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(realms)))
	off += 2
	for _, r := range realms {
		binary.LittleEndian.PutUint32(buf[off:], uint32(r.ID))
		off += 4
		off += putLenStr(buf[off:], r.Name)
		off += putLenStr(buf[off:], r.Address)
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(r.Population))
		off += 4
		buf[off] = r.Type
		off++
		buf[off] = r.Flags
		off++
		binary.LittleEndian.PutUint32(buf[off:], uint32(r.Category))
		off += 4
		binary.LittleEndian.PutUint32(buf[off:], uint32(r.Region))
		off += 4
	}
	return off
}

// TransferInitiate announces an incoming patch or survey file transfer.
type TransferInitiate struct {
	Filename string
	FileSize int64
	MD5      [16]byte
}

// EncodeTransferInitiate writes t into buf and returns the byte count.
func EncodeTransferInitiate(buf []byte, t TransferInitiate) int {
	off := putLenStr(buf, t.Filename)
	binary.LittleEndian.PutUint64(buf[off:], uint64(t.FileSize))
	off += 8
	off += copy(buf[off:], t.MD5[:])
	return off
}

// TransferData is one chunk of an in-progress patch or survey transfer.
type TransferData struct {
	Offset int64
	Chunk  []byte
}

// EncodeTransferData writes t into buf and returns the byte count.
func EncodeTransferData(buf []byte, t TransferData) int {
	off := 0
	binary.LittleEndian.PutUint64(buf[off:], uint64(t.Offset))
	off += 8
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(t.Chunk)))
	off += 2
	off += copy(buf[off:], t.Chunk)
	return off
}
