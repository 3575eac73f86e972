// Package loginwire encodes and decodes the login-port payload bytes
// that travel behind C1's framed header (§6). Multi-byte integers are
// little-endian; variable-length fields (account names, SRP6 public
// values) carry a single length-prefix byte, matching the bound the
// protocol already places on those fields (usernames ≤ 255 bytes, A/B
// ≤ 255 bytes — more than enough for the 1024-bit RFC5054 group).
package loginwire

import "fmt"

// SecondFactorKind discriminates which (if any) second-factor payload
// accompanies a LoginProof message (§4.4).
type SecondFactorKind byte

const (
	SecondFactorNone SecondFactorKind = iota
	SecondFactorFixedPIN
	SecondFactorTOTP
)

// TransferControlKind discriminates the client's reply to a
// TransferInitiate (§4.5).
type TransferControlKind byte

const (
	TransferAccept TransferControlKind = iota
	TransferResume
	TransferCancel
)

func putLenStr(buf []byte, s string) int {
	buf[0] = byte(len(s))
	copy(buf[1:], s)
	return 1 + len(s)
}

func getLenStr(data []byte) (string, []byte, error) {
	b, rest, err := getLenBytes(data)
	if err != nil {
		return "", nil, err
	}
	return string(b), rest, nil
}

func putLenBytes(buf []byte, b []byte) int {
	buf[0] = byte(len(b))
	copy(buf[1:], b)
	return 1 + len(b)
}

func getLenBytes(data []byte) ([]byte, []byte, error) {
	if len(data) < 1 {
		return nil, nil, fmt.Errorf("loginwire: truncated length-prefixed field")
	}
	n := int(data[0])
	if len(data)-1 < n {
		return nil, nil, fmt.Errorf("loginwire: truncated field body (want %d, have %d)", n, len(data)-1)
	}
	return data[1 : 1+n], data[1+n:], nil
}
