package loginwire

import (
	"encoding/binary"
	"fmt"
)

// LoginChallenge is the client's opening message in state
// INITIAL_CHALLENGE: it announces the game build, platform/OS/locale,
// and the account name that becomes SRP6's identity I.
type LoginChallenge struct {
	Build    uint32
	Platform string
	OS       string
	Locale   string
	Username string
}

// DecodeLoginChallenge parses a LOGIN_CHALLENGE payload.
func DecodeLoginChallenge(data []byte) (LoginChallenge, error) {
	if len(data) < 4 {
		return LoginChallenge{}, fmt.Errorf("loginwire: LoginChallenge too short (%d bytes)", len(data))
	}
	var (
		req LoginChallenge
		err error
	)
	req.Build = binary.LittleEndian.Uint32(data[:4])
	rest := data[4:]
	if req.Platform, rest, err = getLenStr(rest); err != nil {
		return LoginChallenge{}, err
	}
	if req.OS, rest, err = getLenStr(rest); err != nil {
		return LoginChallenge{}, err
	}
	if req.Locale, rest, err = getLenStr(rest); err != nil {
		return LoginChallenge{}, err
	}
	if req.Username, _, err = getLenStr(rest); err != nil {
		return LoginChallenge{}, err
	}
	return req, nil
}

// ReconnectChallenge is the client's opening message for the reconnect
// path (§4.5 scenario 2): it skips SRP6 and expects a proof derived from
// the session key registered at the prior login.
type ReconnectChallenge struct {
	Build    uint32
	Username string
}

// DecodeReconnectChallenge parses a RECONNECT_CHALLENGE payload.
func DecodeReconnectChallenge(data []byte) (ReconnectChallenge, error) {
	if len(data) < 4 {
		return ReconnectChallenge{}, fmt.Errorf("loginwire: ReconnectChallenge too short (%d bytes)", len(data))
	}
	username, _, err := getLenStr(data[4:])
	if err != nil {
		return ReconnectChallenge{}, err
	}
	return ReconnectChallenge{
		Build:    binary.LittleEndian.Uint32(data[:4]),
		Username: username,
	}, nil
}

// LoginProof is the client's answer to the SRP6 challenge: its public
// ephemeral A, the binary-integrity checksum, an optional second-factor
// proof, and the SRP6 client proof M1 (§4.2, §4.3, §4.4).
type LoginProof struct {
	A                 []byte
	IntegrityChecksum [20]byte
	SecondFactor      SecondFactorKind
	PINClientSalt     [4]byte  // valid iff SecondFactor == SecondFactorFixedPIN
	PINHash           [20]byte // valid iff SecondFactor == SecondFactorFixedPIN
	TOTPCode          uint32   // valid iff SecondFactor == SecondFactorTOTP
	M1                [20]byte
}

// DecodeLoginProof parses a LOGIN_PROOF payload.
func DecodeLoginProof(data []byte) (LoginProof, error) {
	var p LoginProof

	A, rest, err := getLenBytes(data)
	if err != nil {
		return LoginProof{}, err
	}
	p.A = A

	if len(rest) < 20 {
		return LoginProof{}, fmt.Errorf("loginwire: LoginProof missing integrity checksum")
	}
	copy(p.IntegrityChecksum[:], rest[:20])
	rest = rest[20:]

	if len(rest) < 1 {
		return LoginProof{}, fmt.Errorf("loginwire: LoginProof missing second-factor selector")
	}
	p.SecondFactor = SecondFactorKind(rest[0])
	rest = rest[1:]

	switch p.SecondFactor {
	case SecondFactorNone:
	case SecondFactorFixedPIN:
		if len(rest) < 24 {
			return LoginProof{}, fmt.Errorf("loginwire: LoginProof truncated fixed-PIN payload")
		}
		copy(p.PINClientSalt[:], rest[:4])
		copy(p.PINHash[:], rest[4:24])
		rest = rest[24:]
	case SecondFactorTOTP:
		if len(rest) < 4 {
			return LoginProof{}, fmt.Errorf("loginwire: LoginProof missing TOTP code")
		}
		p.TOTPCode = binary.LittleEndian.Uint32(rest[:4])
		rest = rest[4:]
	default:
		return LoginProof{}, fmt.Errorf("loginwire: unknown second-factor kind %d", p.SecondFactor)
	}

	if len(rest) < 20 {
		return LoginProof{}, fmt.Errorf("loginwire: LoginProof missing M1")
	}
	copy(p.M1[:], rest[:20])
	return p, nil
}

// ReconnectProof answers a reconnect challenge with a proof derived from
// the previously registered session key (rather than a fresh SRP6
// exchange): SHA1(upper(username) | clientSeed | serverSeed | sessionKey).
type ReconnectProof struct {
	ClientSeed [16]byte
	Proof      [20]byte
}

// DecodeReconnectProof parses a RECONNECT_PROOF payload.
func DecodeReconnectProof(data []byte) (ReconnectProof, error) {
	if len(data) < 36 {
		return ReconnectProof{}, fmt.Errorf("loginwire: ReconnectProof too short (%d bytes)", len(data))
	}
	var p ReconnectProof
	copy(p.ClientSeed[:], data[:16])
	copy(p.Proof[:], data[16:36])
	return p, nil
}

// TransferControl is the client's reply to a TransferInitiate: accept,
// resume from an offset, or cancel (§4.5).
type TransferControl struct {
	Kind   TransferControlKind
	Offset int64 // valid iff Kind == TransferResume
}

// DecodeTransferAccept parses a TRANSFER_ACCEPT payload (empty body).
func DecodeTransferAccept([]byte) (TransferControl, error) {
	return TransferControl{Kind: TransferAccept}, nil
}

// DecodeTransferResume parses a TRANSFER_RESUME payload.
func DecodeTransferResume(data []byte) (TransferControl, error) {
	if len(data) < 8 {
		return TransferControl{}, fmt.Errorf("loginwire: TransferResume too short (%d bytes)", len(data))
	}
	return TransferControl{
		Kind:   TransferResume,
		Offset: int64(binary.LittleEndian.Uint64(data[:8])),
	}, nil
}

// DecodeTransferCancel parses a TRANSFER_CANCEL payload (empty body).
func DecodeTransferCancel([]byte) (TransferControl, error) {
	return TransferControl{Kind: TransferCancel}, nil
}

// SurveyResult is the opaque, client-submitted survey payload (§4.5).
type SurveyResult struct {
	Payload []byte
}

// DecodeSurveyResult parses a SURVEY_RESULT payload.
func DecodeSurveyResult(data []byte) (SurveyResult, error) {
	payload, _, err := getLenBytes(data)
	if err != nil {
		return SurveyResult{}, err
	}
	return SurveyResult{Payload: payload}, nil
}
