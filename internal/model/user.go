package model

// PINMethod identifies which second-factor scheme, if any, an account
// requires at login (§3, §4.4).
type PINMethod int

const (
	PINMethodNone PINMethod = iota
	PINMethodFixed
	PINMethodTOTP
)

// UserFlags are the account-level boolean attributes consulted during
// login (§3).
type UserFlags struct {
	Banned          bool
	Suspended       bool
	SurveyRequested bool
	Subscriber      bool
	Verified        bool
}

// User is the account record retrieved via the Account service. Username
// is stored uppercased, matching the SRP6 identity convention.
type User struct {
	ID       int64
	Username string
	Salt     []byte
	Verifier []byte

	PINMethod PINMethod
	PINValue  string // ASCII digit string when PINMethod == PINMethodFixed
	TOTPSeed  string // base32 seed when PINMethod == PINMethodTOTP

	Flags UserFlags
}
