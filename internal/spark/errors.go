package spark

// Code enumerates the outcomes a tracked request's continuation can be
// invoked with (§4.8, §7). These are values, not Go error types, because
// a continuation is always invoked exactly once with exactly one of
// them — callers switch on Code rather than using errors.Is chains.
type Code int

const (
	OK Code = iota
	LinkGone
	TimedOut
	Cancelled
	NetError
	ChannelClosed
	WrongMessageType
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case LinkGone:
		return "LINK_GONE"
	case TimedOut:
		return "TIMED_OUT"
	case Cancelled:
		return "CANCELLED"
	case NetError:
		return "NET_ERROR"
	case ChannelClosed:
		return "CHANNEL_CLOSED"
	case WrongMessageType:
		return "WRONG_MESSAGE_TYPE"
	default:
		return "UNKNOWN"
	}
}

// Result is what a tracked request's continuation receives: either a
// response payload (Code == OK) or an error outcome with no payload.
type Result struct {
	Payload []byte
	Code    Code
}

func (r Result) Err() error {
	if r.Code == OK {
		return nil
	}
	return &resultError{code: r.Code}
}

type resultError struct{ code Code }

func (e *resultError) Error() string { return "spark: request failed: " + e.code.String() }

// Is allows errors.Is(err, spark.ErrTimedOut) style checks against the
// sentinel Code values below.
func (e *resultError) Is(target error) bool {
	t, ok := target.(*resultError)
	return ok && t.code == e.code
}

// Sentinel errors for errors.Is matching against Result.Err().
var (
	ErrLinkGone          = &resultError{code: LinkGone}
	ErrTimedOut          = &resultError{code: TimedOut}
	ErrCancelled         = &resultError{code: Cancelled}
	ErrNetError          = &resultError{code: NetError}
	ErrChannelClosed     = &resultError{code: ChannelClosed}
	ErrWrongMessageType  = &resultError{code: WrongMessageType}
)
