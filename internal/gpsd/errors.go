package gpsd

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoActiveGPS means gpsd answered the poll but has no device attached.
	ErrNoActiveGPS = errors.New("gpsd: no active GPS")

	// ErrNoFix means the receiver has not reached the fix mode an operation needs.
	ErrNoFix = errors.New("gpsd: no fix")
)

// ProtocolError is returned when gpsd sends a message class that is not valid
// at the current step of the session.
type ProtocolError struct {
	Step  string
	Class string
	Want  []string
	Msg   string
}

func (e *ProtocolError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("gpsd protocol error during %s: %s", e.Step, e.Msg)
	}
	return fmt.Sprintf("gpsd protocol error during %s: got class %q, want %s", e.Step, e.Class, strings.Join(e.Want, "|"))
}

// DecodeError wraps a line from gpsd that is not valid JSON.
type DecodeError struct {
	Line []byte
	Err  error
}

func (e *DecodeError) Error() string {
	line := string(e.Line)
	if len(line) > 120 {
		line = line[:120] + "..."
	}
	return fmt.Sprintf("gpsd decode failed: %v (line %q)", e.Err, line)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// FixTooLowError is returned by Fix accessors that need a better fix than the
// one held.
type FixTooLowError struct {
	Have Mode
	Need Mode
}

func (e *FixTooLowError) Error() string {
	return fmt.Sprintf("needs at least %s, have %s", e.Need, e.Have)
}

func (e *FixTooLowError) Is(target error) bool { return target == ErrNoFix }

// IsFatal reports whether err can not be cured by reconnecting: the server
// spoke something other than the gpsd protocol we expect.
func IsFatal(err error) bool {
	var pe *ProtocolError
	var de *DecodeError
	return errors.As(err, &pe) || errors.As(err, &de)
}
