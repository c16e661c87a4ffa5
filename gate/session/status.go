package session

import (
	"fmt"
	"strings"
)

// Status is the verification state of a session
type Status int

const (
	StatusPending Status = iota
	StatusSuccess
	StatusFailed
	StatusTimedOut
	StatusRevoked
)

// String returns the wire name of the status
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSuccess:
		return "success"
	case StatusFailed:
		return "failed"
	case StatusTimedOut:
		return "timed_out"
	case StatusRevoked:
		return "revoked"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// IsTerminal reports whether no further transition is possible from s
// (Revoked may still follow Failed or TimedOut as a disposal marker).
func (s Status) IsTerminal() bool {
	return s != StatusPending
}

// ParseStatus parses a wire name produced by String
func ParseStatus(v string) (Status, error) {
	switch strings.ToLower(v) {
	case "pending":
		return StatusPending, nil
	case "success":
		return StatusSuccess, nil
	case "failed":
		return StatusFailed, nil
	case "timed_out", "timeout":
		return StatusTimedOut, nil
	case "revoked", "kicked":
		return StatusRevoked, nil
	default:
		return 0, fmt.Errorf("unknown status %q", v)
	}
}

// MarshalText implements encoding.TextMarshaler
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
