package llm

import (
	"errors"
	"fmt"
)

// ErrEmptyConversation is returned when Send is called without any turns.
var ErrEmptyConversation = errors.New("conversation is empty")

// TransportError reports a failure talking to a remote endpoint: network
// errors, timeouts, non-2xx statuses, empty or malformed bodies.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Temporary reports whether repeating the call could succeed. Client errors
// (4xx other than 408 and 429) are permanent.
func (e *TransportError) Temporary() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == 408, e.StatusCode == 429:
		return true
	case e.StatusCode >= 400 && e.StatusCode < 500:
		return false
	default:
		return true
	}
}

// ProtocolViolation reports a response that breaks the completion contract,
// such as a missing choice or a tool_calls finish without any calls.
type ProtocolViolation struct {
	Reason string
}

func (e *ProtocolViolation) Error() string {
	return "protocol violation: " + e.Reason
}

// IsTransportError reports whether err wraps a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsProtocolViolation reports whether err wraps a *ProtocolViolation.
func IsProtocolViolation(err error) bool {
	var pv *ProtocolViolation
	return errors.As(err, &pv)
}
