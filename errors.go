package p2pws

import (
	"errors"
	"fmt"
)

// ErrInvalidOptions reports unusable client configuration.
var ErrInvalidOptions = errors.New("p2pws: invalid options")

// ErrRetriesExhausted is returned by Start when the retry limit is
// reached without a clean close. The client stops; a caller that wants
// to keep going must call Start again.
var ErrRetriesExhausted = errors.New("p2pws: retries exhausted")

// TerminationKind classifies how one session ended.
type TerminationKind int

const (
	// TerminationNormalClose is a clean close initiated by the server.
	// The supervisor treats it as final and does not reconnect.
	TerminationNormalClose TerminationKind = iota
	// TerminationAbnormalClose is a close with an unexpected close code.
	TerminationAbnormalClose
	// TerminationTransportError is any other failure: handshake error,
	// network failure, or a listener error surfaced through the
	// dispatch pipeline.
	TerminationTransportError
)

// String returns the string representation of the TerminationKind.
func (k TerminationKind) String() string {
	switch k {
	case TerminationNormalClose:
		return "normal close"
	case TerminationAbnormalClose:
		return "abnormal close"
	case TerminationTransportError:
		return "transport error"
	default:
		return "unknown"
	}
}

// Termination is the outcome of one session, handed to the supervisor
// so it can decide whether to reconnect.
type Termination struct {
	Kind  TerminationKind
	Cause error
}

// String returns the termination with its cause, if any.
func (t Termination) String() string {
	if t.Cause == nil {
		return t.Kind.String()
	}
	return fmt.Sprintf("%s: %v", t.Kind, t.Cause)
}
