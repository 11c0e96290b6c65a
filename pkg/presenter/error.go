package presenter

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a control failure.
type ErrorKind int

const (
	// KindConnection means the control connection broke; the next call
	// redials.
	KindConnection ErrorKind = iota

	// KindTimeout means the presenter did not acknowledge in time.
	KindTimeout

	// KindRejected means the presenter refused the action.
	KindRejected
)

// Error is a presenter control failure.
type Error struct {
	Action string
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindTimeout:
		return fmt.Sprintf("presenter: %s: ack timeout: %v", e.Action, e.Err)
	case KindRejected:
		return fmt.Sprintf("presenter: %s: rejected: %s", e.Action, e.Reason)
	default:
		return fmt.Sprintf("presenter: %s: %v", e.Action, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was an acknowledgement timeout.
// Timeouts are the retryable class.
func (e *Error) Timeout() bool {
	return e.Kind == KindTimeout
}

// Retryable reports whether the dispatcher may retry the action.
func (e *Error) Retryable() bool {
	return e.Kind == KindTimeout || e.Kind == KindConnection
}

// AsError tries to convert err to a *Error.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
