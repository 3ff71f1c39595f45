package dispatch

import (
	"errors"

	"go.temporal.io/sdk/temporal"
)

// HandlerError is a serializable error chain for handler failures. Errors
// crossing the activity boundary lose their concrete types, so the chain is
// modeled as plain data: a message plus an optional cause, JSON-encodable end
// to end.
type HandlerError struct {
	Message string        `json:"message"`
	Cause   *HandlerError `json:"cause,omitempty"`
}

// NewHandlerError creates a handler error with no cause.
func NewHandlerError(message string) *HandlerError {
	return &HandlerError{Message: message}
}

// WrapHandlerError creates a handler error wrapping a cause. A nil cause
// yields a plain error; a cause that is already a *HandlerError keeps its
// chain intact, anything else is flattened to its message.
func WrapHandlerError(message string, cause error) *HandlerError {
	e := &HandlerError{Message: message}
	if cause == nil {
		return e
	}
	var he *HandlerError
	if errors.As(cause, &he) {
		e.Cause = he
	} else {
		e.Cause = &HandlerError{Message: cause.Error()}
	}
	return e
}

// Error implements the error interface, returning only this level's message.
// Use RootCause to reach the innermost failure.
func (e *HandlerError) Error() string {
	return e.Message
}

// Unwrap returns the cause, making the chain traversable with the errors
// package.
func (e *HandlerError) Unwrap() error {
	if e.Cause == nil {
		return nil
	}
	return e.Cause
}

// RootCause walks err's unwrap chain and returns the innermost non-empty
// message. Participant-facing error notices carry the root cause, not the
// outer layers of wrapping each retry and boundary adds.
func RootCause(err error) string {
	if err == nil {
		return ""
	}
	msg := messageOf(err)
	for e := errors.Unwrap(err); e != nil; e = errors.Unwrap(e) {
		if m := messageOf(e); m != "" {
			msg = m
		}
	}
	return msg
}

// messageOf extracts the bare message of one error in a chain. Errors that
// crossed a Temporal boundary come back as ApplicationErrors whose Error()
// is annotated with type and retryability; the raw message is what reaches
// participants.
func messageOf(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Message()
	}
	return err.Error()
}
