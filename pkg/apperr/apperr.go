package apperr

import (
	"errors"
	"fmt"
)

// Reason is the machine-readable failure code callers branch on.
// The human-readable message is for narration only.
type Reason string

const (
	ReasonInvalidFormat     Reason = "invalid_format"
	ReasonNotFound          Reason = "not_found"
	ReasonInvalidToken      Reason = "invalid_token"
	ReasonSendFailed        Reason = "send_failed"
	ReasonAlreadyRegistered Reason = "already_registered"
	ReasonUnauthenticated   Reason = "unauthenticated"
	ReasonForbidden         Reason = "forbidden"
	ReasonPhaseOrder        Reason = "phase_order"
	ReasonConflict          Reason = "conflict"
	ReasonInternal          Reason = "internal"
)

// Error is a failure that has already been classified.
type Error struct {
	Reason  Reason
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(reason Reason, message string) *Error {
	return &Error{Reason: reason, Message: message}
}

func Wrap(reason Reason, message string, err error) *Error {
	return &Error{Reason: reason, Message: message, Err: err}
}

func NotFound(message string) *Error { return New(ReasonNotFound, message) }

func Internal(message string, err error) *Error { return Wrap(ReasonInternal, message, err) }

// ReasonOf classifies any error. Unclassified errors are internal.
func ReasonOf(err error) Reason {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Reason
	}
	return ReasonInternal
}

// MessageOf returns the narration message, hiding details of internal faults.
func MessageOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "Something went wrong on our side. Please try again."
}

// Is reports whether err carries the given reason.
func Is(err error, reason Reason) bool {
	return err != nil && ReasonOf(err) == reason
}
