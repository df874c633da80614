package executor

import (
	"errors"
	"fmt"
)

// Kind classifies why an execution did not book.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindAuthExpired Kind = "auth-expired"
	KindTransient   Kind = "transient-network"
	KindTimeout     Kind = "timeout-exceeded"
	KindRejection   Kind = "third-party-rejection"
)

var (
	// ErrDuplicate means the intent was already claimed or finished elsewhere.
	ErrDuplicate       = errors.New("prebooking already handled")
	ErrSessionNotFound = errors.New(ReasonSessionNotFound)
	ErrIntentNotFound  = errors.New("prebooking not found")
)

// Reason values used with KindValidation.
const (
	ReasonMissingField = "missing-field"
	ReasonBadExecuteAt = "bad-execute-at"
	ReasonBadToken     = "invalid-security-token"
	ReasonMismatch     = "payload-mismatch"
)

// ReasonSessionNotFound is the error code recorded when the intent's device
// has no stored session.
const ReasonSessionNotFound = "session-not-found"

type Error struct {
	Kind    Kind
	Reason  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Reason != "" {
		msg += "/" + e.Reason
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func invalid(reason, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Reason: reason, Message: fmt.Sprintf(format, args...)}
}
