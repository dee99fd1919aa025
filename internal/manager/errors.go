package manager

import (
	"errors"
	"fmt"
)

// Code categorizes manager errors.
type Code string

const (
	// CodeBackend indicates a storage failure on open, transaction or commit.
	CodeBackend Code = "BACKEND"

	// CodePrecondition indicates the manager was used in the wrong state:
	// import before setup, unknown kind, double setup, use after close.
	CodePrecondition Code = "PRECONDITION"
)

// Error is a manager failure. Both codes are recoverable: the caller may
// retry Setup after a backend failure.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Op is the operation that failed ("setup", "import", ...).
	Op string

	// Kind names the entity involved, if any.
	Kind string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Kind != "" {
		return fmt.Sprintf("%s: %s %s: %s", e.Code, e.Op, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Op, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinel errors by code and message so that errors.Is works
// for ErrAlreadySetup and friends after Op/Kind were filled in.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message && t.Op == "" && t.Kind == ""
}

// Sentinel precondition errors. Compare with errors.Is.
var (
	ErrNotSetup      = &Error{Code: CodePrecondition, Message: "manager is not set up"}
	ErrAlreadySetup  = &Error{Code: CodePrecondition, Message: "manager already set up"}
	ErrClosed        = &Error{Code: CodePrecondition, Message: "manager is closed"}
	ErrUnknownKind   = &Error{Code: CodePrecondition, Message: "kind is not registered"}
	ErrKindMismatch  = &Error{Code: CodePrecondition, Message: "kind key path differs from registration"}
	ErrSetupInFlight = &Error{Code: CodePrecondition, Message: "setup already in progress"}
)

// IsBackendError reports whether err is, or wraps, a backend Error.
// Uses errors.As to handle wrapped errors.
func IsBackendError(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == CodeBackend
	}
	return false
}

// IsPreconditionError reports whether err is, or wraps, a precondition Error.
func IsPreconditionError(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == CodePrecondition
	}
	return false
}

func precondition(sentinel *Error, op, kind string) *Error {
	out := *sentinel
	out.Op = op
	out.Kind = kind
	return &out
}

func backendError(op, kind string, err error) *Error {
	return &Error{Code: CodeBackend, Op: op, Kind: kind, Err: err}
}
