package record

import (
	"errors"
	"fmt"

	"github.com/roach88/recstore/internal/payload"
)

// ValidationError reports a structurally required field that is missing or
// malformed. Any ValidationError aborts the whole import batch.
type ValidationError struct {
	Kind    string
	Key     string
	Field   string
	Index   int // position of the payload in its batch, -1 if unknown
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Kind != "" && e.Key != "" && e.Field != "":
		return fmt.Sprintf("VALIDATION: %s[%s].%s: %s", e.Kind, e.Key, e.Field, msg)
	case e.Kind != "" && e.Key != "":
		return fmt.Sprintf("VALIDATION: %s[%s]: %s", e.Kind, e.Key, msg)
	case e.Field != "":
		return fmt.Sprintf("VALIDATION: %s: %s", e.Field, msg)
	}
	return fmt.Sprintf("VALIDATION: %s", msg)
}

// Unwrap returns the underlying cause.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsValidationError reports whether err is, or wraps, a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// NewValidationError creates a field-level ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message, Index: -1}
}

// RequireString returns the string at field or a ValidationError when the
// field is absent, null or not coercible to a string.
func RequireString(p payload.Payload, field string) (string, error) {
	s, ok := p.Lookup(field).AsString()
	if !ok {
		return "", NewValidationError(field, "required string field is missing or malformed")
	}
	return s, nil
}

// RequireInt returns the integer at field or a ValidationError.
func RequireInt(p payload.Payload, field string) (int64, error) {
	n, ok := p.Lookup(field).AsInt()
	if !ok {
		return 0, NewValidationError(field, "required integer field is missing or malformed")
	}
	return n, nil
}
