package scheduler

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidDescriptor = errors.New("invalid task descriptor")
	ErrShutdown          = errors.New("scheduler shut down")
	ErrNotRunning        = errors.New("async driver not running")
	ErrAlreadyRunning    = errors.New("async driver already running")
	ErrPanic             = errors.New("task panicked")
)

// ValidationError describes why a descriptor or schedule string was rejected.
// It always matches ErrInvalidDescriptor with errors.Is.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
	Hint   string
}

func NewValidationError(field string, value any, reason string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// WithHint attaches an operator-facing suggestion.
func (e *ValidationError) WithHint(hint string) *ValidationError {
	e.Hint = hint
	return e
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("invalid ")
	b.WriteString(e.Field)
	if e.Value != nil {
		fmt.Fprintf(&b, " %v", e.Value)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Hint != "" {
		b.WriteString(" (")
		b.WriteString(e.Hint)
		b.WriteString(")")
	}
	return b.String()
}

func (e *ValidationError) Unwrap() error { return ErrInvalidDescriptor }

// IsValidationError reports whether err wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
