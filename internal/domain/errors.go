package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every layer. Concrete errors wrap one of these so
// callers can classify with errors.Is.
var (
	// ErrAuthenticity marks an inbound delivery whose signature or timestamp
	// could not be verified.
	ErrAuthenticity = errors.New("authenticity check failed")

	// ErrNotFound marks a missing resource, or one not owned by the caller.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks a write that would violate a uniqueness rule.
	ErrConflict = errors.New("conflict")

	// ErrDownstream marks a failed call to a platform API.
	ErrDownstream = errors.New("downstream platform error")

	// ErrValidation marks a malformed request or payload.
	ErrValidation = errors.New("validation failed")
)

// DownstreamError describes a failed platform call.
type DownstreamError struct {
	Platform Platform
	Op       string
	Err      error
}

func (e *DownstreamError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Platform, e.Op, e.Err)
}

// Unwrap exposes both the taxonomy sentinel and the underlying cause.
func (e *DownstreamError) Unwrap() []error { return []error{ErrDownstream, e.Err} }

// Downstream wraps err as a DownstreamError. A nil err stays nil.
func Downstream(p Platform, op string, err error) error {
	if err == nil {
		return nil
	}
	return &DownstreamError{Platform: p, Op: op, Err: err}
}

// Validationf builds an ErrValidation-wrapped error with a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
