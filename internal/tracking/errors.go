package tracking

import "errors"

var (
	// ErrValidation marks events rejected before any state changed.
	ErrValidation = errors.New("invalid tracking event")
	// ErrPersistence marks a click that could not be written. The caller may retry.
	ErrPersistence = errors.New("tracking persistence failed")
	// ErrClosed is returned once the pipeline has been shut down.
	ErrClosed = errors.New("tracking pipeline closed")
)

// ValidationError names the offending field of a rejected event.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
