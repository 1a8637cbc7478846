package source

import (
	"errors"
	"fmt"
)

// SourceError wraps errors with source context
type SourceError struct {
	Source    string // Source name (e.g., "testimonials")
	Operation string // Operation that failed (e.g., "fetch")
	Err       error  // Underlying error
}

func (e *SourceError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("source %q %s failed: %v", e.Source, e.Operation, e.Err)
	}
	return fmt.Sprintf("source %q: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// NewSourceError creates a SourceError
func NewSourceError(source, operation string, err error) *SourceError {
	return &SourceError{
		Source:    source,
		Operation: operation,
		Err:       err,
	}
}

// ValidationError represents invalid data or configuration
type ValidationError struct {
	Source string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("source %q: invalid %s: %s", e.Source, e.Field, e.Reason)
	}
	return fmt.Sprintf("source %q: validation failed: %s", e.Source, e.Reason)
}

// UserFriendlyMessage returns a visitor-safe message for content strips.
// Source failures must never leak file paths into rendered pages.
func UserFriendlyMessage(err error) string {
	if err == nil {
		return ""
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return fmt.Sprintf("Invalid data: %s", validationErr.Reason)
	}

	return "Failed to load content. Please try again."
}
