package utils

import (
	"errors"
	"fmt"
)

// ErrorWithSuggestion wraps an error with a user-friendly suggestion.
type ErrorWithSuggestion struct {
	Err        error
	Suggestion string
}

// Error implements the error interface.
func (e *ErrorWithSuggestion) Error() string {
	return fmt.Sprintf("%s\n\nSuggestion: %s", e.Err.Error(), e.Suggestion)
}

// GetSuggestion returns the suggestion text.
func (e *ErrorWithSuggestion) GetSuggestion() string {
	return e.Suggestion
}

// Unwrap returns the underlying error for error chain support.
func (e *ErrorWithSuggestion) Unwrap() error {
	return e.Err
}

// WrapWithSuggestion wraps an existing error with a suggestion.
func WrapWithSuggestion(err error, suggestion string) error {
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: suggestion,
	}
}

// ErrDataFileUnavailable is returned when no data file could be read or created.
func ErrDataFileUnavailable(path string, cause error) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("no usable data file at %s: %w", path, cause),
		Suggestion: "Check that the data directory exists and is writable, or set data_path in your config file",
	}
}

// ErrBackendNotConfigured returns an error when a backend is not configured.
func ErrBackendNotConfigured(id string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("backend not configured: %s", id),
		Suggestion: fmt.Sprintf("Add a backend with id %q under 'backends' in your config file", id),
	}
}

// ErrUnknownBackendType returns an error for a backend type nothing registered.
func ErrUnknownBackendType(typ string, known []string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("unknown backend type: %s", typ),
		Suggestion: fmt.Sprintf("Valid types: %v", known),
	}
}

// ErrInvalidDays returns an error for a day count below min.
func ErrInvalidDays(days, min int) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid number of days: %d", days),
		Suggestion: fmt.Sprintf("Use a value of %d or more", min),
	}
}

// ErrNoBackends returns an error when sync is requested but none are configured.
func ErrNoBackends() error {
	return &ErrorWithSuggestion{
		Err:        errors.New("no backends configured"),
		Suggestion: "Add at least one entry under 'backends' in your config file",
	}
}
