package quotes

import (
	"errors"
	"fmt"
)

// Domain errors for quotes.
var (
	ErrNotFound     = errors.New("quotes: not found")
	ErrInvalidState = errors.New("quotes: invalid state transition")
	ErrValidation   = errors.New("quotes: validation failed")
	ErrConflict     = errors.New("quotes: conflict")
)

// ValidationError points at the offending request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("quotes: %s: %s", e.Field, e.Message)
}

// Is makes errors.Is(err, ErrValidation) hold.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
