package purchases

import (
	"errors"
	"fmt"
)

// Domain errors for purchases.
var (
	ErrNotFound     = errors.New("purchases: not found")
	ErrInvalidState = errors.New("purchases: invalid state")
	ErrValidation   = errors.New("purchases: validation failed")
	ErrConflict     = errors.New("purchases: conflict")
)

// ValidationError points at the offending request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("purchases: %s: %s", e.Field, e.Message)
}

// Is makes errors.Is(err, ErrValidation) hold.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
