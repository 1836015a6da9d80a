// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors for domain layer. Domain packages wrap these so a single mapping
// decides the response status.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// FieldErrors carries per-field validation messages.
type FieldErrors map[string]string

func (f FieldErrors) Error() string {
	return ErrValidation.Error()
}

// Unwrap lets errors.Is(err, ErrValidation) match field errors.
func (f FieldErrors) Unwrap() error {
	return ErrValidation
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var fields FieldErrors
	switch {
	case errors.As(err, &fields):
		JSON(w, http.StatusUnprocessableEntity, ProblemDetail{
			Title:  "Validation Failed",
			Status: http.StatusUnprocessableEntity,
			Code:   "validation_failed",
			Errors: fields,
		})
	case errors.Is(err, ErrValidation):
		problem(w, http.StatusBadRequest, "Validation Failed", "validation_failed", err.Error())
	case errors.Is(err, ErrNotFound):
		problem(w, http.StatusNotFound, "Not Found", "not_found", err.Error())
	case errors.Is(err, ErrInvalidState):
		problem(w, http.StatusConflict, "Invalid State", "invalid_state", err.Error())
	case errors.Is(err, ErrConflict):
		problem(w, http.StatusConflict, "Conflict", "conflict", err.Error())
	case errors.Is(err, ErrForbidden):
		problem(w, http.StatusForbidden, "Forbidden", "forbidden", err.Error())
	case errors.Is(err, ErrUnauthorized):
		problem(w, http.StatusUnauthorized, "Unauthorized", "unauthorized", err.Error())
	default:
		problem(w, http.StatusInternalServerError, "Internal Error", "internal", "")
	}
}
