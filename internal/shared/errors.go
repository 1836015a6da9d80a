package shared

import "errors"

var (
	// ErrInvalidCredentials is returned for an unknown email, a wrong password or an
	// inactive user alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrCSRFTokenMissing   = errors.New("csrf token missing")
	ErrCSRFTokenMismatch  = errors.New("csrf token mismatch")
)
