package domain

import "errors"

// ErrNotFound signals an unknown or unreachable user account.
var ErrNotFound = errors.New("not found")

// ValidationError rejects a request before anything is persisted.
type ValidationError struct {
	Reason string
}

func NewValidationError(reason string) *ValidationError {
	return &ValidationError{Reason: reason}
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// IsValidation reports whether err is a ValidationError anywhere in its chain.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
