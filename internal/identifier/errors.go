package identifier

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrInvalidIdentifier matches every InvalidIdentifierError via errors.Is.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// InvalidIdentifierError reports a malformed or untypeable identifier.
type InvalidIdentifierError struct {
	Property string
	Message  string
	Err      error
}

func (e *InvalidIdentifierError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *InvalidIdentifierError) Unwrap() error { return e.Err }

// Is matches ErrInvalidIdentifier.
func (e *InvalidIdentifierError) Is(target error) bool { return target == ErrInvalidIdentifier }

// StatusCode reports the HTTP status for client identifier errors.
func (e *InvalidIdentifierError) StatusCode() int { return http.StatusBadRequest }

func invalid(property, format string, args ...any) *InvalidIdentifierError {
	return &InvalidIdentifierError{Property: property, Message: fmt.Sprintf(format, args...)}
}
