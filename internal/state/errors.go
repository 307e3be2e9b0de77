package state

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/conduit-lang/restkit/internal/identifier"
)

// Sentinel errors matched with errors.Is by the error layer.
var (
	ErrNotFound        = errors.New("not found")
	ErrAccessDenied    = errors.New("access denied")
	ErrRuntime         = errors.New("runtime error")
	ErrValidation      = errors.New("validation failed")
	ErrUnexpectedValue = errors.New("unexpected value")
	ErrInvalidArgument = errors.New("invalid argument")
)

// ErrorKinds maps configuration names to sentinel errors, for
// exceptionToStatus tables declared in YAML.
func ErrorKinds() map[string]error {
	return map[string]error{
		"not_found":          ErrNotFound,
		"access_denied":      ErrAccessDenied,
		"runtime":            ErrRuntime,
		"validation":         ErrValidation,
		"unexpected_value":   ErrUnexpectedValue,
		"invalid_argument":   ErrInvalidArgument,
		"invalid_identifier": identifier.ErrInvalidIdentifier,
	}
}

// NotFoundError is raised when a required item does not exist.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }
func (e *NotFoundError) StatusCode() int { return http.StatusNotFound }

// NotFound creates a NotFoundError.
func NotFound(format string, args ...any) error {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// AccessDeniedError is raised when a security expression denies access.
type AccessDeniedError struct {
	Message string
	Status  int
}

func (e *AccessDeniedError) Error() string { return e.Message }
func (e *AccessDeniedError) Is(target error) bool { return target == ErrAccessDenied }

// StatusCode returns 403 unless the rule declared another status.
func (e *AccessDeniedError) StatusCode() int {
	if e.Status != 0 {
		return e.Status
	}
	return http.StatusForbidden
}

// AccessDenied creates an AccessDeniedError, "Access Denied." when message is empty.
func AccessDenied(message string) error {
	if message == "" {
		message = "Access Denied."
	}
	return &AccessDeniedError{Message: message}
}

// RuntimeError reports a programming or deployment error.
type RuntimeError struct {
	Message string
	Err     error
}

func (e *RuntimeError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *RuntimeError) Unwrap() error { return e.Err }
func (e *RuntimeError) Is(target error) bool { return target == ErrRuntime }

// Runtime creates a RuntimeError.
func Runtime(format string, args ...any) error {
	return &RuntimeError{Message: fmt.Sprintf(format, args...)}
}

// UnexpectedValueError reports malformed client input such as a bad cursor.
type UnexpectedValueError struct {
	Message string
}

func (e *UnexpectedValueError) Error() string { return e.Message }
func (e *UnexpectedValueError) Is(target error) bool { return target == ErrUnexpectedValue }

// RequestError marks the error as caused by the request.
func (e *UnexpectedValueError) RequestError() bool { return true }

// UnexpectedValue creates an UnexpectedValueError.
func UnexpectedValue(format string, args ...any) error {
	return &UnexpectedValueError{Message: fmt.Sprintf(format, args...)}
}

// InvalidArgumentError reports an invalid request parameter.
type InvalidArgumentError struct {
	Message string
}

func (e *InvalidArgumentError) Error() string { return e.Message }
func (e *InvalidArgumentError) Is(target error) bool { return target == ErrInvalidArgument }

// RequestError marks the error as caused by the request.
func (e *InvalidArgumentError) RequestError() bool { return true }

// InvalidArgument creates an InvalidArgumentError.
func InvalidArgument(format string, args ...any) error {
	return &InvalidArgumentError{Message: fmt.Sprintf(format, args...)}
}

// Violation is a constraint failure on one property.
type Violation struct {
	PropertyPath string `json:"propertyPath"`
	Message      string `json:"message"`
	Code         string `json:"code,omitempty"`
}

// ValidationError carries every violation of a validated object.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return "validation failed"
	}
	msg := ""
	for i, v := range e.Violations {
		if i > 0 {
			msg += "\n"
		}
		msg += v.PropertyPath + ": " + v.Message
	}
	return msg
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
func (e *ValidationError) StatusCode() int { return http.StatusUnprocessableEntity }
