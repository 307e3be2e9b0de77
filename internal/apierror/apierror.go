// Package apierror turns pipeline errors into the error resource rendered to
// HTTP clients and into GraphQL errors.
package apierror

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/vektah/gqlparser/v2/gqlerror"
	"go.uber.org/zap"

	"github.com/conduit-lang/restkit/internal/identifier"
	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/state"
)

// Operation names and classes of the error resource.
const (
	OperationName = "_api_errors"
	Class         = "Error"
	ProviderName  = "api.errors.provider"
)

// ErrorKey and OperationKey are the state.Context Extra keys under which the
// failing error and the requested operation are handed to ErrorProvider.
const (
	ErrorKey     = "_api_error"
	OperationKey = "_api_error_operation"
)

// Error is the error resource, rendered as an RFC 7807 problem.
type Error struct {
	Type       string            `json:"type"`
	Title      string            `json:"title"`
	Status     int               `json:"status"`
	Detail     string            `json:"detail"`
	Violations []state.Violation `json:"violations,omitempty"`
	// Trace lists the wrapped error chain, outermost first. Debug only.
	Trace []string `json:"trace,omitempty"`
}

// ResourceClass implements the class lookup of the pipeline.
func (e *Error) ResourceClass() string { return Class }

// Expose returns the problem document of the error.
func (e *Error) Expose() map[string]any {
	out := map[string]any{
		"type":   e.Type,
		"title":  e.Title,
		"status": e.Status,
		"detail": e.Detail,
	}
	if len(e.Violations) > 0 {
		out["violations"] = e.Violations
	}
	if len(e.Trace) > 0 {
		out["trace"] = e.Trace
	}
	return out
}

// Operation returns the operation serving the error resource.
func Operation() *metadata.Operation {
	return metadata.NewOperation(metadata.KindGet, Class).
		WithName(OperationName).
		WithURITemplate("/errors/{status}").
		WithProvider(ProviderName).
		WithRead(true).
		WithWrite(false).
		WithDeserialize(false).
		WithValidate(false).
		WithExtra("openapi", false)
}

// Status resolves the HTTP status of err. The requested operation's table
// wins over the error operation's, then errors carrying their own status,
// then request errors (400), then the operation's error status, then 500.
func Status(err error, requested, errorOp *metadata.Operation) int {
	for _, op := range []*metadata.Operation{requested, errorOp} {
		if op == nil {
			continue
		}
		for _, entry := range op.ExceptionToStatus() {
			if entry.Err != nil && errors.Is(err, entry.Err) {
				return entry.Status
			}
		}
	}

	var withStatus interface{ StatusCode() int }
	if errors.As(err, &withStatus) {
		return withStatus.StatusCode()
	}
	var request interface{ RequestError() bool }
	if errors.As(err, &request) && request.RequestError() {
		return http.StatusBadRequest
	}
	if requested != nil && requested.Status() >= http.StatusBadRequest {
		return requested.Status()
	}
	return http.StatusInternalServerError
}

// New builds the error resource of err. Details of server errors are hidden
// unless debug is set.
func New(err error, status int, debug bool) *Error {
	out := &Error{
		Type:   "/errors/" + strconv.Itoa(status),
		Title:  title(status),
		Status: status,
		Detail: err.Error(),
	}
	var validation *state.ValidationError
	if errors.As(err, &validation) {
		out.Title = "An error occurred"
		out.Violations = validation.Violations
	}
	if status >= http.StatusInternalServerError && !debug {
		out.Detail = http.StatusText(status)
	}
	if debug {
		out.Trace = trace(err)
	}
	return out
}

// trace unwraps err depth first, joined errors included.
func trace(err error) []string {
	var out []string
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		out = append(out, e.Error())
		switch u := e.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(u.Unwrap())
		}
	}
	walk(err)
	return out
}

func title(status int) string {
	if text := http.StatusText(status); text != "" {
		return text
	}
	return "An error occurred"
}

// ErrorProvider serves the error resource for the error operation: the error
// stored in the context under ErrorKey becomes an *Error.
type ErrorProvider struct {
	errorOp *metadata.Operation
	debug   bool
	logger  *zap.Logger
}

// NewErrorProvider creates the error provider
func NewErrorProvider(debug bool, logger *zap.Logger) *ErrorProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorProvider{errorOp: Operation(), debug: debug, logger: logger}
}

// Provide implements state.Provider
func (p *ErrorProvider) Provide(_ context.Context, _ *metadata.Operation, _ *identifier.Values, sc *state.Context) (any, error) {
	var err error
	var requested *metadata.Operation
	if sc != nil {
		err, _ = sc.Extra[ErrorKey].(error)
		requested, _ = sc.Extra[OperationKey].(*metadata.Operation)
	}
	if err == nil {
		return nil, state.NotFound("No error to render.")
	}

	status := Status(err, requested, p.errorOp)
	if status >= http.StatusInternalServerError {
		p.logger.Error("operation failed", zap.Int("status", status), zap.Error(err))
	} else {
		p.logger.Debug("operation rejected", zap.Int("status", status), zap.Error(err))
	}
	return New(err, status, p.debug), nil
}

// GraphQL converts err to a GraphQL error. Extensions carry the status, a
// category ("user" for client errors, "internal" otherwise) and validation
// violations.
func GraphQL(err error, requested *metadata.Operation, debug bool) *gqlerror.Error {
	var gqlErr *gqlerror.Error
	if errors.As(err, &gqlErr) {
		return gqlErr
	}

	status := Status(err, requested, nil)
	resource := New(err, status, debug)

	category := "internal"
	if status < http.StatusInternalServerError {
		category = "user"
	}
	extensions := map[string]interface{}{
		"status":   status,
		"category": category,
	}
	if len(resource.Violations) > 0 {
		violations := make([]map[string]interface{}, len(resource.Violations))
		for i, v := range resource.Violations {
			violations[i] = map[string]interface{}{"path": v.PropertyPath, "message": v.Message}
		}
		extensions["violations"] = violations
	}

	return &gqlerror.Error{
		Err:        err,
		Message:    resource.Detail,
		Extensions: extensions,
	}
}
