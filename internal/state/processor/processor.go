// Package processor holds the decorators of the write path. Each wraps the
// next processor and is composed once at startup:
//
//	Validate -> AccessChecker(post_validate) -> Mercure -> dispatch (persist, remove)
//
// GraphQL resolvers additionally wrap the chain with GraphQLPayloadProcessor
// and SubscriptionProcessor.
package processor

import (
	"context"
	"net/http"

	"github.com/conduit-lang/restkit/internal/identifier"
	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/security"
	"github.com/conduit-lang/restkit/internal/state"
	"github.com/conduit-lang/restkit/internal/state/provider"
)

// IRIGenerator returns the IRI of an item.
type IRIGenerator interface {
	IRI(item any) (string, error)
}

// Normalizer renders an item as published to subscribers.
type Normalizer interface {
	Normalize(ctx context.Context, item any, op *metadata.Operation) (map[string]any, error)
}

// Validator checks data before it is written.
type Validator interface {
	Validate(ctx context.Context, data any, op *metadata.Operation) error
}

// ValidateProcessor validates the data of write operations.
type ValidateProcessor struct {
	inner     state.Processor
	validator Validator
}

// NewValidateProcessor creates a validating processor
func NewValidateProcessor(inner state.Processor, validator Validator) *ValidateProcessor {
	return &ValidateProcessor{inner: inner, validator: validator}
}

// Process implements state.Processor
func (p *ValidateProcessor) Process(ctx context.Context, data any, op *metadata.Operation, uriVariables *identifier.Values, sc *state.Context) (any, error) {
	if data != nil && op.CanValidate() && !isDelete(op) {
		if err := p.validator.Validate(ctx, data, op); err != nil {
			return nil, err
		}
	}
	return p.inner.Process(ctx, data, op, uriVariables, sc)
}

// AccessCheckerProcessor evaluates the post validation security expression
// before anything is written.
type AccessCheckerProcessor struct {
	inner   state.Processor
	checker security.ResourceAccessChecker
}

// NewAccessCheckerProcessor creates a post validation access checker
func NewAccessCheckerProcessor(inner state.Processor, checker security.ResourceAccessChecker) *AccessCheckerProcessor {
	return &AccessCheckerProcessor{inner: inner, checker: checker}
}

// Process implements state.Processor
func (p *AccessCheckerProcessor) Process(ctx context.Context, data any, op *metadata.Operation, uriVariables *identifier.Values, sc *state.Context) (any, error) {
	if sec, ok := op.Security(metadata.SecurityPostValidation); ok {
		if sc == nil {
			sc = &state.Context{}
		}
		if err := provider.Check(ctx, p.checker, sec.Expression, sec.Message, data, sc); err != nil {
			return nil, err
		}
	}
	return p.inner.Process(ctx, data, op, uriVariables, sc)
}

func isDelete(op *metadata.Operation) bool {
	return op.Method() == http.MethodDelete || op.IsDeleteMutation()
}
