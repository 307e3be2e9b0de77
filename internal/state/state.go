// Package state defines the provider and processor contracts of the
// operation pipeline and the request scoped context threaded through them.
//
// Providers read: they turn an operation, its URI variables and a context
// into an item, a collection, a paginator or nil. Processors write: they take
// the denormalized data and persist, remove or publish it. Each decorator
// holds the next stage and is assembled once at startup.
package state

import (
	"context"

	"github.com/conduit-lang/restkit/internal/identifier"
	"github.com/conduit-lang/restkit/internal/metadata"
)

// Provider produces the data of an operation.
type Provider interface {
	Provide(ctx context.Context, op *metadata.Operation, uriVariables *identifier.Values, sc *Context) (any, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, op *metadata.Operation, uriVariables *identifier.Values, sc *Context) (any, error)

// Provide calls f.
func (f ProviderFunc) Provide(ctx context.Context, op *metadata.Operation, uriVariables *identifier.Values, sc *Context) (any, error) {
	return f(ctx, op, uriVariables, sc)
}

// Processor handles the data of a write operation.
type Processor interface {
	Process(ctx context.Context, data any, op *metadata.Operation, uriVariables *identifier.Values, sc *Context) (any, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, data any, op *metadata.Operation, uriVariables *identifier.Values, sc *Context) (any, error)

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, data any, op *metadata.Operation, uriVariables *identifier.Values, sc *Context) (any, error) {
	return f(ctx, data, op, uriVariables, sc)
}

// ResourceRegistry is the metadata lookup used by pipeline stages.
type ResourceRegistry interface {
	Resource(class string) (*metadata.Resource, bool)
	Operation(class, name string) (*metadata.Operation, error)
	ItemOperation(class string) (*metadata.Operation, error)
	FirstGraphQLOperation(class string, kind metadata.Kind) (*metadata.Operation, error)
}

// EmptyCollection is returned by collection operations that produce nothing.
func EmptyCollection() []any { return []any{} }

// FilterParameter describes one query parameter accepted by a collection
// filter, for documentation.
type FilterParameter struct {
	Name     string
	Property string
	Type     metadata.FieldType
	Strategy string
	Multiple bool
}

// FilterDescriber is implemented by filters able to document themselves.
type FilterDescriber interface {
	Describe(res *metadata.Resource) []FilterParameter
}

// Resolver is a custom GraphQL resolver applied to the provided data.
type Resolver interface {
	Resolve(ctx context.Context, data any, sc *Context) (any, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, data any, sc *Context) (any, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, data any, sc *Context) (any, error) {
	return f(ctx, data, sc)
}
