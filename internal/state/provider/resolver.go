package provider

import (
	"context"
	"sort"

	"github.com/conduit-lang/restkit/internal/identifier"
	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/model"
	"github.com/conduit-lang/restkit/internal/state"
)

// ResolverLocator finds GraphQL resolvers by service name.
type ResolverLocator interface {
	Resolver(name string) (state.Resolver, bool)
}

// ResolverProvider applies the custom resolver named by a GraphQL operation
// to the provided data.
type ResolverProvider struct {
	inner     state.Provider
	resolvers ResolverLocator
}

// NewResolverProvider creates a resolver provider
func NewResolverProvider(inner state.Provider, resolvers ResolverLocator) *ResolverProvider {
	return &ResolverProvider{inner: inner, resolvers: resolvers}
}

// Provide implements state.Provider
func (p *ResolverProvider) Provide(ctx context.Context, op *metadata.Operation, uriVariables *identifier.Values, sc *state.Context) (any, error) {
	data, err := p.inner.Provide(ctx, op, uriVariables, sc)
	if err != nil {
		return nil, err
	}
	name := op.Resolver()
	if name == "" {
		return data, nil
	}

	resolver, ok := p.resolvers.Resolver(name)
	if !ok {
		return nil, state.Runtime("Resolver %q not found on operation %q", name, op.Name())
	}
	data, err = resolver.Resolve(ctx, data, sc)
	if err != nil {
		return nil, err
	}

	if op.IsCollection() || data == nil {
		return data, nil
	}
	if class := model.ClassOf(data); class != op.Output() {
		return nil, state.UnexpectedValue("Resolver only handles items of class %s but retrieved item is of class %s.", op.Output(), class)
	}
	return data, nil
}

// SplitProvider sends GraphQL operations to one provider and every other
// operation to another.
type SplitProvider struct {
	graphql state.Provider
	http    state.Provider
}

// NewSplitProvider creates a split provider
func NewSplitProvider(graphql, http state.Provider) *SplitProvider {
	return &SplitProvider{graphql: graphql, http: http}
}

// Provide implements state.Provider
func (p *SplitProvider) Provide(ctx context.Context, op *metadata.Operation, uriVariables *identifier.Values, sc *state.Context) (any, error) {
	if op.IsGraphQL() {
		return p.graphql.Provide(ctx, op, uriVariables, sc)
	}
	return p.http.Provide(ctx, op, uriVariables, sc)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
