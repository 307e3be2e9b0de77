package provider

import (
	"context"

	"github.com/conduit-lang/restkit/internal/identifier"
	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/state"
)

// LinkedReadProvider reads the resources behind secured URI variables and
// exposes them to link security expressions before the operation is read.
type LinkedReadProvider struct {
	inner    state.Provider
	items    state.Provider
	registry state.ResourceRegistry
}

// NewLinkedReadProvider creates a linked read provider. items loads the
// related resources through their item operation, usually the dispatcher.
func NewLinkedReadProvider(inner, items state.Provider, registry state.ResourceRegistry) *LinkedReadProvider {
	return &LinkedReadProvider{inner: inner, items: items, registry: registry}
}

// Provide implements state.Provider
func (p *LinkedReadProvider) Provide(ctx context.Context, op *metadata.Operation, uriVariables *identifier.Values, sc *state.Context) (any, error) {
	if op.IsGraphQL() {
		return p.inner.Provide(ctx, op, uriVariables, sc)
	}

	for _, link := range op.URIVariables() {
		class := link.TargetClass()
		if link.Security == "" || class == "" || class == op.Class() {
			continue
		}
		related, err := p.read(ctx, class, link, uriVariables, sc)
		if err != nil {
			return nil, err
		}
		if related == nil {
			return nil, state.NotFound("Relation for link security not found.")
		}
		sc.SetLinkedObject(link.SecurityObject(), related)
	}
	return p.inner.Provide(ctx, op, uriVariables, sc)
}

func (p *LinkedReadProvider) read(ctx context.Context, class string, link metadata.Link, uriVariables *identifier.Values, sc *state.Context) (any, error) {
	parent, err := p.registry.ItemOperation(class)
	if err != nil {
		return nil, &state.RuntimeError{Message: "No item operation to read the related " + class, Err: err}
	}
	links := parent.URIVariables()
	if len(links) == 0 {
		return nil, state.Runtime("The item operation of %s has no URI variables", class)
	}
	own := links[len(links)-1]

	ids := identifier.NewValues()
	if value, ok := uriVariables.Get(link.ParameterName); ok {
		ids.Set(own.ParameterName, value)
	} else {
		for _, name := range link.Identifiers {
			if value, ok := uriVariables.Get(name); ok {
				ids.Set(name, value)
			}
		}
	}

	parentContext := sc.Clone()
	parentContext.Operation = parent
	return p.items.Provide(ctx, parent, ids, parentContext)
}
