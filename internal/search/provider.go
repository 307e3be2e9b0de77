package search

import (
	"context"
	"fmt"

	"github.com/conduit-lang/restkit/internal/identifier"
	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/pagination"
	"github.com/conduit-lang/restkit/internal/state"
)

// Searcher is the part of Client used by providers
type Searcher interface {
	Search(ctx context.Context, index string, body map[string]any) (map[string]any, error)
	Get(ctx context.Context, index, id string) (map[string]any, error)
}

// ItemProvider fetches one document by id
type ItemProvider struct {
	client   Searcher
	registry state.ResourceRegistry
}

// NewItemProvider creates an item provider
func NewItemProvider(client Searcher, registry state.ResourceRegistry) *ItemProvider {
	return &ItemProvider{client: client, registry: registry}
}

// Provide implements state.Provider
func (p *ItemProvider) Provide(ctx context.Context, op *metadata.Operation, uriVariables *identifier.Values, _ *state.Context) (any, error) {
	res, ok := p.registry.Resource(op.Class())
	if !ok {
		return nil, state.Runtime("No index for class %q.", op.Class())
	}
	id := documentID(res, uriVariables)
	if id == "" {
		return nil, nil
	}
	doc, err := p.client.Get(ctx, res.IndexName(), id)
	if err != nil || doc == nil {
		return nil, err
	}
	if found, ok := doc["found"].(bool); ok && !found {
		return nil, nil
	}
	return Hydrate(res, doc), nil
}

// documentID joins composite identifiers the way they appear in IRIs
func documentID(res *metadata.Resource, ids *identifier.Values) string {
	if len(res.Identifiers) == 1 {
		if v, ok := ids.Get(res.Identifiers[0]); ok {
			return fmt.Sprint(v)
		}
		if _, v, ok := ids.Clone().TakeLast(); ok {
			return fmt.Sprint(v)
		}
		return ""
	}
	parts := identifier.NewValues()
	for _, name := range res.Identifiers {
		v, ok := ids.Get(name)
		if !ok {
			return ""
		}
		parts.Set(name, v)
	}
	return identifier.Stringify(parts)
}

// CollectionProvider searches the resource index
type CollectionProvider struct {
	client     Searcher
	registry   state.ResourceRegistry
	pagination *pagination.Pagination
}

// NewCollectionProvider creates a collection provider
func NewCollectionProvider(client Searcher, registry state.ResourceRegistry, p *pagination.Pagination) *CollectionProvider {
	return &CollectionProvider{client: client, registry: registry, pagination: p}
}

// Provide implements state.Provider. Results are always paginated, a search
// returning a bounded window of hits.
func (p *CollectionProvider) Provide(ctx context.Context, op *metadata.Operation, uriVariables *identifier.Values, sc *state.Context) (any, error) {
	res, ok := p.registry.Resource(op.Class())
	if !ok {
		return nil, state.Runtime("No index for class %q.", op.Class())
	}

	q := &Query{}
	if err := ApplyLinks(q, p.registry, op.Class(), uriVariables, op, sc); err != nil {
		return nil, err
	}
	var filters *state.Filters
	if sc != nil {
		filters = sc.Filters
	}
	if err := ApplyFilters(q, res, op, filters); err != nil {
		return nil, err
	}
	for _, o := range op.Order() {
		q.Sort(o.Property, o.Direction)
	}

	w, err := p.pagination.Window(op, sc)
	if err != nil {
		return nil, err
	}
	if w.FromEnd {
		counted := *q
		counted.Window(0, 0)
		response, err := p.client.Search(ctx, res.IndexName(), counted.Body())
		if err != nil {
			return nil, err
		}
		page, err := NewPaginator(res, response, 0, 0)
		if err != nil {
			return nil, err
		}
		w.Offset = w.OffsetFor(int(page.TotalItems()))
	}
	q.Window(w.Offset, w.Limit)

	response, err := p.client.Search(ctx, res.IndexName(), q.Body())
	if err != nil {
		return nil, err
	}
	return NewPaginator(res, response, w.Offset, w.Limit)
}

var (
	_ state.Provider = (*ItemProvider)(nil)
	_ state.Provider = (*CollectionProvider)(nil)
	_ Searcher       = (*Client)(nil)
)
