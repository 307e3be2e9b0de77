package orm

import (
	"context"

	"github.com/conduit-lang/restkit/internal/identifier"
	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/orm/query"
	"github.com/conduit-lang/restkit/internal/pagination"
	"github.com/conduit-lang/restkit/internal/state"
)

// QueryCollectionExtension modifies collection queries
type QueryCollectionExtension interface {
	ApplyToCollection(ctx context.Context, qb *query.Builder, res *metadata.Resource, op *metadata.Operation, sc *state.Context) error
}

// QueryResultCollectionExtension may produce the collection result itself,
// e.g. a paginator. The first supporting extension wins.
type QueryResultCollectionExtension interface {
	QueryCollectionExtension
	SupportsResult(op *metadata.Operation, sc *state.Context) bool
	GetResult(ctx context.Context, q query.Querier, qb *query.Builder, res *metadata.Resource, op *metadata.Operation, sc *state.Context) (any, error)
}

// QueryItemExtension modifies item queries
type QueryItemExtension interface {
	ApplyToItem(ctx context.Context, qb *query.Builder, res *metadata.Resource, ids *identifier.Values, op *metadata.Operation, sc *state.Context) error
}

// FilterExtension applies the filters named by the operation
type FilterExtension struct {
	registry state.ResourceRegistry
}

// NewFilterExtension creates a filter extension
func NewFilterExtension(registry state.ResourceRegistry) *FilterExtension {
	return &FilterExtension{registry: registry}
}

// ApplyToCollection implements QueryCollectionExtension
func (e *FilterExtension) ApplyToCollection(_ context.Context, qb *query.Builder, res *metadata.Resource, op *metadata.Operation, sc *state.Context) error {
	if sc == nil || sc.Filters == nil || sc.Filters.Len() == 0 {
		return nil
	}
	for _, id := range op.Filters() {
		def, ok := res.Filter(id)
		if !ok {
			return state.Runtime("The filter %q is not declared on %q.", id, res.Class)
		}
		filter, err := NewFilter(def, e.registry)
		if err != nil {
			return &state.RuntimeError{Message: "Invalid filter " + id, Err: err}
		}
		if err := filter.Apply(qb, res, sc.Filters); err != nil {
			return state.InvalidArgument("%s", err.Error())
		}
	}
	return nil
}

// OrderExtension applies the operation's default order, or the identifiers
// ascending when nothing orders the query
type OrderExtension struct{}

// ApplyToCollection implements QueryCollectionExtension
func (OrderExtension) ApplyToCollection(_ context.Context, qb *query.Builder, res *metadata.Resource, op *metadata.Operation, _ *state.Context) error {
	order := op.Order()
	if len(order) == 0 {
		if qb.HasOrderBy() {
			return nil
		}
		for _, id := range res.Identifiers {
			qb.OrderBy(qb.RootAlias()+"."+res.Column(id), "ASC")
		}
		return nil
	}
	for _, o := range order {
		dir := o.Direction
		if dir == "" {
			dir = "ASC"
		}
		qb.OrderBy(qb.RootAlias()+"."+res.Column(o.Property), dir)
	}
	return nil
}

// PaginationExtension applies the request window and returns paginators
type PaginationExtension struct {
	pagination *pagination.Pagination
}

// NewPaginationExtension creates a pagination extension
func NewPaginationExtension(p *pagination.Pagination) *PaginationExtension {
	return &PaginationExtension{pagination: p}
}

// ApplyToCollection implements QueryCollectionExtension
func (e *PaginationExtension) ApplyToCollection(_ context.Context, qb *query.Builder, _ *metadata.Resource, op *metadata.Operation, sc *state.Context) error {
	if !e.pagination.IsEnabled(op, sc) {
		return nil
	}
	w, err := e.pagination.Window(op, sc)
	if err != nil {
		return err
	}
	qb.Limit(w.Limit)
	if !w.FromEnd {
		qb.Offset(w.Offset)
	}
	return nil
}

// SupportsResult implements QueryResultCollectionExtension
func (e *PaginationExtension) SupportsResult(op *metadata.Operation, sc *state.Context) bool {
	return e.pagination.IsEnabled(op, sc)
}

// GetResult implements QueryResultCollectionExtension
func (e *PaginationExtension) GetResult(ctx context.Context, q query.Querier, qb *query.Builder, res *metadata.Resource, op *metadata.Operation, sc *state.Context) (any, error) {
	w, err := e.pagination.Window(op, sc)
	if err != nil {
		return nil, err
	}
	if w.FromEnd {
		total, err := qb.Count(ctx, q)
		if err != nil {
			return nil, ConvertDBError(err)
		}
		qb.Offset(w.OffsetFor(total))
		return newPaginatorWithTotal(ctx, q, qb, res, total)
	}
	if e.pagination.IsPartial(op, sc) {
		return newPartialPaginator(ctx, q, qb, res)
	}
	return NewPaginator(ctx, q, qb, res)
}
