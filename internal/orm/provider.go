package orm

import (
	"context"

	"github.com/conduit-lang/restkit/internal/identifier"
	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/model"
	"github.com/conduit-lang/restkit/internal/pagination"
	"github.com/conduit-lang/restkit/internal/state"
)

// ItemProvider loads one record through the operation links
type ItemProvider struct {
	manager    *Manager
	links      *LinksHandler
	eager      *EagerLoader
	extensions []QueryItemExtension
}

// NewItemProvider creates an item provider
func NewItemProvider(manager *Manager, extensions ...QueryItemExtension) *ItemProvider {
	return &ItemProvider{
		manager:    manager,
		links:      NewLinksHandler(manager.Registry()),
		eager:      NewEagerLoader(manager.Registry(), 0),
		extensions: extensions,
	}
}

// Provide implements state.Provider. A missing row gives nil. When data
// fetching is disabled and every identifier is known, a reference is
// returned without querying.
func (p *ItemProvider) Provide(ctx context.Context, op *metadata.Operation, uriVariables *identifier.Values, sc *state.Context) (any, error) {
	qb, res, err := p.manager.CreateQueryBuilder(op.Class())
	if err != nil {
		return nil, err
	}

	if !sc.ShouldFetchData() {
		if ref := reference(res, uriVariables); ref != nil {
			return ref, nil
		}
	}

	if err := p.links.Apply(qb, op.Class(), uriVariables, op, sc); err != nil {
		return nil, err
	}
	for _, ext := range p.extensions {
		if err := ext.ApplyToItem(ctx, qb, res, uriVariables, op, sc); err != nil {
			return nil, err
		}
	}

	row, err := qb.OneOrNull(ctx, p.manager.DB())
	if err != nil {
		return nil, ConvertDBError(err)
	}
	if row == nil {
		return nil, nil
	}
	rec := Hydrate(res, row)
	if err := p.eager.Load(ctx, p.manager.DB(), []*model.Record{rec}, res, Includes(op)); err != nil {
		return nil, err
	}
	return rec, nil
}

func reference(res *metadata.Resource, ids *identifier.Values) *model.Record {
	if ids.Len() == 0 {
		return nil
	}
	attrs := make(map[string]any, len(res.Identifiers))
	for _, name := range res.Identifiers {
		v, ok := ids.Get(name)
		if !ok {
			return nil
		}
		attrs[name] = v
	}
	return model.Reference(res.Class, attrs)
}

// CollectionProvider loads records through the operation links and the
// collection extensions
type CollectionProvider struct {
	manager    *Manager
	links      *LinksHandler
	eager      *EagerLoader
	extensions []QueryCollectionExtension
}

// NewCollectionProvider creates a collection provider. Extensions apply in
// order; the first result extension supporting the operation produces the
// result.
func NewCollectionProvider(manager *Manager, extensions ...QueryCollectionExtension) *CollectionProvider {
	return &CollectionProvider{
		manager:    manager,
		links:      NewLinksHandler(manager.Registry()),
		eager:      NewEagerLoader(manager.Registry(), 0),
		extensions: extensions,
	}
}

// DefaultCollectionExtensions returns the filter, order and pagination
// extensions
func DefaultCollectionExtensions(registry state.ResourceRegistry, p *pagination.Pagination) []QueryCollectionExtension {
	return []QueryCollectionExtension{
		NewFilterExtension(registry),
		OrderExtension{},
		NewPaginationExtension(p),
	}
}

// Provide implements state.Provider
func (p *CollectionProvider) Provide(ctx context.Context, op *metadata.Operation, uriVariables *identifier.Values, sc *state.Context) (any, error) {
	qb, res, err := p.manager.CreateQueryBuilder(op.Class())
	if err != nil {
		return nil, err
	}
	if err := p.links.Apply(qb, op.Class(), uriVariables, op, sc); err != nil {
		return nil, err
	}

	db := p.manager.DB()
	for _, ext := range p.extensions {
		if err := ext.ApplyToCollection(ctx, qb, res, op, sc); err != nil {
			return nil, err
		}
		rx, ok := ext.(QueryResultCollectionExtension)
		if !ok || !rx.SupportsResult(op, sc) {
			continue
		}
		result, err := rx.GetResult(ctx, db, qb, res, op, sc)
		if err != nil {
			return nil, err
		}
		if page, ok := result.(pagination.PartialPaginator); ok {
			items, err := page.Items(ctx)
			if err != nil {
				return nil, err
			}
			if err := p.eager.Load(ctx, db, recordsOf(items), res, Includes(op)); err != nil {
				return nil, err
			}
		}
		return result, nil
	}

	rows, err := qb.All(ctx, db)
	if err != nil {
		return nil, ConvertDBError(err)
	}
	items := make([]any, len(rows))
	records := make([]*model.Record, len(rows))
	for i, row := range rows {
		records[i] = Hydrate(res, row)
		items[i] = records[i]
	}
	if err := p.eager.Load(ctx, db, records, res, Includes(op)); err != nil {
		return nil, err
	}
	return items, nil
}

var (
	_ state.Provider = (*ItemProvider)(nil)
	_ state.Provider = (*CollectionProvider)(nil)
)
