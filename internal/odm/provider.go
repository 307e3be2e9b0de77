package odm

import (
	"context"
	"net/http"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/conduit-lang/restkit/internal/identifier"
	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/model"
	"github.com/conduit-lang/restkit/internal/pagination"
	"github.com/conduit-lang/restkit/internal/state"
)

// ItemProvider loads one document through the operation links
type ItemProvider struct {
	manager *Manager
	links   *LinksHandler
}

// NewItemProvider creates an item provider
func NewItemProvider(manager *Manager) *ItemProvider {
	return &ItemProvider{manager: manager, links: NewLinksHandler(manager)}
}

// Provide implements state.Provider
func (p *ItemProvider) Provide(ctx context.Context, op *metadata.Operation, uriVariables *identifier.Values, sc *state.Context) (any, error) {
	res, err := p.manager.Resource(op.Class())
	if err != nil {
		return nil, err
	}
	pipeline, err := p.links.Apply(ctx, op.Class(), uriVariables, op, sc)
	if err != nil {
		return nil, err
	}
	pipeline = append(pipeline, bson.D{{Key: "$limit", Value: 1}})

	docs, err := p.manager.Aggregate(ctx, res, pipeline)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return Hydrate(res, docs[0]), nil
}

// CollectionProvider loads documents through the links and extensions
type CollectionProvider struct {
	manager    *Manager
	links      *LinksHandler
	extensions []AggregationCollectionExtension
}

// NewCollectionProvider creates a collection provider
func NewCollectionProvider(manager *Manager, extensions ...AggregationCollectionExtension) *CollectionProvider {
	return &CollectionProvider{manager: manager, links: NewLinksHandler(manager), extensions: extensions}
}

// DefaultCollectionExtensions returns the order and pagination extensions
func DefaultCollectionExtensions(p *pagination.Pagination) []AggregationCollectionExtension {
	return []AggregationCollectionExtension{OrderExtension{}, NewPaginationExtension(p)}
}

// Provide implements state.Provider
func (p *CollectionProvider) Provide(ctx context.Context, op *metadata.Operation, uriVariables *identifier.Values, sc *state.Context) (any, error) {
	res, err := p.manager.Resource(op.Class())
	if err != nil {
		return nil, err
	}
	pipeline, err := p.links.Apply(ctx, op.Class(), uriVariables, op, sc)
	if err != nil {
		return nil, err
	}

	for _, ext := range p.extensions {
		if pipeline, err = ext.ApplyToCollection(ctx, pipeline, res, op, sc); err != nil {
			return nil, err
		}
		if rx, ok := ext.(AggregationResultCollectionExtension); ok && rx.SupportsResult(op, sc) {
			return rx.GetResult(ctx, p.manager, pipeline, res, op, sc)
		}
	}

	docs, err := p.manager.Aggregate(ctx, res, pipeline)
	if err != nil {
		return nil, err
	}
	items := make([]any, len(docs))
	for i, doc := range docs {
		items[i] = Hydrate(res, doc)
	}
	return items, nil
}

// PersistProcessor saves documents
type PersistProcessor struct {
	manager *Manager
}

// NewPersistProcessor creates a persist processor
func NewPersistProcessor(manager *Manager) *PersistProcessor {
	return &PersistProcessor{manager: manager}
}

// Process implements state.Processor. A standard PUT keeps the previous
// identifier.
func (p *PersistProcessor) Process(ctx context.Context, data any, op *metadata.Operation, _ *identifier.Values, sc *state.Context) (any, error) {
	rec, ok := data.(*model.Record)
	if !ok || rec == nil {
		return data, nil
	}
	if op.Method() == http.MethodPut && op.StandardPut() && sc != nil {
		if previous, ok := sc.PreviousData.(*model.Record); ok && previous != nil && previous.Exists() {
			res, err := p.manager.Resource(rec.ResourceClass())
			if err != nil {
				return nil, err
			}
			for _, id := range res.Identifiers {
				rec.Set(id, previous.Get(id))
			}
			rec.SetExists(true)
		}
	}
	if err := p.manager.Persist(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// RemoveProcessor deletes documents and returns nil
type RemoveProcessor struct {
	manager *Manager
}

// NewRemoveProcessor creates a remove processor
func NewRemoveProcessor(manager *Manager) *RemoveProcessor {
	return &RemoveProcessor{manager: manager}
}

// Process implements state.Processor
func (p *RemoveProcessor) Process(ctx context.Context, data any, _ *metadata.Operation, _ *identifier.Values, _ *state.Context) (any, error) {
	if rec, ok := data.(*model.Record); ok && rec != nil {
		if err := p.manager.Remove(ctx, rec); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

var (
	_ state.Provider  = (*ItemProvider)(nil)
	_ state.Provider  = (*CollectionProvider)(nil)
	_ state.Processor = (*PersistProcessor)(nil)
	_ state.Processor = (*RemoveProcessor)(nil)
)
