package odm

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/pagination"
	"github.com/conduit-lang/restkit/internal/state"
)

// AggregationCollectionExtension appends stages to collection pipelines
type AggregationCollectionExtension interface {
	ApplyToCollection(ctx context.Context, pipeline mongo.Pipeline, res *metadata.Resource, op *metadata.Operation, sc *state.Context) (mongo.Pipeline, error)
}

// AggregationResultCollectionExtension may produce the collection result
type AggregationResultCollectionExtension interface {
	AggregationCollectionExtension
	SupportsResult(op *metadata.Operation, sc *state.Context) bool
	GetResult(ctx context.Context, m *Manager, pipeline mongo.Pipeline, res *metadata.Resource, op *metadata.Operation, sc *state.Context) (any, error)
}

// OrderExtension sorts by the operation's default order, or by _id
type OrderExtension struct{}

// ApplyToCollection implements AggregationCollectionExtension
func (OrderExtension) ApplyToCollection(_ context.Context, pipeline mongo.Pipeline, res *metadata.Resource, op *metadata.Operation, _ *state.Context) (mongo.Pipeline, error) {
	sort := bson.D{}
	for _, o := range op.Order() {
		dir := 1
		if o.Direction == "desc" || o.Direction == "DESC" {
			dir = -1
		}
		sort = append(sort, bson.E{Key: fieldName(res, o.Property), Value: dir})
	}
	if len(sort) == 0 {
		sort = append(sort, bson.E{Key: IDField, Value: 1})
	}
	return append(pipeline, bson.D{{Key: "$sort", Value: sort}}), nil
}

// PaginationExtension ends the pipeline with a $facet stage holding the page
// and the total count
type PaginationExtension struct {
	pagination *pagination.Pagination
}

// NewPaginationExtension creates a pagination extension
func NewPaginationExtension(p *pagination.Pagination) *PaginationExtension {
	return &PaginationExtension{pagination: p}
}

// ApplyToCollection implements AggregationCollectionExtension. Windows counted
// from the end are resolved in GetResult.
func (e *PaginationExtension) ApplyToCollection(_ context.Context, pipeline mongo.Pipeline, _ *metadata.Resource, op *metadata.Operation, sc *state.Context) (mongo.Pipeline, error) {
	if !e.pagination.IsEnabled(op, sc) {
		return pipeline, nil
	}
	w, err := e.pagination.Window(op, sc)
	if err != nil {
		return nil, err
	}
	if w.FromEnd {
		return pipeline, nil
	}
	return append(pipeline, facetStage(w.Offset, w.Limit)), nil
}

// SupportsResult implements AggregationResultCollectionExtension
func (e *PaginationExtension) SupportsResult(op *metadata.Operation, sc *state.Context) bool {
	return e.pagination.IsEnabled(op, sc)
}

// GetResult implements AggregationResultCollectionExtension
func (e *PaginationExtension) GetResult(ctx context.Context, m *Manager, pipeline mongo.Pipeline, res *metadata.Resource, op *metadata.Operation, sc *state.Context) (any, error) {
	w, err := e.pagination.Window(op, sc)
	if err != nil {
		return nil, err
	}
	if w.FromEnd {
		countDocs, err := m.Aggregate(ctx, res, append(append(mongo.Pipeline{}, pipeline...), bson.D{{Key: "$count", Value: "count"}}))
		if err != nil {
			return nil, err
		}
		total := 0
		if len(countDocs) > 0 {
			total = toInt(countDocs[0]["count"])
		}
		pipeline = append(pipeline, facetStage(w.OffsetFor(total), w.Limit))
	}

	docs, err := m.Aggregate(ctx, res, pipeline)
	if err != nil {
		return nil, err
	}
	return NewPaginator(res, pipeline, docs)
}

func facetStage(offset, limit int) bson.D {
	results := bson.A{bson.D{{Key: "$skip", Value: offset}}}
	if limit == 0 {
		results = append(results, bson.D{{Key: "$match", Value: bson.D{{Key: limitZeroMarkerField, Value: limitZeroMarker}}}})
	} else {
		results = append(results, bson.D{{Key: "$limit", Value: limit}})
	}
	return bson.D{{Key: "$facet", Value: bson.D{
		{Key: "results", Value: results},
		{Key: "count", Value: bson.A{bson.D{{Key: "$count", Value: "count"}}}},
	}}}
}
