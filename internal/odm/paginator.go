package odm

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/pagination"
	"github.com/conduit-lang/restkit/internal/state"
)

// A $limit stage cannot be 0: an impossible match marks empty pages.
const (
	limitZeroMarkerField = "___"
	limitZeroMarker      = "__limit_zero__"
)

// Paginator reads a page from the result of a pipeline ending with a $facet
// stage holding "results" and "count" facets
type Paginator struct {
	items       []any
	firstResult int
	maxResults  int
	totalItems  int
}

// NewPaginator reads the window from the $facet stage of pipeline and the
// page from its first result document
func NewPaginator(res *metadata.Resource, pipeline mongo.Pipeline, docs []bson.M) (*Paginator, error) {
	facet, err := facetInfo(pipeline, "results")
	if err != nil {
		return nil, err
	}

	p := &Paginator{}
	if p.firstResult, err = stageInfo(facet, "$skip"); err != nil {
		return nil, err
	}
	if hasLimitZeroStage(facet) {
		p.maxResults = 0
	} else if p.maxResults, err = stageInfo(facet, "$limit"); err != nil {
		return nil, err
	}

	if _, err := facetInfo(pipeline, "count"); err != nil {
		return nil, err
	}

	if len(docs) == 0 {
		return p, nil
	}
	for _, key := range []string{"results", "count"} {
		if _, ok := docs[0][key]; !ok {
			return nil, state.Runtime("%q field was not found in the result of the aggregation pipeline.", key)
		}
	}
	for _, doc := range asArray(docs[0]["results"]) {
		if m, ok := doc.(bson.M); ok {
			p.items = append(p.items, Hydrate(res, m))
		}
	}
	if counts := asArray(docs[0]["count"]); len(counts) > 0 {
		if m, ok := counts[0].(bson.M); ok {
			p.totalItems = toInt(m["count"])
		}
	}
	return p, nil
}

func (p *Paginator) Count() int { return len(p.items) }
func (p *Paginator) TotalItems() float64 { return float64(p.totalItems) }
func (p *Paginator) ItemsPerPage() float64 { return float64(p.maxResults) }
func (p *Paginator) CurrentPage() float64 { return pagination.CurrentPage(p.firstResult, p.maxResults) }
func (p *Paginator) LastPage() float64 { return pagination.LastPage(float64(p.totalItems), p.maxResults) }

// Items implements pagination.PartialPaginator
func (p *Paginator) Items(context.Context) ([]any, error) { return p.items, nil }

func facetInfo(pipeline mongo.Pipeline, field string) (bson.A, error) {
	for _, stage := range pipeline {
		for _, e := range stage {
			if e.Key != "$facet" {
				continue
			}
			facets, ok := e.Value.(bson.D)
			if !ok {
				break
			}
			for _, f := range facets {
				if f.Key == field {
					if stages, ok := f.Value.(bson.A); ok {
						return stages, nil
					}
				}
			}
			return nil, state.Runtime("%q facet was not applied to the aggregation pipeline.", field)
		}
	}
	return nil, state.Runtime("\"$facet\" stage was not applied to the aggregation pipeline.")
}

func stageInfo(stages bson.A, name string) (int, error) {
	for _, s := range stages {
		stage, ok := s.(bson.D)
		if !ok {
			continue
		}
		for _, e := range stage {
			if e.Key == name {
				return toInt(e.Value), nil
			}
		}
	}
	return 0, state.Runtime("%q stage was not applied to the facet stage of the aggregation pipeline.", name)
}

func hasLimitZeroStage(stages bson.A) bool {
	for _, s := range stages {
		stage, ok := s.(bson.D)
		if !ok {
			continue
		}
		for _, e := range stage {
			if e.Key != "$match" {
				continue
			}
			if m, ok := e.Value.(bson.D); ok && len(m) == 1 && m[0].Key == limitZeroMarkerField && m[0].Value == limitZeroMarker {
				return true
			}
		}
	}
	return false
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

var _ pagination.Paginator = (*Paginator)(nil)
