package search

import (
	"context"

	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/model"
	"github.com/conduit-lang/restkit/internal/pagination"
	"github.com/conduit-lang/restkit/internal/state"
)

// Paginator is a page of search hits
type Paginator struct {
	items      []any
	totalItems float64
	offset     int
	limit      int
}

// NewPaginator reads hits.total and hits.hits from a search response
func NewPaginator(res *metadata.Resource, response map[string]any, offset, limit int) (*Paginator, error) {
	hits, ok := response["hits"].(map[string]any)
	if !ok {
		return nil, state.Runtime("The search response has no \"hits\" field.")
	}

	var total float64
	switch t := hits["total"].(type) {
	case float64:
		total = t
	case map[string]any:
		v, ok := t["value"].(float64)
		if !ok {
			return nil, state.Runtime("The search response has no \"hits.total.value\" field.")
		}
		total = v
	default:
		return nil, state.Runtime("The search response has no \"hits.total\" field.")
	}

	list, ok := hits["hits"].([]any)
	if !ok {
		return nil, state.Runtime("The search response has no \"hits.hits\" field.")
	}
	items := make([]any, 0, len(list))
	for _, h := range list {
		hit, ok := h.(map[string]any)
		if !ok {
			continue
		}
		items = append(items, Hydrate(res, hit))
	}
	return &Paginator{items: items, totalItems: total, offset: offset, limit: limit}, nil
}

func (p *Paginator) Count() int { return len(p.items) }
func (p *Paginator) TotalItems() float64 { return p.totalItems }
func (p *Paginator) ItemsPerPage() float64 { return float64(p.limit) }
func (p *Paginator) CurrentPage() float64 { return pagination.CurrentPage(p.offset, p.limit) }
func (p *Paginator) LastPage() float64 { return pagination.LastPage(p.totalItems, p.limit) }

// Items implements pagination.PartialPaginator
func (p *Paginator) Items(context.Context) ([]any, error) { return p.items, nil }

// Hydrate builds a record from a hit or a document: _source holds the
// attributes and _id the identifier.
func Hydrate(res *metadata.Resource, hit map[string]any) *model.Record {
	attrs := make(map[string]any)
	if source, ok := hit["_source"].(map[string]any); ok {
		for k, v := range source {
			attrs[k] = v
		}
	}
	if id, ok := hit["_id"]; ok && len(res.Identifiers) == 1 {
		if _, set := attrs[res.Identifiers[0]]; !set {
			attrs[res.Identifiers[0]] = id
		}
	}
	return model.Hydrate(res.Class, attrs)
}

var _ pagination.Paginator = (*Paginator)(nil)
