package serializer

import (
	"context"
	"net/url"
	"strconv"

	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/model"
	"github.com/conduit-lang/restkit/internal/pagination"
	"github.com/conduit-lang/restkit/internal/state"
)

// CollectionOptions controls the view of paginated collections.
type CollectionOptions struct {
	// PageParameter is the query parameter holding the page number
	PageParameter string
}

// NormalizeCollection renders a collection response: the normalized
// members, the total count when known and, for paginators, a view linking
// the neighbouring pages of requestURL.
func (s *Serializer) NormalizeCollection(ctx context.Context, data any, op *metadata.Operation, requestURL *url.URL, opts CollectionOptions) (map[string]any, error) {
	if opts.PageParameter == "" {
		opts.PageParameter = "page"
	}

	items, err := collectionItems(ctx, data)
	if err != nil {
		return nil, err
	}
	members := make([]any, 0, len(items))
	for _, item := range items {
		normalized, err := s.Normalize(ctx, item, op)
		if err != nil {
			return nil, err
		}
		members = append(members, normalized)
	}

	id := ""
	if requestURL != nil {
		id = requestURL.Path
	} else if iri, err := s.iris.Collection(op.Class()); err == nil {
		id = iri
	}

	out := map[string]any{
		"@id":    id,
		"@type":  "Collection",
		"member": members,
	}

	switch p := data.(type) {
	case pagination.Paginator:
		out["totalItems"] = p.TotalItems()
		if requestURL != nil {
			out["view"] = view(requestURL, opts.PageParameter, p.CurrentPage(), p.LastPage(), p.Count(), p.ItemsPerPage(), true)
		}
	case pagination.PartialPaginator:
		if requestURL != nil {
			out["view"] = view(requestURL, opts.PageParameter, p.CurrentPage(), 0, p.Count(), p.ItemsPerPage(), false)
		}
	default:
		out["totalItems"] = len(members)
	}
	return out, nil
}

func collectionItems(ctx context.Context, data any) ([]any, error) {
	switch v := data.(type) {
	case nil:
		return nil, nil
	case []any:
		return v, nil
	case []*model.Record:
		items := make([]any, len(v))
		for i, r := range v {
			items[i] = r
		}
		return items, nil
	case pagination.PartialPaginator:
		return v.Items(ctx)
	}
	return nil, state.UnexpectedValue("Unable to render a collection of type %q.", model.ClassOf(data))
}

// view links the pages around current. Partial collections have no last
// page; a full page then suggests a next one.
func view(base *url.URL, param string, current, last float64, count int, perPage float64, full bool) map[string]any {
	page := func(n float64) string {
		u := *base
		q := u.Query()
		q.Set(param, strconv.FormatFloat(n, 'f', -1, 64))
		u.RawQuery = q.Encode()
		return u.RequestURI()
	}

	v := map[string]any{
		"@id":   page(current),
		"@type": "PartialCollectionView",
	}
	if full {
		v["first"] = page(1)
		v["last"] = page(last)
	}
	if current > 1 {
		v["previous"] = page(current - 1)
	}
	if (full && current < last) || (!full && perPage > 0 && float64(count) >= perPage) {
		v["next"] = page(current + 1)
	}
	return v
}
