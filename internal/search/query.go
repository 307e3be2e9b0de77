package search

import (
	"fmt"
	"sort"
	"strings"

	"github.com/conduit-lang/restkit/internal/identifier"
	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/state"
)

// Query is a search request body under construction
type Query struct {
	must []map[string]any
	sort []map[string]any
	from int
	size *int
}

// Term adds an exact match on field
func (q *Query) Term(field string, value any) {
	q.must = append(q.must, map[string]any{"term": map[string]any{field: value}})
}

// Match adds a full text match on field
func (q *Query) Match(field string, value any) {
	q.must = append(q.must, map[string]any{"match": map[string]any{field: value}})
}

// Sort adds a sort clause
func (q *Query) Sort(field, direction string) {
	q.sort = append(q.sort, map[string]any{field: map[string]any{"order": strings.ToLower(direction)}})
}

// HasSort reports whether a sort clause is set
func (q *Query) HasSort() bool { return len(q.sort) > 0 }

// Window sets from and size
func (q *Query) Window(from, size int) {
	q.from = from
	q.size = &size
}

// Body renders the request body
func (q *Query) Body() map[string]any {
	body := map[string]any{}
	if len(q.must) == 0 {
		body["query"] = map[string]any{"match_all": map[string]any{}}
	} else {
		must := make([]any, len(q.must))
		for i, m := range q.must {
			must[i] = m
		}
		body["query"] = map[string]any{"bool": map[string]any{"must": must}}
	}
	if len(q.sort) > 0 {
		s := make([]any, len(q.sort))
		for i, m := range q.sort {
			s[i] = m
		}
		body["sort"] = s
	}
	if q.size != nil {
		body["from"] = q.from
		body["size"] = *q.size
	}
	return body
}

// ApplyLinks constrains q with the operation links. Identifiers of the
// resource itself match "_id"; toProperty links match the identifier of the
// embedded relation. fromProperty links cannot be expressed on one index.
func ApplyLinks(q *Query, registry state.ResourceRegistry, resourceClass string, ids *identifier.Values, op *metadata.Operation, sc *state.Context) error {
	if ids.Len() == 0 {
		return nil
	}
	links, err := state.ResolveLinks(registry, resourceClass, op, sc)
	if err != nil {
		return err
	}
	ids = ids.Clone()
	for _, link := range links {
		if link.ExpandedValue != "" || link.FromClass == "" {
			continue
		}
		if link.FromProperty != "" && link.ToProperty == "" {
			return state.Runtime("The link %q of %q cannot be resolved on a search index.", link.ParameterName, resourceClass)
		}
		identifiers := link.Identifiers
		if len(identifiers) == 0 {
			identifiers = []string{"id"}
		}
		for _, name := range identifiers {
			v, _ := state.IdentifierValue(ids, link, name)
			switch {
			case link.ToProperty != "":
				q.Term(link.ToProperty+"."+name, v)
			case link.FromClass == resourceClass && len(identifiers) == 1:
				q.Term("_id", fmt.Sprint(v))
			default:
				q.Term(name, v)
			}
		}
	}
	return nil
}

// ApplyFilters adds the declared search and order filters of the operation:
// exact properties become term queries, other strategies match queries.
func ApplyFilters(q *Query, res *metadata.Resource, op *metadata.Operation, filters *state.Filters) error {
	if filters == nil || filters.Len() == 0 {
		return nil
	}
	for _, id := range op.Filters() {
		def, ok := res.Filter(id)
		if !ok {
			return state.Runtime("The filter %q is not declared on %q.", id, res.Class)
		}
		properties := make([]string, 0, len(def.Properties))
		for p := range def.Properties {
			properties = append(properties, p)
		}
		sort.Strings(properties)

		switch def.Type {
		case metadata.FilterSearch:
			for _, p := range properties {
				v, ok := filters.Get(p)
				if !ok || v == nil {
					continue
				}
				if def.Properties[p] == "" || def.Properties[p] == "exact" {
					q.Term(p, v)
				} else {
					q.Match(p, v)
				}
			}
		case metadata.FilterOrder:
			raw, _ := filters.Get("order")
			requested, _ := raw.(map[string]any)
			for _, p := range properties {
				dir := strings.ToLower(fmt.Sprint(requested[p]))
				if _, asked := requested[p]; !asked {
					continue
				}
				if dir != "asc" && dir != "desc" {
					dir = strings.ToLower(def.Properties[p])
				}
				if dir == "asc" || dir == "desc" {
					q.Sort(p, dir)
				}
			}
		}
	}
	return nil
}
