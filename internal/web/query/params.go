// Package query parses request query strings into collection filters.
package query

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/conduit-lang/restkit/internal/state"
)

// keyPattern splits a bracketed key like order[author.name] or tags[]
var keyPattern = regexp.MustCompile(`^([^\[\]]+)((?:\[[^\[\]]*\])*)$`)

var segmentPattern = regexp.MustCompile(`\[([^\[\]]*)\]`)

// ParseFilters parses the query string of r into filters. Parameters keep
// the order in which they appear. Bracketed keys nest, as in
// order[title]=asc or price[between]=1..9; an empty bracket appends to a
// list, as in tags[]=a&tags[]=b. A repeated plain key keeps the last value.
func ParseFilters(r *http.Request) (*state.Filters, error) {
	return Parse(r.URL.RawQuery)
}

// Parse parses a raw query string, see ParseFilters.
func Parse(rawQuery string) (*state.Filters, error) {
	filters := state.NewFilters()
	if rawQuery == "" {
		return filters, nil
	}

	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return nil, state.UnexpectedValue("Invalid query parameter %q.", rawKey)
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return nil, state.UnexpectedValue("Invalid value for query parameter %q.", key)
		}

		matches := keyPattern.FindStringSubmatch(key)
		if matches == nil {
			// keys like "a]b" are kept verbatim
			filters.Set(key, value)
			continue
		}
		var path []string
		for _, seg := range segmentPattern.FindAllStringSubmatch(matches[2], -1) {
			path = append(path, seg[1])
		}
		if err := set(filters, matches[1], path, value); err != nil {
			return nil, err
		}
	}
	return filters, nil
}

func set(filters *state.Filters, name string, path []string, value string) error {
	if len(path) == 0 {
		filters.Set(name, value)
		return nil
	}

	if path[0] == "" {
		if len(path) > 1 {
			return state.UnexpectedValue("Unsupported nested list in query parameter %q.", name)
		}
		list, _ := filters.Get(name)
		items, ok := list.([]any)
		if !ok && list != nil {
			return state.UnexpectedValue("Query parameter %q mixes lists and values.", name)
		}
		filters.Set(name, append(items, value))
		return nil
	}

	current, _ := filters.Get(name)
	nested, ok := current.(*state.Filters)
	if !ok {
		if current != nil {
			return state.UnexpectedValue("Query parameter %q mixes objects and values.", name)
		}
		nested = state.NewFilters()
		filters.Set(name, nested)
	}
	return set(nested, path[0], path[1:], value)
}

// ToMap converts filters to plain maps, for logging and documentation.
func ToMap(filters *state.Filters) map[string]any {
	if filters == nil {
		return nil
	}
	out := make(map[string]any, filters.Len())
	for pair := filters.Oldest(); pair != nil; pair = pair.Next() {
		if nested, ok := pair.Value.(*state.Filters); ok {
			out[pair.Key] = ToMap(nested)
			continue
		}
		out[pair.Key] = pair.Value
	}
	return out
}

// Keys lists the top level filter names in order.
func Keys(filters *state.Filters) []string {
	if filters == nil {
		return nil
	}
	keys := make([]string, 0, filters.Len())
	for pair := filters.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// String renders filters back as a query string, in order.
func String(filters *state.Filters) string {
	var parts []string
	var walk func(prefix string, f *state.Filters)
	walk = func(prefix string, f *state.Filters) {
		for pair := f.Oldest(); pair != nil; pair = pair.Next() {
			key := pair.Key
			if prefix != "" {
				key = prefix + "[" + pair.Key + "]"
			}
			switch v := pair.Value.(type) {
			case *state.Filters:
				walk(key, v)
			case []any:
				for _, item := range v {
					parts = append(parts, url.QueryEscape(key+"[]")+"="+url.QueryEscape(fmt.Sprint(item)))
				}
			default:
				parts = append(parts, url.QueryEscape(key)+"="+url.QueryEscape(fmt.Sprint(v)))
			}
		}
	}
	if filters != nil {
		walk("", filters)
	}
	return strings.Join(parts, "&")
}
