package query

import (
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/restkit/internal/state"
)

func TestParseFilters(t *testing.T) {
	r := httptest.NewRequest("GET", "/books?title=du&order[published]=desc&order[title]=asc&tags[]=a&tags[]=b&page=2", nil)

	filters, err := ParseFilters(r)
	require.NoError(t, err)
	assert.Equal(t, []string{"title", "order", "tags", "page"}, Keys(filters))

	title, _ := filters.Get("title")
	assert.Equal(t, "du", title)

	order, _ := filters.Get("order")
	require.IsType(t, &state.Filters{}, order)
	assert.Equal(t, []string{"published", "title"}, Keys(order.(*state.Filters)))

	tags, _ := filters.Get("tags")
	assert.Equal(t, []any{"a", "b"}, tags)

	assert.Equal(t, map[string]any{
		"title": "du",
		"order": map[string]any{"published": "desc", "title": "asc"},
		"tags":  []any{"a", "b"},
		"page":  "2",
	}, ToMap(filters))
}

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  map[string]any
	}{
		{"empty", "", map[string]any{}},
		{"last value wins", "a=1&a=2", map[string]any{"a": "2"}},
		{"escaped", "author.name=J%C3%BCrgen+K", map[string]any{"author.name": "Jürgen K"}},
		{"range", "price[between]=1..9&price[gt]=0", map[string]any{"price": map[string]any{"between": "1..9", "gt": "0"}}},
		{"deep", "exists[author][name]=true", map[string]any{"exists": map[string]any{"author": map[string]any{"name": "true"}}}},
		{"no value", "pagination", map[string]any{"pagination": ""}},
		{"malformed key kept", "a]b=1", map[string]any{"a]b": "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filters, err := Parse(tt.query)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, ToMap(filters)); diff != "" {
				t.Errorf("Parse(%q) mismatch (-want +got):\n%s", tt.query, diff)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, q := range []string{"a=%zz", "a=1&a[b]=2", "a[]=1&a=2&a[]=3", "a[][b]=1"} {
		t.Run(q, func(t *testing.T) {
			_, err := Parse(q)
			assert.ErrorIs(t, err, state.ErrUnexpectedValue)
		})
	}
}

func TestString(t *testing.T) {
	filters, err := Parse("title=du&order[title]=asc&tags[]=a")
	require.NoError(t, err)
	assert.Equal(t, "title=du&order%5Btitle%5D=asc&tags%5B%5D=a", String(filters))
}
