package model

import (
	"encoding/json"
	"testing"

	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordLifecycle(t *testing.T) {
	t.Run("new records do not exist", func(t *testing.T) {
		r := New("Dummy", map[string]any{"name": "foo"})
		assert.False(t, r.Exists())
		assert.True(t, r.Loaded())
		assert.Equal(t, "Dummy", r.ResourceClass())
		assert.True(t, r.IsDirty("name"))
	})

	t.Run("hydrated records are clean", func(t *testing.T) {
		r := Hydrate("Dummy", map[string]any{"id": int64(1), "name": "foo"})
		assert.True(t, r.Exists())
		assert.Empty(t, r.Dirty())

		r.Set("name", "bar")
		assert.Equal(t, map[string]any{"name": "bar"}, r.Dirty())
		assert.Equal(t, "foo", r.Original("name"))

		r.Set("name", "foo")
		assert.Empty(t, r.Dirty())
	})

	t.Run("changes include removed attributes", func(t *testing.T) {
		r := Hydrate("Dummy", map[string]any{"a": 1, "b": 2})
		r.Unset("a")
		r.Set("b", 3)

		assert.Equal(t, []FieldChange{
			{Field: "a", OldValue: 1},
			{Field: "b", OldValue: 2, NewValue: 3},
		}, r.Changes())
	})

	t.Run("references are not loaded", func(t *testing.T) {
		r := Reference("Dummy", map[string]any{"id": 5})
		assert.True(t, r.Exists())
		assert.False(t, r.Loaded())
	})

	t.Run("hydrate copies the row", func(t *testing.T) {
		row := map[string]any{"tags": []any{"a"}}
		r := Hydrate("Dummy", row)
		row["tags"].([]any)[0] = "b"
		assert.Equal(t, []any{"a"}, r.Get("tags"))
	})
}

func TestRecordAssociate(t *testing.T) {
	rel := &metadata.Relation{Name: "blog", Type: metadata.RelationBelongsTo, Target: "Blog", ForeignKey: "blog_id"}
	blog := Hydrate("Blog", map[string]any{"id": int64(3)})
	post := New("Post", map[string]any{"title": "hello"})

	post.Associate(rel, blog, "id")
	assert.Equal(t, int64(3), post.Get("blog_id"))
	related, ok := post.Relation("blog")
	require.True(t, ok)
	assert.Same(t, blog, related)

	post.Associate(rel, nil, "id")
	assert.Nil(t, post.Get("blog_id"))
	_, ok = post.Relation("blog")
	assert.False(t, ok)
}

func TestRecordMarshalJSON(t *testing.T) {
	blog := Hydrate("Blog", map[string]any{"id": 3})
	post := Hydrate("Post", map[string]any{"id": 1, "title": "hello"})
	post.SetRelation("blog", blog)

	data, err := json.Marshal(post)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"title":"hello","blog":{"id":3}}`, string(data))
}

type plainStruct struct{}

func TestClassOf(t *testing.T) {
	assert.Equal(t, "Dummy", ClassOf(New("Dummy", nil)))
	assert.Equal(t, "plainStruct", ClassOf(&plainStruct{}))
	assert.Equal(t, "plainStruct", ClassOf(plainStruct{}))
	assert.Equal(t, "", ClassOf(nil))
}

func TestRecordExpose(t *testing.T) {
	owner := Hydrate("User", map[string]any{"id": "u1"})
	post := Hydrate("Post", map[string]any{"id": 1})
	post.SetRelation("owner", owner)
	post.SetRelation("comments", []*Record{Hydrate("Comment", map[string]any{"id": 9})})

	got := post.Expose()
	assert.Equal(t, map[string]any{"id": "u1"}, got["owner"])
	assert.Equal(t, []any{map[string]any{"id": 9}}, got["comments"])
}
