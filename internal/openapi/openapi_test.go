package openapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-openapi/spec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/orm"
	"github.com/conduit-lang/restkit/internal/pagination"
	"github.com/conduit-lang/restkit/internal/state"
)

func newTestFactory(t *testing.T) *Factory {
	t.Helper()
	registry := metadata.NewRegistry()

	book := metadata.NewResource("Book").
		AddField(&metadata.Field{Name: "id", Type: metadata.TypeInt}).
		AddField(&metadata.Field{Name: "title", Type: metadata.TypeString, Constraints: []metadata.Constraint{
			{Type: metadata.ConstraintRequired},
			{Type: metadata.ConstraintMax, Value: 255},
		}}).
		AddField(&metadata.Field{Name: "price", Type: metadata.TypeDecimal, Nullable: true}).
		AddField(&metadata.Field{Name: "published", Type: metadata.TypeDate}).
		AddField(&metadata.Field{Name: "ref", Type: metadata.TypeUUID}).
		AddRelation(&metadata.Relation{Name: "author", Type: metadata.RelationBelongsTo, Target: "Author"}).
		AddFilter(&metadata.FilterDefinition{ID: "book.search", Type: metadata.FilterSearch, Properties: map[string]string{"title": "partial"}}).
		AddOperation(metadata.NewOperation(metadata.KindGet, "Book").WithSecurity(metadata.SecurityPreRead, "is_granted('ROLE_USER')", "")).
		AddOperation(metadata.NewOperation(metadata.KindGetCollection, "Book").WithFilters("book.search")).
		AddOperation(metadata.NewOperation(metadata.KindPost, "Book")).
		AddOperation(metadata.NewOperation(metadata.KindDelete, "Book"))
	author := metadata.NewResource("Author").
		AddField(&metadata.Field{Name: "id", Type: metadata.TypeInt}).
		AddRelation(&metadata.Relation{Name: "books", Type: metadata.RelationHasMany, Target: "Book", MappedBy: "author"}).
		AddOperation(metadata.NewOperation(metadata.KindGet, "Author"))

	require.NoError(t, registry.Register(book))
	require.NoError(t, registry.Register(author))

	describe := func(def *metadata.FilterDefinition) (state.FilterDescriber, error) {
		return orm.NewFilter(def, registry)
	}
	return NewFactory(registry, Info{Title: "Library"}, describe, pagination.DefaultOptions())
}

func paramNames(op *spec.Operation) []string {
	names := make([]string, 0, len(op.Parameters))
	for _, p := range op.Parameters {
		names = append(names, p.Name)
	}
	return names
}

func TestBuild(t *testing.T) {
	doc, err := newTestFactory(t).Build()
	require.NoError(t, err)

	assert.Equal(t, "2.0", doc.Swagger)
	assert.Equal(t, "Library", doc.Info.Title)
	assert.Equal(t, "1.0.0", doc.Info.Version)

	t.Run("definitions", func(t *testing.T) {
		book := doc.Definitions["Book"]
		assert.Equal(t, []string{"title"}, book.Required)
		assert.Equal(t, "iri-reference", book.Properties["author"].Format)
		assert.Equal(t, "date", book.Properties["published"].Format)
		assert.Equal(t, "uuid", book.Properties["ref"].Format)
		assert.True(t, book.Properties["ref"].Type.Contains("string"))
		assert.True(t, book.Properties["@id"].ReadOnly)
		assert.False(t, book.Properties["title"].ReadOnly)
		require.NotNil(t, book.Properties["title"].MaxLength)
		assert.Equal(t, int64(255), *book.Properties["title"].MaxLength)
		assert.Equal(t, true, book.Properties["price"].Extensions["x-nullable"])

		books := doc.Definitions["Author"].Properties["books"]
		assert.True(t, books.Type.Contains("array"))
		assert.Contains(t, doc.Definitions, "Error")
	})

	t.Run("item path", func(t *testing.T) {
		item, ok := doc.Paths.Paths["/books/{id}"]
		require.True(t, ok)
		require.NotNil(t, item.Get)
		require.NotNil(t, item.Delete)
		assert.Nil(t, item.Post)

		require.Len(t, item.Get.Parameters, 1)
		id := item.Get.Parameters[0]
		assert.Equal(t, "path", id.In)
		assert.True(t, id.Required)
		assert.Equal(t, "integer", id.Type)

		assert.Contains(t, item.Get.Responses.StatusCodeResponses, http.StatusForbidden)
		assert.Contains(t, item.Delete.Responses.StatusCodeResponses, http.StatusNoContent)
	})

	t.Run("collection path", func(t *testing.T) {
		item := doc.Paths.Paths["/books"]
		require.NotNil(t, item.Get)
		assert.Equal(t, []string{"page", "title", "title[]"}, paramNames(item.Get))
		assert.Equal(t, "array", item.Get.Parameters[2].Type)

		require.NotNil(t, item.Post)
		assert.Equal(t, "body", item.Post.Parameters[0].In)
		assert.Contains(t, item.Post.Responses.StatusCodeResponses, http.StatusCreated)
		assert.Contains(t, item.Post.Responses.StatusCodeResponses, http.StatusUnprocessableEntity)
	})
}

func TestBuildUndeclaredFilter(t *testing.T) {
	registry := metadata.NewRegistry()
	require.NoError(t, registry.Register(metadata.NewResource("Book").
		AddField(&metadata.Field{Name: "id", Type: metadata.TypeInt}).
		AddOperation(metadata.NewOperation(metadata.KindGetCollection, "Book").WithFilters("missing"))))

	f := NewFactory(registry, Info{}, func(def *metadata.FilterDefinition) (state.FilterDescriber, error) {
		return orm.NewFilter(def, registry)
	}, pagination.DefaultOptions())
	_, err := f.Document(context.Background())
	assert.ErrorIs(t, err, state.ErrRuntime)
}

func TestServeHTTP(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestFactory(t).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/docs.json", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

	var doc spec.Swagger
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Contains(t, doc.Paths.Paths, "/authors/{id}")
}
