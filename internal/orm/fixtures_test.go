package orm

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/restkit/internal/metadata"
)

func newTestRegistry(t *testing.T) *metadata.Registry {
	t.Helper()
	registry := metadata.NewRegistry()

	dummy := metadata.NewResource("Dummy").
		AddField(&metadata.Field{Name: "id", Type: metadata.TypeInt}).
		AddField(&metadata.Field{Name: "name", Type: metadata.TypeString, Nullable: true}).
		AddField(&metadata.Field{Name: "rank", Type: metadata.TypeInt}).
		AddFilter(&metadata.FilterDefinition{ID: "dummy.search", Type: metadata.FilterSearch, Properties: map[string]string{"name": "partial", "rank": "exact"}}).
		AddFilter(&metadata.FilterDefinition{ID: "dummy.order", Type: metadata.FilterOrder, Properties: map[string]string{"name": "", "rank": "desc"}}).
		AddFilter(&metadata.FilterDefinition{ID: "dummy.range", Type: metadata.FilterRange, Properties: map[string]string{"rank": ""}}).
		AddFilter(&metadata.FilterDefinition{ID: "dummy.exists", Type: metadata.FilterExists, Properties: map[string]string{"name": ""}}).
		AddOperation(metadata.NewOperation(metadata.KindGet, "Dummy")).
		AddOperation(metadata.NewOperation(metadata.KindGetCollection, "Dummy").
			WithPagination(metadata.Pagination{ItemsPerPage: metadata.Int(2)}).
			WithFilters("dummy.search", "dummy.order", "dummy.range", "dummy.exists"))

	blog := metadata.NewResource("Blog").
		AddField(&metadata.Field{Name: "id", Type: metadata.TypeInt}).
		AddField(&metadata.Field{Name: "title", Type: metadata.TypeString}).
		AddRelation(&metadata.Relation{Name: "posts", Type: metadata.RelationHasMany, Target: "Post", ForeignKey: "blog_id"}).
		AddOperation(metadata.NewOperation(metadata.KindGet, "Blog"))

	post := metadata.NewResource("Post").
		AddField(&metadata.Field{Name: "id", Type: metadata.TypeInt}).
		AddField(&metadata.Field{Name: "title", Type: metadata.TypeString}).
		AddRelation(&metadata.Relation{Name: "blog", Type: metadata.RelationBelongsTo, Target: "Blog"}).
		AddFilter(&metadata.FilterDefinition{ID: "post.search", Type: metadata.FilterSearch, Properties: map[string]string{"blog.title": "ipartial"}}).
		AddOperation(metadata.NewOperation(metadata.KindGetCollection, "Post").
			WithName("blog_posts").
			WithURITemplate("/blogs/{blogId}/posts").
			WithPagination(metadata.Pagination{Enabled: metadata.Bool(false)}).
			WithURIVariables(metadata.Link{ParameterName: "blogId", FromClass: "Blog", FromProperty: "posts", Identifiers: []string{"id"}})).
		AddOperation(metadata.NewOperation(metadata.KindPut, "Post")).
		AddOperation(metadata.NewOperation(metadata.KindPost, "Post")).
		AddOperation(metadata.NewOperation(metadata.KindDelete, "Post"))

	require.NoError(t, registry.Register(dummy))
	require.NoError(t, registry.Register(blog))
	require.NoError(t, registry.Register(post))
	return registry
}

func newTestManager(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewManager(db, newTestRegistry(t), nil), mock
}

func operation(t *testing.T, m *Manager, class string, kind metadata.Kind) *metadata.Operation {
	t.Helper()
	res, ok := m.Registry().Resource(class)
	require.True(t, ok)
	for _, op := range res.Operations {
		if op.Kind() == kind {
			return op
		}
	}
	t.Fatalf("no %s operation on %s", kind, class)
	return nil
}

