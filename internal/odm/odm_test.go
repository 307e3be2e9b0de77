package odm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/conduit-lang/restkit/internal/identifier"
	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/model"
	"github.com/conduit-lang/restkit/internal/pagination"
	"github.com/conduit-lang/restkit/internal/state"
)

type aggregateCall struct {
	collection string
	pipeline   mongo.Pipeline
}

type fakeStore struct {
	calls     []aggregateCall
	responses map[string][][]bson.M
	upserts   []bson.M
	deleted   int64
}

func (s *fakeStore) Aggregate(_ context.Context, collection string, pipeline mongo.Pipeline) ([]bson.M, error) {
	s.calls = append(s.calls, aggregateCall{collection: collection, pipeline: pipeline})
	queue := s.responses[collection]
	if len(queue) == 0 {
		return nil, nil
	}
	s.responses[collection] = queue[1:]
	return queue[0], nil
}

func (s *fakeStore) Upsert(_ context.Context, _ string, id any, doc bson.M) (any, error) {
	s.upserts = append(s.upserts, doc)
	if id == nil {
		return primitive.NewObjectID(), nil
	}
	return id, nil
}

func (s *fakeStore) Delete(context.Context, string, any) (int64, error) { return s.deleted, nil }

func newTestManager(t *testing.T) (*Manager, *fakeStore) {
	t.Helper()
	registry := metadata.NewRegistry()
	blog := metadata.NewResource("Blog").
		AddField(&metadata.Field{Name: "title", Type: metadata.TypeString}).
		AddRelation(&metadata.Relation{Name: "posts", Type: metadata.RelationHasMany, Target: "Post"})
	post := metadata.NewResource("Post").
		AddField(&metadata.Field{Name: "title", Type: metadata.TypeString}).
		AddRelation(&metadata.Relation{Name: "blog", Type: metadata.RelationBelongsTo, Target: "Blog"}).
		AddOperation(metadata.NewOperation(metadata.KindGet, "Post")).
		AddOperation(metadata.NewOperation(metadata.KindPut, "Post"))
	require.NoError(t, registry.Register(blog))
	require.NoError(t, registry.Register(post))

	store := &fakeStore{responses: make(map[string][][]bson.M)}
	return NewManager(store, registry, nil), store
}

func TestItemProvider(t *testing.T) {
	m, store := newTestManager(t)
	oid := primitive.NewObjectID()
	store.responses["posts"] = [][]bson.M{{{"_id": oid, "title": "hello"}}}

	op, err := m.Registry().ItemOperation("Post")
	require.NoError(t, err)

	got, err := NewItemProvider(m).Provide(context.Background(), op, identifier.NewValues("id", oid.Hex()), nil)
	require.NoError(t, err)

	rec := got.(*model.Record)
	assert.Equal(t, oid.Hex(), rec.Get("id"))
	assert.Equal(t, "hello", rec.Get("title"))

	require.Len(t, store.calls, 1)
	assert.Equal(t, mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "_id", Value: oid}}}},
		{{Key: "$limit", Value: 1}},
	}, store.calls[0].pipeline)
}

func TestItemProvider_NotFound(t *testing.T) {
	m, _ := newTestManager(t)
	op, _ := m.Registry().ItemOperation("Post")

	got, err := NewItemProvider(m).Provide(context.Background(), op, identifier.NewValues("id", "missing"), nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLinksHandler_FromProperty(t *testing.T) {
	m, store := newTestManager(t)
	store.responses["blogs"] = [][]bson.M{{
		{"_id": "b1", "posts_lkup": bson.A{bson.M{"_id": 1}, bson.M{"_id": 2}}},
	}}
	op := metadata.NewOperation(metadata.KindGetCollection, "Post").
		WithURIVariables(metadata.Link{ParameterName: "blogId", FromClass: "Blog", FromProperty: "posts", Identifiers: []string{"id"}})

	pipeline, err := NewLinksHandler(m).Apply(context.Background(), "Post", identifier.NewValues("blogId", "b1"), op, &state.Context{})
	require.NoError(t, err)

	require.Len(t, store.calls, 1)
	assert.Equal(t, "blogs", store.calls[0].collection)
	assert.Equal(t, mongo.Pipeline{
		{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: "posts"},
			{Key: "localField", Value: "posts"},
			{Key: "foreignField", Value: "_id"},
			{Key: "as", Value: "posts_lkup"},
		}}},
		{{Key: "$match", Value: bson.D{{Key: "_id", Value: "b1"}}}},
	}, store.calls[0].pipeline)

	assert.Equal(t, mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: bson.A{1, 2}}}}}}},
	}, pipeline)
}

func TestLinksHandler_FromPropertyWinsOverToProperty(t *testing.T) {
	m, store := newTestManager(t)
	store.responses["blogs"] = [][]bson.M{{
		{"_id": "b1", "posts_lkup": bson.A{bson.M{"_id": 7}}},
	}}
	op := metadata.NewOperation(metadata.KindGetCollection, "Post").
		WithURIVariables(metadata.Link{ParameterName: "blogId", FromClass: "Blog", FromProperty: "posts", ToProperty: "blog", Identifiers: []string{"id"}})

	pipeline, err := NewLinksHandler(m).Apply(context.Background(), "Post", identifier.NewValues("blogId", "b1"), op, &state.Context{})
	require.NoError(t, err)

	require.Len(t, store.calls, 1)
	assert.Equal(t, "blogs", store.calls[0].collection)
	assert.Equal(t, bson.D{{Key: "$match", Value: bson.D{{Key: "_id", Value: "b1"}}}}, store.calls[0].pipeline[1])
	assert.Equal(t, mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: bson.A{7}}}}}}},
	}, pipeline)
}

func TestLinksHandler_ToProperty(t *testing.T) {
	m, store := newTestManager(t)
	op := metadata.NewOperation(metadata.KindGetCollection, "Post").
		WithURIVariables(metadata.Link{ParameterName: "blogId", FromClass: "Blog", ToProperty: "blog", Identifiers: []string{"id"}})

	pipeline, err := NewLinksHandler(m).Apply(context.Background(), "Post", identifier.NewValues("blogId", "b1"), op, nil)
	require.NoError(t, err)

	assert.Empty(t, store.calls)
	assert.Equal(t, mongo.Pipeline{
		{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: "blogs"},
			{Key: "localField", Value: "blog_id"},
			{Key: "foreignField", Value: "_id"},
			{Key: "as", Value: "blog_lkup"},
		}}},
		{{Key: "$match", Value: bson.D{{Key: "blog_lkup._id", Value: "b1"}}}},
	}, pipeline)
}

func TestCollectionProvider_Paginated(t *testing.T) {
	m, store := newTestManager(t)
	store.responses["posts"] = [][]bson.M{{{
		"results": bson.A{bson.M{"_id": 3, "title": "c"}, bson.M{"_id": 4, "title": "d"}},
		"count":   bson.A{bson.M{"count": int32(5)}},
	}}}
	op := metadata.NewOperation(metadata.KindGetCollection, "Post").
		WithPagination(metadata.Pagination{ItemsPerPage: metadata.Int(2)})
	filters := state.NewFilters()
	filters.Set("page", "2")

	p := NewCollectionProvider(m, DefaultCollectionExtensions(pagination.New(pagination.DefaultOptions()))...)
	got, err := p.Provide(context.Background(), op, identifier.NewValues(), &state.Context{Filters: filters})
	require.NoError(t, err)

	page := got.(pagination.Paginator)
	assert.Equal(t, 2, page.Count())
	assert.Equal(t, float64(2), page.CurrentPage())
	assert.Equal(t, float64(3), page.LastPage())
	assert.Equal(t, float64(5), page.TotalItems())

	require.Len(t, store.calls, 1)
	assert.Equal(t, mongo.Pipeline{
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
		facetStage(2, 2),
	}, store.calls[0].pipeline)
}

func TestNewPaginator_Errors(t *testing.T) {
	m, _ := newTestManager(t)
	res, _ := m.Resource("Post")

	_, err := NewPaginator(res, mongo.Pipeline{}, nil)
	require.ErrorIs(t, err, state.ErrRuntime)
	assert.EqualError(t, err, `"$facet" stage was not applied to the aggregation pipeline.`)

	noResults := mongo.Pipeline{{{Key: "$facet", Value: bson.D{{Key: "count", Value: bson.A{}}}}}}
	_, err = NewPaginator(res, noResults, nil)
	assert.EqualError(t, err, `"results" facet was not applied to the aggregation pipeline.`)

	noSkip := mongo.Pipeline{{{Key: "$facet", Value: bson.D{{Key: "results", Value: bson.A{bson.D{{Key: "$limit", Value: 2}}}}}}}}
	_, err = NewPaginator(res, noSkip, nil)
	assert.EqualError(t, err, `"$skip" stage was not applied to the facet stage of the aggregation pipeline.`)

	noCount := mongo.Pipeline{{{Key: "$facet", Value: bson.D{{Key: "results", Value: bson.A{
		bson.D{{Key: "$skip", Value: 0}},
		bson.D{{Key: "$limit", Value: 2}},
	}}}}}}
	_, err = NewPaginator(res, noCount, nil)
	require.ErrorIs(t, err, state.ErrRuntime)
	assert.EqualError(t, err, `"count" facet was not applied to the aggregation pipeline.`)

	_, err = NewPaginator(res, mongo.Pipeline{facetStage(0, 2)}, []bson.M{{"count": bson.A{}}})
	require.ErrorIs(t, err, state.ErrRuntime)
	assert.EqualError(t, err, `"results" field was not found in the result of the aggregation pipeline.`)

	_, err = NewPaginator(res, mongo.Pipeline{facetStage(0, 2)}, []bson.M{{"results": bson.A{}}})
	assert.EqualError(t, err, `"count" field was not found in the result of the aggregation pipeline.`)
}

func TestNewPaginator_LimitZero(t *testing.T) {
	m, _ := newTestManager(t)
	res, _ := m.Resource("Post")

	p, err := NewPaginator(res, mongo.Pipeline{facetStage(0, 0)}, []bson.M{{"results": bson.A{}, "count": bson.A{bson.M{"count": int64(9)}}}})
	require.NoError(t, err)
	assert.Equal(t, float64(0), p.ItemsPerPage())
	assert.Equal(t, float64(1), p.CurrentPage())
	assert.Equal(t, float64(1), p.LastPage())
	assert.Equal(t, float64(9), p.TotalItems())
}

func TestPersistProcessor_StandardPut(t *testing.T) {
	m, store := newTestManager(t)
	op, _ := m.Registry().Operation("Post", "_api_/posts/{id}_put")
	require.NotNil(t, op)

	oid := primitive.NewObjectID()
	previous := model.Hydrate("Post", map[string]any{"id": oid.Hex(), "title": "old"})
	data := model.New("Post", map[string]any{"title": "new"})

	got, err := NewPersistProcessor(m).Process(context.Background(), data, op, nil, &state.Context{PreviousData: previous})
	require.NoError(t, err)

	rec := got.(*model.Record)
	assert.Equal(t, oid.Hex(), rec.Get("id"))
	assert.True(t, rec.Exists())
	require.Len(t, store.upserts, 1)
	assert.Equal(t, bson.M{"title": "new"}, store.upserts[0])
}

func TestRemoveProcessor_Missing(t *testing.T) {
	m, store := newTestManager(t)
	store.deleted = 0

	_, err := NewRemoveProcessor(m).Process(context.Background(), model.Hydrate("Post", map[string]any{"id": "x"}), nil, nil, nil)
	require.ErrorIs(t, err, state.ErrNotFound)
}
