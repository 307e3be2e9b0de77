package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/restkit/internal/apierror"
	"github.com/conduit-lang/restkit/internal/cli/config"
	"github.com/conduit-lang/restkit/internal/identifier"
	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/model"
	"github.com/conduit-lang/restkit/internal/pagination"
	"github.com/conduit-lang/restkit/internal/state"
	"github.com/conduit-lang/restkit/internal/subscription"
	"github.com/conduit-lang/restkit/internal/web/auth"
	"github.com/conduit-lang/restkit/internal/web/middleware"
	"github.com/conduit-lang/restkit/internal/web/server"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Config:         server.DefaultConfig(),
			RequestTimeout: 5 * time.Second,
			CORS:           middleware.DefaultCORSConfig(),
		},
		Pagination: pagination.DefaultOptions(),
		GraphQL:    config.GraphQLConfig{NestingSeparator: "__"},
		Docs:       config.DocsConfig{Enabled: true, Path: "/docs.json"},
		Metrics:    config.MetricsConfig{Enabled: true, Path: "/metrics"},
		Security: config.SecurityConfig{
			JWTSecret: "secret",
			JWTIssuer: "restkit",
			TokenTTL:  time.Hour,
			Roles:     map[string][]string{"ROLE_ADMIN": {"ROLE_USER"}},
		},
	}
}

func books() []*metadata.Resource {
	book := metadata.NewResource("Book").
		AddField(&metadata.Field{Name: "id", Type: metadata.TypeInt}).
		AddField(&metadata.Field{Name: "title", Type: metadata.TypeString, Constraints: []metadata.Constraint{{Type: metadata.ConstraintRequired}}}).
		AddOperation(metadata.NewOperation(metadata.KindGet, "Book").
			WithSecurity(metadata.SecurityPreRead, "is_granted('ROLE_USER')", "Members only.")).
		AddOperation(metadata.NewOperation(metadata.KindPost, "Book"))
	book.Table = "books"
	return []*metadata.Resource{book}
}

func newTestApp(t *testing.T) (*App, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	a, err := New(context.Background(), testConfig(), books(), Backends{SQL: db}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a, mock
}

func token(t *testing.T, a *App, roles ...string) string {
	t.Helper()
	tok, err := a.Tokens.Issue(auth.Identity{UserID: "u1", Roles: roles})
	require.NoError(t, err)
	return tok
}

func serve(a *App, method, target, body, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	return rec
}

func TestApp_GetItem(t *testing.T) {
	a, mock := newTestApp(t)

	mock.ExpectQuery(`SELECT o.* FROM "books" o WHERE o.id = $1`).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title"}).AddRow(5, "Dune"))

	rec := serve(a, http.MethodGet, "/books/5", "", token(t, a, "ROLE_ADMIN"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "/books/5", body["@id"])
	assert.Equal(t, "Dune", body["title"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApp_Security(t *testing.T) {
	a, mock := newTestApp(t)

	t.Run("anonymous", func(t *testing.T) {
		mock.ExpectQuery(`SELECT o.* FROM "books" o WHERE o.id = $1`).
			WithArgs(5).
			WillReturnRows(sqlmock.NewRows([]string{"id", "title"}).AddRow(5, "Dune"))

		rec := serve(a, http.MethodGet, "/books/5", "", "")
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "application/problem+json")
		assert.Contains(t, rec.Body.String(), "Members only.")
	})

	t.Run("invalid token", func(t *testing.T) {
		rec := serve(a, http.MethodGet, "/books/5", "", "garbage")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApp_Post(t *testing.T) {
	a, mock := newTestApp(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "books" (title) VALUES ($1) RETURNING *`).
		WithArgs("Dune").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title"}).AddRow(1, "Dune"))
	mock.ExpectCommit()

	rec := serve(a, http.MethodPost, "/books", `{"title":"Dune"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"@id":"/books/1"`)
	require.NoError(t, mock.ExpectationsWereMet())

	t.Run("invalid payload", func(t *testing.T) {
		rec := serve(a, http.MethodPost, "/books", `{}`, "")
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, rec.Body.String(), "violations")
	})
}

func TestApp_ServiceEndpoints(t *testing.T) {
	a, mock := newTestApp(t)

	mock.ExpectQuery(`SELECT o.* FROM "books" o WHERE o.id = $1`).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title"}))
	rec := serve(a, http.MethodGet, "/books/5", "", token(t, a, "ROLE_USER"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(a, http.MethodGet, "/docs.json", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"/books/{id}"`)

	rec = serve(a, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "restkit_state_operations_total")

	rec = serve(a, http.MethodGet, "/nowhere", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApp_Locator(t *testing.T) {
	a, _ := newTestApp(t)

	assert.Contains(t, a.Locator.ProviderNames(), ORMItemProvider)
	assert.Contains(t, a.Locator.ProviderNames(), apierror.ProviderName)
	op, err := a.Registry.ItemOperation("Book")
	require.NoError(t, err)
	assert.Equal(t, ORMItemProvider, op.Provider())
	assert.Nil(t, a.Hub)
}

func TestAssignServices(t *testing.T) {
	tests := []struct {
		name      string
		configure func(*metadata.Resource)
		fallback  backend
		provider  string
		processor string
	}{
		{"table", func(r *metadata.Resource) { r.Table = "books" }, backendODM, ORMCollectionProvider, ORMPersistProcessor},
		{"collection", func(r *metadata.Resource) { r.Collection = "books" }, backendORM, ODMCollectionProvider, ODMPersistProcessor},
		{"index only", func(r *metadata.Resource) { r.Index = "books" }, backendORM, SearchCollectionProvider, ""},
		{"fallback", func(*metadata.Resource) {}, backendODM, ODMCollectionProvider, ODMPersistProcessor},
		{"no backend", func(*metadata.Resource) {}, backendNone, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := metadata.NewResource("Book").
				AddOperation(metadata.NewOperation(metadata.KindGetCollection, "Book")).
				AddOperation(metadata.NewOperation(metadata.KindPost, "Book"))
			tt.configure(res)

			assignServices(res, tt.fallback)
			assert.Equal(t, tt.provider, res.Operations[0].Provider())
			assert.Empty(t, res.Operations[0].Processor())
			assert.Equal(t, tt.processor, res.Operations[1].Processor())
		})
	}

	t.Run("delete and explicit services", func(t *testing.T) {
		res := metadata.NewResource("Book").
			AddOperation(metadata.NewOperation(metadata.KindDelete, "Book")).
			AddOperation(metadata.NewOperation(metadata.KindGet, "Book").WithProvider("custom"))
		assignServices(res, backendORM)
		assert.Equal(t, ORMItemProvider, res.Operations[0].Provider())
		assert.Equal(t, ORMRemoveProcessor, res.Operations[0].Processor())
		assert.Equal(t, "custom", res.Operations[1].Provider())
	})
}

func TestDefaultBackend(t *testing.T) {
	assert.Equal(t, backendNone, defaultBackend(Backends{}))

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, backendORM, defaultBackend(Backends{SQL: db}))
}

func TestClose(t *testing.T) {
	a := &App{}
	var order []int
	a.closers = append(a.closers,
		func(context.Context) error { order = append(order, 1); return nil },
		func(context.Context) error { order = append(order, 2); return assert.AnError },
	)
	err := a.Close(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, []int{2, 1}, order)
	assert.NoError(t, a.Close(context.Background()))
}

// newGraphQLApp builds an application serving a Book resource with the
// given GraphQL operations.
func newGraphQLApp(t *testing.T, cfg *config.Config, backends Backends, ops ...*metadata.Operation) *App {
	t.Helper()
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	backends.SQL = db

	book := metadata.NewResource("Book").
		AddField(&metadata.Field{Name: "id", Type: metadata.TypeInt}).
		AddField(&metadata.Field{Name: "title", Type: metadata.TypeString}).
		AddOperation(metadata.NewOperation(metadata.KindGet, "Book"))
	for _, op := range ops {
		book.AddOperation(op)
	}
	book.Table = "books"

	a, err := New(context.Background(), cfg, []*metadata.Resource{book}, backends, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func graphQLOperation(t *testing.T, a *App, kind metadata.Kind) *metadata.Operation {
	t.Helper()
	op, err := a.Registry.FirstGraphQLOperation("Book", kind)
	require.NoError(t, err)
	return op
}

func TestApp_GraphQLSubscription(t *testing.T) {
	subscribe := func(a *App) (any, error) {
		op := graphQLOperation(t, a, metadata.KindSubscription)
		sc := &state.Context{Args: map[string]any{"input": map[string]any{
			"id":                                 "/books/5",
			subscription.ClientSubscriptionIDKey: "abc",
		}}}
		record := model.Hydrate("Book", map[string]any{"id": 5, "title": "Dune"})
		return a.GraphQLProcessor.Process(context.Background(), record, op, nil, sc)
	}
	op := metadata.NewOperation(metadata.KindSubscription, "Book").WithMercure(metadata.Mercure{Enabled: true})

	t.Run("with redis", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		t.Cleanup(mr.Close)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })

		cfg := testConfig()
		cfg.Mercure.Enabled = true
		a := newGraphQLApp(t, cfg, Backends{Redis: client}, op)

		out, err := subscribe(a)
		require.NoError(t, err)
		payload, ok := out.(map[string]any)
		require.True(t, ok, "payload is %T", out)
		assert.Equal(t, "abc", payload[subscription.ClientSubscriptionIDKey])
		assert.NotNil(t, payload["book"])
		url, _ := payload[subscription.MercureURLKey].(string)
		assert.True(t, strings.HasPrefix(url, MercurePath+"?topic="), url)

		again, err := subscribe(a)
		require.NoError(t, err)
		assert.Equal(t, url, again.(map[string]any)[subscription.MercureURLKey])
	})

	t.Run("without a hub", func(t *testing.T) {
		a := newGraphQLApp(t, testConfig(), Backends{}, op)
		_, err := subscribe(a)
		require.ErrorIs(t, err, state.ErrRuntime)
		assert.Contains(t, err.Error(), "no Mercure hub is configured")
	})
}

func TestApp_AfterResolverSecurity(t *testing.T) {
	a := newGraphQLApp(t, testConfig(), Backends{},
		metadata.NewOperation(metadata.KindQueryCollection, "Book").
			WithProvider("books.fixed").
			WithSecurity(metadata.SecurityAfterResolver, "false", "Never."),
		metadata.NewOperation(metadata.KindGetCollection, "Book").
			WithProvider("books.fixed").
			WithSecurity(metadata.SecurityAfterResolver, "false", "Never."),
	)
	books := []any{model.Hydrate("Book", map[string]any{"id": 1, "title": "Dune"})}
	a.Locator.RegisterProvider("books.fixed", state.ProviderFunc(
		func(context.Context, *metadata.Operation, *identifier.Values, *state.Context) (any, error) {
			return books, nil
		}))

	query := graphQLOperation(t, a, metadata.KindQueryCollection)
	_, err := a.Provider.Provide(context.Background(), query, nil, &state.Context{RootClass: "Book"})
	require.ErrorIs(t, err, state.ErrAccessDenied)
	assert.Equal(t, "Never.", err.Error())

	list, err := a.Registry.Operation("Book", "_api_/books_get_collection")
	require.NoError(t, err)
	data, err := a.Provider.Provide(context.Background(), list, identifier.NewValues(), &state.Context{})
	require.NoError(t, err)
	assert.Equal(t, books, data)
}

func TestApp_ResolveGraphQL(t *testing.T) {
	a := newGraphQLApp(t, testConfig(), Backends{},
		metadata.NewOperation(metadata.KindQueryCollection, "Book").
			WithName("books").
			WithProvider("books.paged"),
		metadata.NewOperation(metadata.KindQueryCollection, "Book").
			WithName("secret_books").
			WithProvider("books.paged").
			WithSecurity(metadata.SecurityAfterResolver, "false", "Never."),
	)
	all := []any{
		model.Hydrate("Book", map[string]any{"id": 1, "title": "Dune"}),
		model.Hydrate("Book", map[string]any{"id": 2, "title": "Emma"}),
		model.Hydrate("Book", map[string]any{"id": 3, "title": "Ulysses"}),
	}
	a.Locator.RegisterProvider("books.paged", state.ProviderFunc(
		func(context.Context, *metadata.Operation, *identifier.Values, *state.Context) (any, error) {
			return pagination.NewArrayPaginator(all, 0, 2), nil
		}))

	t.Run("connection", func(t *testing.T) {
		op, err := a.Registry.Operation("Book", "books")
		require.NoError(t, err)
		out, err := a.ResolveGraphQL(context.Background(), op, &state.Context{RootClass: "Book", Args: map[string]any{"first": 2}})
		require.NoError(t, err)

		conn, ok := out.(*pagination.Connection)
		require.True(t, ok, "result is %T", out)
		require.Len(t, conn.Edges, 2)
		assert.Same(t, all[1], conn.Edges[1].Node)
		assert.Equal(t, 3.0, conn.TotalCount)
		assert.True(t, conn.PageInfo.HasNextPage)
	})

	t.Run("errors", func(t *testing.T) {
		op, err := a.Registry.Operation("Book", "secret_books")
		require.NoError(t, err)
		_, err = a.ResolveGraphQL(context.Background(), op, &state.Context{RootClass: "Book"})

		var gqlErr *gqlerror.Error
		require.ErrorAs(t, err, &gqlErr)
		assert.Equal(t, "Never.", gqlErr.Message)
		assert.Equal(t, 403, gqlErr.Extensions["status"])
		assert.Equal(t, "user", gqlErr.Extensions["category"])
	})
}
