package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/restkit/internal/identifier"
	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/model"
	"github.com/conduit-lang/restkit/internal/security"
	"github.com/conduit-lang/restkit/internal/state"
	webcontext "github.com/conduit-lang/restkit/internal/web/context"
)

// stubProvider records its calls and returns a fixed value.
type stubProvider struct {
	data  any
	err   error
	calls int
	ids   *identifier.Values
	sc    *state.Context
}

func (s *stubProvider) Provide(_ context.Context, _ *metadata.Operation, ids *identifier.Values, sc *state.Context) (any, error) {
	s.calls++
	s.ids = ids
	s.sc = sc
	return s.data, s.err
}

type stubIRIs map[string]any

func (s stubIRIs) Item(_ context.Context, iri string, _ *state.Context) (any, error) {
	item, ok := s[iri]
	if !ok {
		return nil, state.NotFound("Item not found for %q.", iri)
	}
	return item, nil
}

func book(id int) *model.Record {
	return model.Hydrate("Book", map[string]any{"id": id, "title": "Dune", "owner": "alice"})
}

func userContext(id string, roles ...string) context.Context {
	return webcontext.WithUser(context.Background(), webcontext.User{ID: id, Roles: roles})
}

func TestReadProvider_HTTP(t *testing.T) {
	ctx := context.Background()
	get := metadata.NewOperation(metadata.KindGet, "Book")
	ids := identifier.NewValues("id", 1)

	t.Run("item is read and cloned as previous data", func(t *testing.T) {
		item := book(1)
		p := NewReadProvider(&stubProvider{data: item}, nil)
		sc := &state.Context{}

		data, err := p.Provide(ctx, get, ids, sc)
		require.NoError(t, err)
		assert.Same(t, item, data)
		require.IsType(t, &model.Record{}, sc.PreviousData)
		assert.NotSame(t, item, sc.PreviousData)
		assert.Equal(t, "Dune", sc.PreviousData.(*model.Record).Get("title"))
	})

	t.Run("missing item", func(t *testing.T) {
		p := NewReadProvider(&stubProvider{}, nil)
		_, err := p.Provide(ctx, get, ids, &state.Context{})
		require.ErrorIs(t, err, state.ErrNotFound)
		assert.Equal(t, "Not Found", err.Error())
	})

	t.Run("put may create", func(t *testing.T) {
		put := metadata.NewOperation(metadata.KindPut, "Book").WithExtra("allow_create", true)
		p := NewReadProvider(&stubProvider{}, nil)
		data, err := p.Provide(ctx, put, ids, &state.Context{})
		require.NoError(t, err)
		assert.Nil(t, data)
	})

	t.Run("post without URI variables does not read", func(t *testing.T) {
		inner := &stubProvider{data: book(1)}
		p := NewReadProvider(inner, nil)
		data, err := p.Provide(ctx, metadata.NewOperation(metadata.KindPost, "Book"), identifier.NewValues(), &state.Context{})
		require.NoError(t, err)
		assert.Nil(t, data)
		assert.Zero(t, inner.calls)
	})

	t.Run("read disabled", func(t *testing.T) {
		inner := &stubProvider{data: book(1)}
		p := NewReadProvider(inner, nil)
		data, err := p.Provide(ctx, get.WithRead(false), ids, &state.Context{})
		require.NoError(t, err)
		assert.Nil(t, data)
		assert.Zero(t, inner.calls)
	})
}

func TestReadProvider_GraphQLItem(t *testing.T) {
	ctx := context.Background()
	iris := stubIRIs{"/books/1": book(1), "/authors/1": model.Hydrate("Author", map[string]any{"id": 1})}
	p := NewReadProvider(&stubProvider{}, iris)
	query := metadata.NewOperation(metadata.KindQuery, "Book").WithShortName("Book")
	mutation := metadata.NewOperation(metadata.KindMutation, "Book").WithShortName("Book")

	t.Run("query by id", func(t *testing.T) {
		data, err := p.Provide(ctx, query, nil, &state.Context{Args: map[string]any{"id": "/books/1"}})
		require.NoError(t, err)
		assert.Equal(t, 1, data.(*model.Record).Get("id"))
	})

	t.Run("query without identifier", func(t *testing.T) {
		data, err := p.Provide(ctx, query, nil, &state.Context{Args: map[string]any{}})
		require.NoError(t, err)
		assert.Nil(t, data)
	})

	t.Run("query on a missing item", func(t *testing.T) {
		data, err := p.Provide(ctx, query, nil, &state.Context{Args: map[string]any{"id": "/books/2"}})
		require.NoError(t, err)
		assert.Nil(t, data)
	})

	t.Run("mutation on a missing item", func(t *testing.T) {
		sc := &state.Context{Args: map[string]any{"input": map[string]any{"id": "/books/2"}}}
		_, err := p.Provide(ctx, mutation, nil, sc)
		require.ErrorIs(t, err, state.ErrNotFound)
		assert.Equal(t, `Item "/books/2" not found.`, err.Error())
	})

	t.Run("mutation on another type", func(t *testing.T) {
		sc := &state.Context{Args: map[string]any{"input": map[string]any{"id": "/authors/1"}}}
		_, err := p.Provide(ctx, mutation, nil, sc)
		require.ErrorIs(t, err, state.ErrUnexpectedValue)
		assert.Equal(t, `Item "/authors/1" did not match expected type "Book".`, err.Error())
	})

	t.Run("mutation keeps the previous object", func(t *testing.T) {
		sc := &state.Context{Args: map[string]any{"input": map[string]any{"id": "/books/1"}}}
		data, err := p.Provide(ctx, mutation, nil, sc)
		require.NoError(t, err)
		assert.NotNil(t, data)
		assert.NotSame(t, data, sc.PreviousData)
	})

	t.Run("read disabled", func(t *testing.T) {
		data, err := p.Provide(ctx, query.WithRead(false), nil, &state.Context{Args: map[string]any{"id": "/books/1"}})
		require.NoError(t, err)
		assert.Nil(t, data)
	})
}

func TestReadProvider_GraphQLCollection(t *testing.T) {
	ctx := context.Background()
	collection := metadata.NewOperation(metadata.KindQueryCollection, "Book")

	t.Run("read disabled", func(t *testing.T) {
		p := NewReadProvider(&stubProvider{data: []any{book(1)}}, nil)
		data, err := p.Provide(ctx, collection.WithRead(false), nil, &state.Context{RootClass: "Book"})
		require.NoError(t, err)
		assert.Equal(t, []any{}, data)
	})

	t.Run("no root class", func(t *testing.T) {
		p := NewReadProvider(&stubProvider{data: []any{book(1)}}, nil)
		data, err := p.Provide(ctx, collection, nil, &state.Context{})
		require.NoError(t, err)
		assert.Equal(t, []any{}, data)
	})

	t.Run("nested source supplies the link", func(t *testing.T) {
		inner := &stubProvider{data: []any{}}
		p := NewReadProvider(inner, nil)
		sc := &state.Context{
			RootClass: "Author",
			Args:      map[string]any{"title": "Dune"},
			Info:      &state.ResolveInfo{FieldName: "books"},
			Source: map[string]any{
				"books":              []any{},
				SourceIdentifiersKey: map[string]any{"id": 7},
				SourceClassKey:       "Author",
			},
		}
		_, err := p.Provide(ctx, collection, identifier.NewValues(), sc)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"id": 7}, inner.ids.Map())
		assert.Equal(t, "Author", sc.LinkClass)
		assert.Equal(t, "books", sc.LinkProperty)
		title, ok := sc.Filters.Get("title")
		require.True(t, ok)
		assert.Equal(t, "Dune", title)
	})
}

func TestNormalizeFilters(t *testing.T) {
	filters := NormalizeFilters(map[string]any{
		"order": []any{
			map[string]any{"title": "DESC"},
			map[string]any{"id": "ASC"},
		},
		"name_list":    []any{"a", "b"},
		"author__name": "Frank",
		"price":        map[string]any{"gt": "5"},
	}, DefaultNestingSeparator)

	order, ok := filters.Get("order")
	require.True(t, ok)
	ordered := order.(*state.Filters)
	var keys []string
	for pair := ordered.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	assert.Equal(t, []string{"title", "id"}, keys)

	names, ok := filters.Get("name")
	require.True(t, ok)
	assert.Equal(t, []any{"a", "b"}, names)
	_, ok = filters.Get("name_list")
	assert.True(t, ok)

	nested, ok := filters.Get("author.name")
	require.True(t, ok)
	assert.Equal(t, "Frank", nested)

	price, ok := filters.Get("price")
	require.True(t, ok)
	gt, _ := price.(*state.Filters).Get("gt")
	assert.Equal(t, "5", gt)

	assert.Zero(t, NormalizeFilters(nil, DefaultNestingSeparator).Len())
}

func TestResolverProvider(t *testing.T) {
	ctx := context.Background()
	locator := state.NewLocator()
	locator.RegisterResolver("book.title", state.ResolverFunc(func(_ context.Context, data any, _ *state.Context) (any, error) {
		r := data.(*model.Record).Clone()
		r.Set("title", "Resolved")
		return r, nil
	}))
	locator.RegisterResolver("book.author", state.ResolverFunc(func(context.Context, any, *state.Context) (any, error) {
		return model.Hydrate("Author", map[string]any{"id": 1}), nil
	}))
	p := NewResolverProvider(&stubProvider{data: book(1)}, locator)
	query := metadata.NewOperation(metadata.KindQuery, "Book")

	t.Run("no resolver", func(t *testing.T) {
		data, err := p.Provide(ctx, query, nil, &state.Context{})
		require.NoError(t, err)
		assert.Equal(t, "Dune", data.(*model.Record).Get("title"))
	})

	t.Run("resolver result", func(t *testing.T) {
		data, err := p.Provide(ctx, query.WithResolver("book.title"), nil, &state.Context{})
		require.NoError(t, err)
		assert.Equal(t, "Resolved", data.(*model.Record).Get("title"))
	})

	t.Run("item of another class", func(t *testing.T) {
		_, err := p.Provide(ctx, query.WithResolver("book.author"), nil, &state.Context{})
		require.ErrorIs(t, err, state.ErrUnexpectedValue)
		assert.Equal(t, "Resolver only handles items of class Book but retrieved item is of class Author.", err.Error())
	})

	t.Run("collections are not checked", func(t *testing.T) {
		collection := metadata.NewOperation(metadata.KindQueryCollection, "Book").WithResolver("book.author")
		_, err := p.Provide(ctx, collection, nil, &state.Context{})
		assert.NoError(t, err)
	})

	t.Run("unknown resolver", func(t *testing.T) {
		_, err := p.Provide(ctx, query.WithResolver("nope"), nil, &state.Context{})
		assert.ErrorIs(t, err, state.ErrRuntime)
	})
}

func TestAccessCheckerProvider(t *testing.T) {
	checker := security.NewExpressionChecker(nil)
	get := metadata.NewOperation(metadata.KindGet, "Book").
		WithSecurity(metadata.SecurityPreRead, `object.owner == user`, "Only the owner can read this book.")

	t.Run("granted", func(t *testing.T) {
		p := NewAccessCheckerProvider(&stubProvider{data: book(1)}, checker, metadata.SecurityPreRead)
		data, err := p.Provide(userContext("alice"), get, nil, &state.Context{})
		require.NoError(t, err)
		assert.NotNil(t, data)
	})

	t.Run("denied with the declared message", func(t *testing.T) {
		p := NewAccessCheckerProvider(&stubProvider{data: book(1)}, checker, metadata.SecurityPreRead)
		_, err := p.Provide(userContext("bob"), get, nil, &state.Context{})
		require.ErrorIs(t, err, state.ErrAccessDenied)
		assert.Equal(t, "Only the owner can read this book.", err.Error())
	})

	t.Run("default message", func(t *testing.T) {
		op := metadata.NewOperation(metadata.KindGet, "Book").WithSecurity(metadata.SecurityPreRead, `is_granted("ROLE_ADMIN")`, "")
		p := NewAccessCheckerProvider(&stubProvider{data: book(1)}, checker, metadata.SecurityPreRead)
		_, err := p.Provide(userContext("bob", "ROLE_USER"), op, nil, &state.Context{})
		require.ErrorIs(t, err, state.ErrAccessDenied)
		assert.Equal(t, "Access Denied.", err.Error())
	})

	t.Run("previous object", func(t *testing.T) {
		op := metadata.NewOperation(metadata.KindPut, "Book").
			WithSecurity(metadata.SecurityPostDenormalize, `previous_object.owner == user`, "")
		p := NewAccessCheckerProvider(&stubProvider{data: book(1)}, checker, metadata.SecurityPostDenormalize)
		_, err := p.Provide(userContext("alice"), op, nil, &state.Context{PreviousData: book(1)})
		assert.NoError(t, err)
	})

	t.Run("other events are ignored", func(t *testing.T) {
		p := NewAccessCheckerProvider(&stubProvider{data: book(1)}, checker, metadata.SecurityPostDenormalize)
		_, err := p.Provide(userContext("bob"), get, nil, &state.Context{})
		assert.NoError(t, err)
	})

	t.Run("nested collections are skipped", func(t *testing.T) {
		op := metadata.NewOperation(metadata.KindQueryCollection, "Book").
			WithSecurity(metadata.SecurityPreRead, `is_granted("ROLE_ADMIN")`, "")
		p := NewAccessCheckerProvider(&stubProvider{data: []any{}}, checker, metadata.SecurityPreRead)
		_, err := p.Provide(userContext("bob"), op, nil, &state.Context{Source: map[string]any{}})
		require.NoError(t, err)
		_, err = p.Provide(userContext("bob"), op, nil, &state.Context{})
		assert.ErrorIs(t, err, state.ErrAccessDenied)
	})

	t.Run("after resolver requires GraphQL", func(t *testing.T) {
		inner := &stubProvider{data: book(1)}
		p := NewAccessCheckerProvider(inner, checker, metadata.SecurityAfterResolver)
		_, err := p.Provide(userContext("alice"), get, nil, &state.Context{})
		require.ErrorIs(t, err, state.ErrRuntime)
		assert.Zero(t, inner.calls)
	})

	t.Run("invalid expression", func(t *testing.T) {
		op := metadata.NewOperation(metadata.KindGet, "Book").WithSecurity(metadata.SecurityPreRead, `object.`, "")
		p := NewAccessCheckerProvider(&stubProvider{data: book(1)}, checker, metadata.SecurityPreRead)
		_, err := p.Provide(userContext("alice"), op, nil, &state.Context{})
		assert.ErrorIs(t, err, state.ErrRuntime)
	})
}

func TestSplitProvider_AfterResolver(t *testing.T) {
	checker := security.NewExpressionChecker(nil)
	inner := &stubProvider{data: book(1)}
	p := NewSplitProvider(NewAccessCheckerProvider(inner, checker, metadata.SecurityAfterResolver), inner)

	query := metadata.NewOperation(metadata.KindQuery, "Book").
		WithSecurity(metadata.SecurityAfterResolver, `object.owner == user`, "Not yours.")
	_, err := p.Provide(userContext("bob"), query, nil, &state.Context{})
	require.ErrorIs(t, err, state.ErrAccessDenied)
	assert.Equal(t, "Not yours.", err.Error())

	data, err := p.Provide(userContext("alice"), query, nil, &state.Context{})
	require.NoError(t, err)
	assert.Equal(t, book(1), data)

	get := metadata.NewOperation(metadata.KindGet, "Book")
	_, err = p.Provide(userContext("bob"), get, nil, &state.Context{})
	assert.NoError(t, err)
	assert.Equal(t, 3, inner.calls)
}

func TestIsGrantedAccessCheckerProvider(t *testing.T) {
	checker := security.NewExpressionChecker(nil)
	op := metadata.NewOperation(metadata.KindGet, "Book").WithIsGranted(metadata.IsGrantedRule{
		Attribute:  "ROLE_EDITOR",
		Subject:    "object",
		Message:    "Editors only.",
		StatusCode: http.StatusNotFound,
	})
	p := NewIsGrantedAccessCheckerProvider(&stubProvider{data: book(1)}, checker)

	_, err := p.Provide(userContext("alice", "ROLE_EDITOR"), op, nil, &state.Context{})
	require.NoError(t, err)

	_, err = p.Provide(userContext("bob", "ROLE_USER"), op, nil, &state.Context{})
	require.ErrorIs(t, err, state.ErrAccessDenied)
	var denied *state.AccessDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "Editors only.", denied.Message)
	assert.Equal(t, http.StatusNotFound, denied.StatusCode())
}

func newLinkRegistry(t *testing.T) *metadata.Registry {
	t.Helper()
	registry := metadata.NewRegistry()
	author := metadata.NewResource("Author").
		AddField(&metadata.Field{Name: "id", Type: metadata.TypeInt}).
		AddOperation(metadata.NewOperation(metadata.KindGet, "Author"))
	books := metadata.NewResource("Book").
		AddField(&metadata.Field{Name: "id", Type: metadata.TypeInt}).
		AddOperation(metadata.NewOperation(metadata.KindGetCollection, "Book").
			WithName("author_books").
			WithURITemplate("/authors/{authorId}/books").
			WithURIVariables(metadata.Link{
				ParameterName:      "authorId",
				FromClass:          "Author",
				FromProperty:       "books",
				Identifiers:        []string{"id"},
				Security:           `author.owner == user`,
				SecurityMessage:    "Not your author.",
				SecurityObjectName: "author",
			}))
	require.NoError(t, registry.Register(author))
	require.NoError(t, registry.Register(books))
	return registry
}

func TestLinkedReadAndLinkAccessChecker(t *testing.T) {
	registry := newLinkRegistry(t)
	op, err := registry.Operation("Book", "author_books")
	require.NoError(t, err)
	checker := security.NewExpressionChecker(nil)

	authors := state.ProviderFunc(func(_ context.Context, parent *metadata.Operation, ids *identifier.Values, _ *state.Context) (any, error) {
		assert.Equal(t, "Author", parent.Class())
		if id, _ := ids.Get("id"); id == 1 {
			return model.Hydrate("Author", map[string]any{"id": 1, "owner": "alice"}), nil
		}
		return nil, nil
	})

	chain := func() state.Provider {
		return NewLinkAccessCheckerProvider(
			NewLinkedReadProvider(&stubProvider{data: []any{}}, authors, registry),
			checker,
		)
	}

	t.Run("owner", func(t *testing.T) {
		sc := &state.Context{}
		_, err := chain().Provide(userContext("alice"), op, identifier.NewValues("authorId", 1), sc)
		require.NoError(t, err)
		assert.Contains(t, sc.LinkedObjects, "author")
	})

	t.Run("not the owner", func(t *testing.T) {
		_, err := chain().Provide(userContext("bob"), op, identifier.NewValues("authorId", 1), &state.Context{})
		require.ErrorIs(t, err, state.ErrAccessDenied)
		assert.Equal(t, "Not your author.", err.Error())
	})

	t.Run("missing relation", func(t *testing.T) {
		_, err := chain().Provide(userContext("alice"), op, identifier.NewValues("authorId", 2), &state.Context{})
		require.ErrorIs(t, err, state.ErrNotFound)
		assert.Equal(t, "Relation for link security not found.", err.Error())
	})
}

type stubDenormalizer struct {
	input map[string]any
	into  any
}

func (s *stubDenormalizer) Denormalize(_ context.Context, input map[string]any, class string, into any, _ *state.Context) (any, error) {
	s.input = input
	s.into = into
	r := model.New(class, input)
	return r, nil
}

type stubDecoder map[string]any

func (s stubDecoder) Decode(*http.Request) (map[string]any, error) { return s, nil }

func TestDenormalizeProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("mutation input populates the provided item", func(t *testing.T) {
		denormalizer := &stubDenormalizer{}
		existing := book(1)
		p := NewDenormalizeProvider(&stubProvider{data: existing}, denormalizer, nil)
		op := metadata.NewOperation(metadata.KindMutation, "Book")

		data, err := p.Provide(ctx, op, nil, &state.Context{Args: map[string]any{"input": map[string]any{"title": "Emma"}}})
		require.NoError(t, err)
		assert.Equal(t, "Emma", data.(*model.Record).Get("title"))
		assert.Same(t, existing, denormalizer.into)
	})

	t.Run("delete mutations are not denormalized", func(t *testing.T) {
		denormalizer := &stubDenormalizer{}
		p := NewDenormalizeProvider(&stubProvider{data: book(1)}, denormalizer, nil)
		op := metadata.NewOperation(metadata.KindMutation, "Book").WithName("delete")
		_, err := p.Provide(ctx, op, nil, &state.Context{Args: map[string]any{"input": map[string]any{}}})
		require.NoError(t, err)
		assert.Nil(t, denormalizer.input)
	})

	t.Run("http body", func(t *testing.T) {
		denormalizer := &stubDenormalizer{}
		p := NewDenormalizeProvider(&stubProvider{}, denormalizer, stubDecoder{"title": "Emma"})
		req := httptest.NewRequest(http.MethodPost, "/books", nil)
		data, err := p.Provide(ctx, metadata.NewOperation(metadata.KindPost, "Book"), nil, &state.Context{Request: req})
		require.NoError(t, err)
		assert.Equal(t, "Emma", data.(*model.Record).Get("title"))
	})

	t.Run("reads are untouched", func(t *testing.T) {
		denormalizer := &stubDenormalizer{}
		item := book(1)
		p := NewDenormalizeProvider(&stubProvider{data: item}, denormalizer, stubDecoder{})
		req := httptest.NewRequest(http.MethodGet, "/books/1", nil)
		data, err := p.Provide(ctx, metadata.NewOperation(metadata.KindGet, "Book"), nil, &state.Context{Request: req})
		require.NoError(t, err)
		assert.Same(t, item, data)
	})
}

type stubDocs struct{}

func (stubDocs) Document(context.Context) (any, error) { return map[string]any{"swagger": "2.0"}, nil }

func TestSwaggerUIProvider(t *testing.T) {
	ctx := context.Background()
	get := metadata.NewOperation(metadata.KindGet, "Book")

	t.Run("html requests get the documentation", func(t *testing.T) {
		p := NewSwaggerUIProvider(&stubProvider{data: book(1)}, stubDocs{}, true)
		req := httptest.NewRequest(http.MethodGet, "/books/1", nil)
		req.Header.Set("Accept", "text/html,application/xhtml+xml")
		sc := &state.Context{Request: req, Operation: get}

		data, err := p.Provide(ctx, get, nil, sc)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"swagger": "2.0"}, data)
		assert.Equal(t, DocumentationClass, sc.Operation.Class())
	})

	t.Run("inner errors surface", func(t *testing.T) {
		p := NewSwaggerUIProvider(&stubProvider{err: state.NotFound("Not Found")}, stubDocs{}, true)
		req := httptest.NewRequest(http.MethodGet, "/books/1?_format=html", nil)
		_, err := p.Provide(ctx, get, nil, &state.Context{Request: req})
		assert.ErrorIs(t, err, state.ErrNotFound)
	})

	t.Run("json requests", func(t *testing.T) {
		item := book(1)
		p := NewSwaggerUIProvider(&stubProvider{data: item}, stubDocs{}, true)
		req := httptest.NewRequest(http.MethodGet, "/books/1", nil)
		req.Header.Set("Accept", "application/json")
		data, err := p.Provide(ctx, get, nil, &state.Context{Request: req})
		require.NoError(t, err)
		assert.Same(t, item, data)
	})

	t.Run("undocumented operations", func(t *testing.T) {
		item := book(1)
		p := NewSwaggerUIProvider(&stubProvider{data: item}, stubDocs{}, true)
		req := httptest.NewRequest(http.MethodGet, "/books/1?_format=html", nil)
		data, err := p.Provide(ctx, get.WithExtra("openapi", false), nil, &state.Context{Request: req})
		require.NoError(t, err)
		assert.Same(t, item, data)
	})

	t.Run("disabled", func(t *testing.T) {
		item := book(1)
		p := NewSwaggerUIProvider(&stubProvider{data: item}, stubDocs{}, false)
		req := httptest.NewRequest(http.MethodGet, "/books/1?_format=html", nil)
		data, err := p.Provide(ctx, get, nil, &state.Context{Request: req})
		require.NoError(t, err)
		assert.Same(t, item, data)
	})
}
