package state

import (
	"context"
	"testing"

	"github.com/conduit-lang/restkit/internal/identifier"
	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallableProvider(t *testing.T) {
	locator := NewLocator()
	locator.RegisterProvider("dummy.provider", ProviderFunc(func(ctx context.Context, op *metadata.Operation, uriVariables *identifier.Values, sc *Context) (any, error) {
		id, _ := uriVariables.Get("id")
		return id, nil
	}))
	provider := NewCallableProvider(locator)

	t.Run("dispatches by name", func(t *testing.T) {
		op := metadata.NewOperation(metadata.KindGet, "Dummy").WithProvider("dummy.provider")
		out, err := provider.Provide(context.Background(), op, identifier.NewValues("id", 5), &Context{})
		require.NoError(t, err)
		assert.Equal(t, 5, out)
	})

	t.Run("missing provider is a runtime error", func(t *testing.T) {
		op := metadata.NewOperation(metadata.KindGet, "Dummy").WithName("get").WithProvider("nope")
		_, err := provider.Provide(context.Background(), op, nil, &Context{})
		require.ErrorIs(t, err, ErrRuntime)
		assert.Contains(t, err.Error(), `"nope"`)
	})

	t.Run("operation without provider", func(t *testing.T) {
		op := metadata.NewOperation(metadata.KindGet, "Dummy").WithName("get")
		_, err := provider.Provide(context.Background(), op, nil, &Context{})
		assert.ErrorIs(t, err, ErrRuntime)
	})
}

func TestCallableProcessor(t *testing.T) {
	locator := NewLocator()
	locator.RegisterProcessor("upper", ProcessorFunc(func(ctx context.Context, data any, op *metadata.Operation, uriVariables *identifier.Values, sc *Context) (any, error) {
		return data.(string) + "!", nil
	}))
	processor := NewCallableProcessor(locator)

	out, err := processor.Process(context.Background(), "hi", metadata.NewOperation(metadata.KindPost, "Dummy").WithProcessor("upper"), nil, &Context{})
	require.NoError(t, err)
	assert.Equal(t, "hi!", out)

	out, err = processor.Process(context.Background(), "hi", metadata.NewOperation(metadata.KindPost, "Dummy"), nil, &Context{})
	require.NoError(t, err)
	assert.Equal(t, "hi", out)

	_, err = processor.Process(context.Background(), "hi", metadata.NewOperation(metadata.KindPost, "Dummy").WithProcessor("nope"), nil, &Context{})
	assert.ErrorIs(t, err, ErrRuntime)
}

func TestErrorsStayDistinct(t *testing.T) {
	notFound := NotFound("Item %q not found.", "/dummies/1")
	denied := AccessDenied("")

	assert.ErrorIs(t, notFound, ErrNotFound)
	assert.NotErrorIs(t, notFound, ErrAccessDenied)
	assert.ErrorIs(t, denied, ErrAccessDenied)
	assert.NotErrorIs(t, denied, ErrNotFound)
	assert.Equal(t, "Access Denied.", denied.Error())
	assert.Equal(t, 403, denied.(*AccessDeniedError).StatusCode())
	assert.Equal(t, 404, notFound.(*NotFoundError).StatusCode())

	validation := &ValidationError{Violations: []Violation{{PropertyPath: "name", Message: "required"}}}
	assert.ErrorIs(t, validation, ErrValidation)
	assert.Equal(t, "name: required", validation.Error())
}

func TestContext(t *testing.T) {
	var nilContext *Context
	assert.True(t, nilContext.ShouldFetchData())

	fetch := false
	sc := &Context{FetchData: &fetch, Args: map[string]any{"input": map[string]any{"id": "/dummies/1"}}}
	assert.False(t, sc.ShouldFetchData())

	id, ok := sc.InputArg("id")
	assert.True(t, ok)
	assert.Equal(t, "/dummies/1", id)

	clone := sc.Clone()
	clone.SetLinkedObject("blog", "b")
	assert.Nil(t, sc.LinkedObjects)
}
