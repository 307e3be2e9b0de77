package provider

import (
	"context"
	"net/http"

	"github.com/conduit-lang/restkit/internal/identifier"
	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/state"
)

// Denormalizer builds or populates an object from a decoded payload. into is
// the object to populate, nil to create one of class.
type Denormalizer interface {
	Denormalize(ctx context.Context, input map[string]any, class string, into any, sc *state.Context) (any, error)
}

// BodyDecoder reads the payload of an HTTP write request.
type BodyDecoder interface {
	Decode(r *http.Request) (map[string]any, error)
}

// DenormalizeProvider replaces the provided data with the denormalized
// payload: args.input of GraphQL mutations, the request body of HTTP writes.
type DenormalizeProvider struct {
	inner        state.Provider
	denormalizer Denormalizer
	decoder      BodyDecoder
}

// NewDenormalizeProvider creates a denormalize provider. decoder may be nil
// when no HTTP write operation is served.
func NewDenormalizeProvider(inner state.Provider, denormalizer Denormalizer, decoder BodyDecoder) *DenormalizeProvider {
	return &DenormalizeProvider{inner: inner, denormalizer: denormalizer, decoder: decoder}
}

// Provide implements state.Provider
func (p *DenormalizeProvider) Provide(ctx context.Context, op *metadata.Operation, uriVariables *identifier.Values, sc *state.Context) (any, error) {
	data, err := p.inner.Provide(ctx, op, uriVariables, sc)
	if err != nil {
		return nil, err
	}
	if !op.CanDeserialize() || op.IsDeleteMutation() {
		return data, nil
	}

	var input map[string]any
	switch {
	case op.Kind() == metadata.KindMutation:
		raw, _ := sc.Arg("input")
		input, _ = raw.(map[string]any)
	case isBodyMethod(op.Method()) && sc.Request != nil && p.decoder != nil:
		input, err = p.decoder.Decode(sc.Request)
		if err != nil {
			return nil, err
		}
	default:
		return data, nil
	}
	if input == nil {
		input = map[string]any{}
	}

	item, err := p.denormalizer.Denormalize(ctx, input, op.Input(), data, sc)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, state.UnexpectedValue("Expected item to be an object.")
	}
	return item, nil
}

func isBodyMethod(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch
}
