package processor

import (
	"context"

	"github.com/conduit-lang/restkit/internal/identifier"
	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/state"
	"github.com/conduit-lang/restkit/internal/subscription"
)

const clientMutationIDKey = "clientMutationId"

// GraphQLPayloadProcessor wraps the result of mutations and subscriptions
// in their payload envelope: the item under the lower-cased short name of
// the resource, along with the client mutation or subscription id.
type GraphQLPayloadProcessor struct {
	inner      state.Processor
	normalizer subscription.FieldNormalizer
	iris       IRIGenerator
}

// NewGraphQLPayloadProcessor creates a payload processor
func NewGraphQLPayloadProcessor(inner state.Processor, normalizer subscription.FieldNormalizer, iris IRIGenerator) *GraphQLPayloadProcessor {
	return &GraphQLPayloadProcessor{inner: inner, normalizer: normalizer, iris: iris}
}

// Process implements state.Processor
func (p *GraphQLPayloadProcessor) Process(ctx context.Context, data any, op *metadata.Operation, uriVariables *identifier.Values, sc *state.Context) (any, error) {
	kind := op.Kind()
	if kind != metadata.KindMutation && kind != metadata.KindSubscription {
		return p.inner.Process(ctx, data, op, uriVariables, sc)
	}

	key := metadata.LowerFirst(op.ShortName())
	var item any
	if op.IsDeleteMutation() {
		var iri string
		if data != nil {
			var err error
			if iri, err = p.iris.IRI(data); err != nil {
				return nil, err
			}
		}
		if _, err := p.inner.Process(ctx, data, op, uriVariables, sc); err != nil {
			return nil, err
		}
		item = map[string]any{"id": iri}
	} else {
		result, err := p.inner.Process(ctx, data, op, uriVariables, sc)
		if err != nil {
			return nil, err
		}
		if result != nil {
			if item, err = p.normalizer.NormalizeFields(ctx, result, selection(sc, key)); err != nil {
				return nil, err
			}
		}
	}

	payload := map[string]any{key: item}
	if kind == metadata.KindSubscription {
		id, _ := sc.InputArg(subscription.ClientSubscriptionIDKey)
		payload[subscription.ClientSubscriptionIDKey] = id
	} else {
		id, _ := sc.InputArg(clientMutationIDKey)
		payload[clientMutationIDKey] = id
	}
	return payload, nil
}

// selection returns the fields selected below the payload field, nil for
// every field.
func selection(sc *state.Context, key string) map[string]any {
	if sc == nil || sc.Info == nil {
		return nil
	}
	fields, _ := sc.Info.Fields[key].(map[string]any)
	return fields
}

// SubscriptionManager registers GraphQL subscriptions.
type SubscriptionManager interface {
	RetrieveSubscriptionID(ctx context.Context, sc *state.Context, result map[string]any) (string, error)
}

// SubscriptionProcessor attaches the Mercure URL of the subscription to the
// payload of subscription operations with Mercure enabled.
type SubscriptionProcessor struct {
	inner   state.Processor
	manager SubscriptionManager
	urls    *subscription.URLGenerator
}

// NewSubscriptionProcessor creates a subscription processor. manager and
// urls are nil when no Mercure hub is configured.
func NewSubscriptionProcessor(inner state.Processor, manager SubscriptionManager, urls *subscription.URLGenerator) *SubscriptionProcessor {
	return &SubscriptionProcessor{inner: inner, manager: manager, urls: urls}
}

// Process implements state.Processor
func (p *SubscriptionProcessor) Process(ctx context.Context, data any, op *metadata.Operation, uriVariables *identifier.Values, sc *state.Context) (any, error) {
	mercure := op.Mercure()
	if op.Kind() != metadata.KindSubscription || mercure == nil {
		return p.inner.Process(ctx, data, op, uriVariables, sc)
	}
	if p.manager == nil || p.urls == nil {
		return nil, state.Runtime("Cannot use Mercure for subscriptions when no Mercure hub is configured")
	}

	result, err := p.inner.Process(ctx, data, op, uriVariables, sc)
	if err != nil {
		return nil, err
	}
	payload, ok := result.(map[string]any)
	if !ok {
		return nil, state.UnexpectedValue("Expected the subscription payload to be an object.")
	}

	id, err := p.manager.RetrieveSubscriptionID(ctx, sc, payload)
	if err != nil {
		return nil, err
	}
	payload[subscription.MercureURLKey] = p.urls.MercureURL(id, mercure.Hub)
	return payload, nil
}
