package processor

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/conduit-lang/restkit/internal/identifier"
	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/state"
	"github.com/conduit-lang/restkit/internal/subscription"
)

// PayloadPusher computes the GraphQL subscription payloads of an updated item.
type PayloadPusher interface {
	PushPayloads(ctx context.Context, iri string, item any) ([]subscription.Payload, error)
}

// MercureProcessor publishes the written item once the inner processor
// succeeded: on the operation topics for operations with Mercure enabled,
// and on the subscription topics of the GraphQL subscriptions watching it.
type MercureProcessor struct {
	inner      state.Processor
	iris       IRIGenerator
	normalizer Normalizer
	publisher  subscription.Publisher
	pusher     PayloadPusher
	urls       *subscription.URLGenerator
	logger     *zap.Logger
}

// MercureOption configures a MercureProcessor
type MercureOption func(*MercureProcessor)

// WithSubscriptions pushes GraphQL subscription payloads on every write.
func WithSubscriptions(pusher PayloadPusher, urls *subscription.URLGenerator) MercureOption {
	return func(p *MercureProcessor) {
		p.pusher = pusher
		p.urls = urls
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) MercureOption {
	return func(p *MercureProcessor) {
		p.logger = logger
	}
}

// NewMercureProcessor creates a publishing processor. publisher may be nil
// when no transport is configured; operations enabling Mercure then fail.
func NewMercureProcessor(inner state.Processor, iris IRIGenerator, normalizer Normalizer, publisher subscription.Publisher, opts ...MercureOption) *MercureProcessor {
	p := &MercureProcessor{
		inner:      inner,
		iris:       iris,
		normalizer: normalizer,
		publisher:  publisher,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process implements state.Processor
func (p *MercureProcessor) Process(ctx context.Context, data any, op *metadata.Operation, uriVariables *identifier.Values, sc *state.Context) (any, error) {
	mercure := op.Mercure()
	pushing := p.pusher != nil && p.urls != nil
	if !op.CanWrite() || (mercure == nil && !pushing) {
		return p.inner.Process(ctx, data, op, uriVariables, sc)
	}
	if mercure != nil && p.publisher == nil {
		return nil, state.Runtime("A Mercure transport must be configured to publish updates of %s", op.ShortName())
	}

	deleting := isDelete(op)
	var iri string
	if deleting && data != nil {
		var err error
		if iri, err = p.iris.IRI(data); err != nil {
			return nil, err
		}
	}

	result, err := p.inner.Process(ctx, data, op, uriVariables, sc)
	if err != nil {
		return nil, err
	}
	if !deleting {
		if result == nil {
			return result, nil
		}
		if iri, err = p.iris.IRI(result); err != nil {
			return nil, err
		}
	}
	if iri == "" {
		return result, nil
	}

	if mercure != nil {
		if err := p.publish(ctx, mercure, iri, result, op, deleting); err != nil {
			return nil, err
		}
	}
	if pushing && !deleting && p.publisher != nil {
		if err := p.push(ctx, iri, result, mercure); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (p *MercureProcessor) publish(ctx context.Context, mercure *metadata.Mercure, iri string, item any, op *metadata.Operation, deleting bool) error {
	var payload map[string]any
	if deleting {
		payload = map[string]any{"@id": iri}
	} else {
		normalized, err := p.normalizer.Normalize(ctx, item, op)
		if err != nil {
			return err
		}
		payload = normalized
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode update of %s: %w", iri, err)
	}

	topics := mercure.Topics
	if len(topics) == 0 {
		topics = []string{iri}
	}
	update := subscription.Update{Topics: topics, Data: data, Private: mercure.Private, Hub: mercure.Hub}
	if err := p.publisher.Publish(ctx, update); err != nil {
		return fmt.Errorf("failed to publish update of %s: %w", iri, err)
	}
	p.logger.Debug("update published", zap.String("iri", iri), zap.Strings("topics", topics))
	return nil
}

func (p *MercureProcessor) push(ctx context.Context, iri string, item any, mercure *metadata.Mercure) error {
	payloads, err := p.pusher.PushPayloads(ctx, iri, item)
	if err != nil {
		return err
	}
	var hub string
	var private bool
	if mercure != nil {
		hub, private = mercure.Hub, mercure.Private
	}
	for _, payload := range payloads {
		data, err := json.Marshal(payload.Data)
		if err != nil {
			return fmt.Errorf("failed to encode subscription %s: %w", payload.ID, err)
		}
		update := subscription.Update{
			Topics:  []string{p.urls.Topic(payload.ID)},
			Data:    data,
			Private: private,
			Hub:     hub,
		}
		if err := p.publisher.Publish(ctx, update); err != nil {
			return fmt.Errorf("failed to publish subscription %s: %w", payload.ID, err)
		}
	}
	return nil
}
