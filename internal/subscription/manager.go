package subscription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/conduit-lang/restkit/internal/state"
)

// Keys of a subscription payload that are not part of the selection.
const (
	ClientSubscriptionIDKey = "clientSubscriptionId"
	MercureURLKey           = "mercureUrl"
)

// FieldNormalizer renders an item restricted to a field selection.
type FieldNormalizer interface {
	NormalizeFields(ctx context.Context, item any, fields map[string]any) (map[string]any, error)
}

// Payload is the new result of a subscription after its item changed.
type Payload struct {
	ID   string
	Data map[string]any
}

// Manager tracks GraphQL subscriptions and computes their payloads.
type Manager struct {
	store      Store
	normalizer FieldNormalizer
	logger     *zap.Logger
}

// NewManager creates a subscription manager
func NewManager(store Store, normalizer FieldNormalizer, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, normalizer: normalizer, logger: logger}
}

// RetrieveSubscriptionID returns the id of the subscription matching the
// field selection of sc on the subscribed item, creating it when no stored
// subscription selects the same fields.
func (m *Manager) RetrieveSubscriptionID(ctx context.Context, sc *state.Context, result map[string]any) (string, error) {
	iri := subscribedIRI(sc, result)
	if iri == "" {
		return "", state.Runtime("Unable to identify the subscribed item")
	}

	var fields map[string]any
	if sc != nil && sc.Info != nil {
		fields = maps.Clone(sc.Info.Fields)
	}
	delete(fields, ClientSubscriptionIDKey)
	delete(fields, MercureURLKey)
	selection, err := canonical(fields)
	if err != nil {
		return "", err
	}

	subs, err := m.store.ByIRI(ctx, iri)
	if err != nil {
		return "", fmt.Errorf("failed to load subscriptions of %s: %w", iri, err)
	}
	for _, sub := range subs {
		existing, err := canonical(sub.Fields)
		if err != nil {
			return "", err
		}
		if bytes.Equal(existing, selection) {
			return sub.ID, nil
		}
	}

	stored := maps.Clone(result)
	delete(stored, ClientSubscriptionIDKey)
	delete(stored, MercureURLKey)
	sub := &Subscription{ID: uuid.NewString(), IRI: iri, Fields: fields, Result: stored}
	if err := m.store.Save(ctx, sub); err != nil {
		return "", err
	}
	m.logger.Debug("subscription created", zap.String("id", sub.ID), zap.String("iri", iri))
	return sub.ID, nil
}

// PushPayloads renders the subscriptions of an updated item and returns the
// payloads that differ from their stored result. Stored results are
// replaced by the new ones.
func (m *Manager) PushPayloads(ctx context.Context, iri string, item any) ([]Payload, error) {
	subs, err := m.store.ByIRI(ctx, iri)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscriptions of %s: %w", iri, err)
	}
	if len(subs) == 0 {
		return nil, nil
	}

	results := make([]map[string]any, len(subs))
	for i, sub := range subs {
		data, err := m.render(ctx, item, sub.Fields)
		if err != nil {
			return nil, fmt.Errorf("failed to render subscription %s: %w", sub.ID, err)
		}
		results[i] = data
	}

	var payloads []Payload
	for i, sub := range subs {
		previous, err := canonical(sub.Result)
		if err != nil {
			return nil, err
		}
		current, err := canonical(results[i])
		if err != nil {
			return nil, err
		}
		if bytes.Equal(previous, current) {
			continue
		}
		sub.Result = results[i]
		if err := m.store.Save(ctx, sub); err != nil {
			return nil, err
		}
		payloads = append(payloads, Payload{ID: sub.ID, Data: results[i]})
	}
	return payloads, nil
}

// render builds the payload envelope: each selected root field holds the
// item normalized with its sub selection.
func (m *Manager) render(ctx context.Context, item any, fields map[string]any) (map[string]any, error) {
	data := make(map[string]any, len(fields))
	for name, selection := range fields {
		sub, _ := selection.(map[string]any)
		normalized, err := m.normalizer.NormalizeFields(ctx, item, sub)
		if err != nil {
			return nil, err
		}
		data[name] = normalized
	}
	return data, nil
}

func subscribedIRI(sc *state.Context, result map[string]any) string {
	if id, ok := sc.InputArg("id"); ok {
		if s, ok := id.(string); ok && s != "" {
			return s
		}
	}
	for _, v := range result {
		if item, ok := v.(map[string]any); ok {
			if s, ok := item["id"].(string); ok {
				return s
			}
		}
	}
	return ""
}

// canonical encodes v with sorted map keys.
func canonical(v map[string]any) ([]byte, error) {
	if v == nil {
		v = map[string]any{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode subscription data: %w", err)
	}
	return data, nil
}
