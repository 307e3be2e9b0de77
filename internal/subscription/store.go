package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrSubscriptionNotFound is returned when a subscription id is unknown.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// Subscription is a GraphQL subscription on one item.
type Subscription struct {
	ID     string         `json:"id"`
	IRI    string         `json:"iri"`
	Fields map[string]any `json:"fields"`
	Result map[string]any `json:"result"`
}

// Store keeps subscriptions indexed by the IRI of their item.
type Store interface {
	Save(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	ByIRI(ctx context.Context, iri string) ([]*Subscription, error)
	Delete(ctx context.Context, id string) error
}

// RedisConfig holds the Redis store settings
type RedisConfig struct {
	// Prefix is prepended to every key
	Prefix string
	// TTL expires idle subscriptions, zero keeps them
	TTL time.Duration
}

// DefaultRedisConfig returns the default store configuration
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Prefix: "restkit:subscriptions:",
		TTL:    24 * time.Hour,
	}
}

// RedisStore implements Store on Redis: one string key per subscription and
// one set of ids per IRI.
type RedisStore struct {
	client redis.UniversalClient
	config RedisConfig
}

// NewRedisStore creates a store with an existing client
func NewRedisStore(client redis.UniversalClient, config RedisConfig) *RedisStore {
	return &RedisStore{client: client, config: config}
}

func (s *RedisStore) key(id string) string {
	return s.config.Prefix + "id:" + id
}

func (s *RedisStore) iriKey(iri string) string {
	return s.config.Prefix + "iri:" + iri
}

// Save stores or replaces a subscription
func (s *RedisStore) Save(ctx context.Context, sub *Subscription) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to encode subscription %s: %w", sub.ID, err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sub.ID), data, s.config.TTL)
		pipe.SAdd(ctx, s.iriKey(sub.IRI), sub.ID)
		if s.config.TTL > 0 {
			pipe.Expire(ctx, s.iriKey(sub.IRI), s.config.TTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save subscription %s: %w", sub.ID, err)
	}
	return nil
}

// Get returns a subscription by id
func (s *RedisStore) Get(ctx context.Context, id string) (*Subscription, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, id)
		}
		return nil, err
	}

	var sub Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("failed to decode subscription %s: %w", id, err)
	}
	return &sub, nil
}

// ByIRI returns the subscriptions of an item ordered by id. Expired entries
// are pruned from the index.
func (s *RedisStore) ByIRI(ctx context.Context, iri string) ([]*Subscription, error) {
	ids, err := s.client.SMembers(ctx, s.iriKey(iri)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)

	subs := make([]*Subscription, 0, len(ids))
	for _, id := range ids {
		sub, err := s.Get(ctx, id)
		if errors.Is(err, ErrSubscriptionNotFound) {
			s.client.SRem(ctx, s.iriKey(iri), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// Delete removes a subscription
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(id))
		pipe.SRem(ctx, s.iriKey(sub.IRI), id)
		return nil
	})
	return err
}
