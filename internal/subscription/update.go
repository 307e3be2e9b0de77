// Package subscription delivers live updates of resources: Mercure style
// updates published on topics, GraphQL subscriptions stored in Redis and a
// WebSocket hub relaying updates to connected clients.
package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Update is a message published on one or more topics.
type Update struct {
	ID      string          `json:"id,omitempty"`
	Topics  []string        `json:"topics"`
	Data    json.RawMessage `json:"data"`
	Private bool            `json:"private,omitempty"`
	Type    string          `json:"type,omitempty"`
	// Hub names the target hub, empty for the default one
	Hub string `json:"hub,omitempty"`
}

// Publisher sends updates to subscribers.
type Publisher interface {
	Publish(ctx context.Context, update Update) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, update Update) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, update Update) error {
	return f(ctx, update)
}

// URLGenerator builds the topics and hub URLs of GraphQL subscriptions.
type URLGenerator struct {
	BaseURL string
	HubURL  string
}

// Topic returns the topic of a subscription.
func (g *URLGenerator) Topic(id string) string {
	return strings.TrimSuffix(g.BaseURL, "/") + "/subscriptions/" + id
}

// MercureURL returns the URL a client subscribes to. hub overrides the
// default hub URL when not empty.
func (g *URLGenerator) MercureURL(id, hub string) string {
	if hub == "" {
		hub = g.HubURL
	}
	sep := "?"
	if strings.Contains(hub, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%stopic=%s", hub, sep, url.QueryEscape(g.Topic(id)))
}
