// Package search is the read-only Elasticsearch backend: items are fetched by
// document id and collections are paginated from the hits of a search.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"
)

// Client runs searches and document lookups
type Client struct {
	es     *elasticsearch.Client
	logger *zap.Logger
}

// NewClient creates a client for the given nodes
func NewClient(addresses []string, username, password string, logger *zap.Logger) (*Client, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: addresses,
		Username:  username,
		Password:  password,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{es: es, logger: logger}, nil
}

// Search runs a search request body on index and decodes the response
func (c *Client) Search(ctx context.Context, index string, body map[string]any) (map[string]any, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode search body: %w", err)
	}
	c.logger.Debug("search", zap.String("index", index), zap.ByteString("body", payload))

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(index),
		c.es.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, responseError(index, res.StatusCode, res.Body)
	}
	return decode(res.Body)
}

// Get returns the document with the given id, nil when missing
func (c *Client) Get(ctx context.Context, index, id string) (map[string]any, error) {
	res, err := c.es.Get(index, id, c.es.Get.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", index, id, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if res.IsError() {
		return nil, responseError(index, res.StatusCode, res.Body)
	}
	return decode(res.Body)
}

func decode(r io.Reader) (map[string]any, error) {
	var out map[string]any
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode elasticsearch response: %w", err)
	}
	return out, nil
}

func responseError(index string, status int, body io.Reader) error {
	msg, _ := io.ReadAll(io.LimitReader(body, 4096))
	return fmt.Errorf("elasticsearch %s: status %d: %s", index, status, bytes.TrimSpace(msg))
}
