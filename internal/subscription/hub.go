package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Message is a frame exchanged with WebSocket clients
type Message struct {
	Type  string          `json:"type"`
	Topic string          `json:"topic,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// topicUpdate is an update queued for the clients of one topic
type topicUpdate struct {
	topic   string
	private bool
	data    []byte
}

// AuthHandler authenticates a connection token and returns the user id
type AuthHandler func(ctx context.Context, token string) (userID string, err error)

// Hub maintains the connected clients and the topics they subscribed to.
// It implements Publisher by relaying updates to the clients of each topic.
type Hub struct {
	clients   map[*Client]bool
	clientsMu sync.RWMutex

	topics   map[string]map[*Client]bool
	topicsMu sync.RWMutex

	register   chan *Client
	unregister chan *Client
	updates    chan topicUpdate

	authHandler AuthHandler
	logger      *zap.Logger

	shutdown chan struct{}
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a new Hub instance
func NewHub(ctx context.Context, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	hubCtx, cancel := context.WithCancel(ctx)

	return &Hub{
		clients:    make(map[*Client]bool),
		topics:     make(map[string]map[*Client]bool),
		register:   make(chan *Client, 256),
		unregister: make(chan *Client, 256),
		updates:    make(chan topicUpdate, 1024),
		logger:     logger,
		shutdown:   make(chan struct{}),
		ctx:        hubCtx,
		cancel:     cancel,
	}
}

// SetAuthHandler sets the authentication handler
func (h *Hub) SetAuthHandler(handler AuthHandler) {
	h.authHandler = handler
}

// Run starts the hub's main event loop
func (h *Hub) Run() {
	h.wg.Add(1)
	defer h.wg.Done()

	cleanupTicker := time.NewTicker(30 * time.Second)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			h.cleanup()
			return

		case <-h.shutdown:
			h.cleanup()
			return

		case client := <-h.register:
			h.clientsMu.Lock()
			h.clients[client] = true
			h.clientsMu.Unlock()
			h.logger.Debug("client registered", zap.String("client", client.ID), zap.Int("total", h.ClientCount()))

		case client := <-h.unregister:
			h.remove(client)

		case update := <-h.updates:
			h.deliver(update)

		case <-cleanupTicker.C:
			h.cleanupStaleConnections()
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.clientsMu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.closed.Store(true)
		close(client.send)
	}
	h.clientsMu.Unlock()

	h.topicsMu.Lock()
	for topic, clients := range h.topics {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.topics, topic)
			}
		}
	}
	h.topicsMu.Unlock()

	h.logger.Debug("client unregistered", zap.String("client", client.ID), zap.Int("total", h.ClientCount()))
}

// deliver sends an update to the subscribers of its topic. Private updates
// only reach authenticated clients.
func (h *Hub) deliver(update topicUpdate) {
	h.topicsMu.RLock()
	subscribers := make([]*Client, 0, len(h.topics[update.topic]))
	for client := range h.topics[update.topic] {
		subscribers = append(subscribers, client)
	}
	h.topicsMu.RUnlock()

	for _, client := range subscribers {
		if update.private && client.UserID == "" {
			continue
		}
		if client.closed.Load() {
			continue
		}
		select {
		case client.send <- update.data:
		default:
			h.logger.Warn("send channel full, update dropped",
				zap.String("client", client.ID), zap.String("topic", update.topic))
		}
	}
}

// Publish implements Publisher: the update is queued once per topic.
func (h *Hub) Publish(ctx context.Context, update Update) error {
	for _, topic := range update.Topics {
		data, err := json.Marshal(Message{Type: "update", Topic: topic, Data: update.Data})
		if err != nil {
			return fmt.Errorf("failed to encode update: %w", err)
		}
		select {
		case h.updates <- topicUpdate{topic: topic, private: update.Private, data: data}:
		case <-ctx.Done():
			return ctx.Err()
		case <-h.ctx.Done():
			return fmt.Errorf("hub is shut down")
		}
	}
	return nil
}

// Subscribe adds a client to a topic
func (h *Hub) Subscribe(client *Client, topic string) {
	h.topicsMu.Lock()
	defer h.topicsMu.Unlock()

	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*Client]bool)
	}
	h.topics[topic][client] = true
	h.logger.Debug("client subscribed", zap.String("client", client.ID), zap.String("topic", topic))
}

// Unsubscribe removes a client from a topic
func (h *Hub) Unsubscribe(client *Client, topic string) {
	h.topicsMu.Lock()
	defer h.topicsMu.Unlock()

	if clients, ok := h.topics[topic]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.topics, topic)
		}
	}
}

// Subscribers returns the number of clients subscribed to a topic
func (h *Hub) Subscribers(topic string) int {
	h.topicsMu.RLock()
	defer h.topicsMu.RUnlock()
	return len(h.topics[topic])
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// HandleMessage processes a frame received from a client
func (h *Hub) HandleMessage(client *Client, data []byte) error {
	var message Message
	if err := json.Unmarshal(data, &message); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}

	switch message.Type {
	case "subscribe":
		if message.Topic == "" {
			return fmt.Errorf("topic is required")
		}
		h.Subscribe(client, message.Topic)
		return client.SendMessage(Message{Type: "subscribed", Topic: message.Topic})
	case "unsubscribe":
		if message.Topic == "" {
			return fmt.Errorf("topic is required")
		}
		h.Unsubscribe(client, message.Topic)
		return client.SendMessage(Message{Type: "unsubscribed", Topic: message.Topic})
	case "ping":
		return client.SendMessage(Message{Type: "pong", Data: message.Data})
	default:
		return fmt.Errorf("unknown message type: %s", message.Type)
	}
}

func (h *Hub) cleanup() {
	h.logger.Info("hub shutting down", zap.Int("clients", h.ClientCount()))

	h.clientsMu.Lock()
	for client := range h.clients {
		client.closed.Store(true)
		if client.conn != nil {
			client.conn.Close()
		}
	}
	h.clients = make(map[*Client]bool)
	h.clientsMu.Unlock()

	h.topicsMu.Lock()
	h.topics = make(map[string]map[*Client]bool)
	h.topicsMu.Unlock()
}

// cleanupStaleConnections removes clients that haven't sent a heartbeat recently
func (h *Hub) cleanupStaleConnections() {
	h.clientsMu.RLock()
	var stale []*Client
	for client := range h.clients {
		if time.Since(client.LastHeartbeat()) > 90*time.Second {
			stale = append(stale, client)
		}
	}
	h.clientsMu.RUnlock()

	for _, client := range stale {
		h.logger.Debug("removing stale client", zap.String("client", client.ID))
		h.unregister <- client
	}
}

// Shutdown gracefully shuts down the hub
func (h *Hub) Shutdown() {
	h.cancel()
	close(h.shutdown)
	h.wg.Wait()
}
