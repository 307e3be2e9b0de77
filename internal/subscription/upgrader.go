package subscription

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// UpgraderConfig holds WebSocket configuration
type UpgraderConfig struct {
	ReadBufferSize  int
	WriteBufferSize int

	// AllowedOrigins lists the accepted Origin headers, empty accepts all
	AllowedOrigins []string

	// TokenExtractor reads the authentication token of a request
	TokenExtractor func(r *http.Request) string

	EnableCompression bool
}

// DefaultUpgraderConfig returns default WebSocket configuration
func DefaultUpgraderConfig() UpgraderConfig {
	return UpgraderConfig{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		TokenExtractor: func(r *http.Request) string {
			if token := r.URL.Query().Get("token"); token != "" {
				return token
			}
			return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		},
	}
}

// Upgrader upgrades HTTP requests to hub connections. Clients subscribe to
// the topics given as "topic" query parameters and to any topic they send
// a subscribe frame for.
type Upgrader struct {
	config   UpgraderConfig
	upgrader *websocket.Upgrader
	hub      *Hub
}

// NewUpgrader creates a new Upgrader
func NewUpgrader(config UpgraderConfig, hub *Hub) *Upgrader {
	if config.TokenExtractor == nil {
		config.TokenExtractor = DefaultUpgraderConfig().TokenExtractor
	}
	origins := config.AllowedOrigins

	return &Upgrader{
		config: config,
		upgrader: &websocket.Upgrader{
			ReadBufferSize:    config.ReadBufferSize,
			WriteBufferSize:   config.WriteBufferSize,
			EnableCompression: config.EnableCompression,
			CheckOrigin: func(r *http.Request) bool {
				if len(origins) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, allowed := range origins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
		hub: hub,
	}
}

// ServeHTTP handles WebSocket upgrade requests
func (u *Upgrader) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var userID string
	if u.hub.authHandler != nil {
		if token := u.config.TokenExtractor(r); token != "" {
			id, err := u.hub.authHandler(r.Context(), token)
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			userID = id
		}
	}

	conn, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		u.hub.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(uuid.NewString(), conn, u.hub)
	client.UserID = userID
	for _, topic := range r.URL.Query()["topic"] {
		u.hub.Subscribe(client, topic)
	}

	u.hub.register <- client

	go client.Serve()
}
