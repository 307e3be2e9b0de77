package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

var (
	errClientClosed = errors.New("client closed")
	errSendFull     = errors.New("send buffer full")
)

// Client is a subscriber connected to the hub over a WebSocket. The hub
// owns its topic set and closes send when the client leaves.
type Client struct {
	ID string

	// UserID is set for authenticated connections; private updates are
	// only delivered to those.
	UserID string

	conn *websocket.Conn
	hub  *Hub
	send chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	seen   atomic.Int64
	closed atomic.Bool
}

// NewClient creates a client of hub on conn
func NewClient(id string, conn *websocket.Conn, hub *Hub) *Client {
	ctx, cancel := context.WithCancel(hub.ctx)
	c := &Client{
		ID:     id,
		conn:   conn,
		hub:    hub,
		send:   make(chan []byte, sendBuffer),
		ctx:    ctx,
		cancel: cancel,
	}
	c.touch()
	return c
}

// Serve runs the read and write loops of the connection until either ends.
func (c *Client) Serve() {
	go c.writeLoop()
	c.readLoop()
}

// readLoop handles subscribe, unsubscribe and ping frames. Pongs and frames
// extend the read deadline.
func (c *Client) readLoop() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("subscriber read failed", zap.String("client", c.ID), zap.Error(err))
			}
			return
		}
		c.touch()
		if err := c.hub.HandleMessage(c, frame); err != nil {
			c.SendError(err.Error())
		}
	}
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			_ = c.write(websocket.CloseMessage, nil)
			return
		case data, ok := <-c.send:
			if !ok {
				_ = c.write(websocket.CloseMessage, nil)
				return
			}
			if err := c.write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(kind int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(kind, data)
}

// SendMessage queues message without blocking. It fails once the client
// left or when its buffer is full.
func (c *Client) SendMessage(message Message) (err error) {
	// send may be closed by the hub between the check and the send
	defer func() {
		if recover() != nil {
			err = errClientClosed
		}
	}()

	if c.closed.Load() {
		return errClientClosed
	}
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	case <-c.ctx.Done():
		return errClientClosed
	default:
		return errSendFull
	}
}

// SendError sends an error frame
func (c *Client) SendError(message string) {
	data, _ := json.Marshal(map[string]string{"message": message})
	_ = c.SendMessage(Message{Type: "error", Data: data})
}

func (c *Client) touch() { c.seen.Store(time.Now().UnixNano()) }

// LastHeartbeat returns when the client was last heard from
func (c *Client) LastHeartbeat() time.Time {
	return time.Unix(0, c.seen.Load())
}

// Close detaches the client from the hub
func (c *Client) Close() {
	c.closed.Store(true)
	c.cancel()
	c.hub.unregister <- c
}
