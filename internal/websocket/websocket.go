// Package websocket pushes analysis state and events to connected views.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"analyzehub/internal/logger"
	"analyzehub/internal/state"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// MessageType represents WebSocket message types
type MessageType string

const (
	// MessageTypeState carries the full shared state
	MessageTypeState MessageType = "state"
	// MessageTypeAttempt is sent when an analysis attempt starts
	MessageTypeAttempt MessageType = "attempt"
	// MessageTypeBackoff is sent when a failed attempt will be retried
	MessageTypeBackoff MessageType = "backoff"
	// MessageTypeFinish is sent when an attempt loop ends
	MessageTypeFinish MessageType = "finish"
)

// Message represents a WebSocket message
type Message struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

// NewStateMessage creates a state message
func NewStateMessage(s state.State) *Message {
	return &Message{
		Type:    MessageTypeState,
		Payload: s,
	}
}

// Client represents a WebSocket client connection
type Client struct {
	ID   string
	Send chan *Message
	hub  *Hub
	conn *websocket.Conn
}

// WebSocket configuration constants
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512

	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Views may be served from another origin; CORS is enforced on the REST API.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub manages WebSocket connections and message broadcasting
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *Message
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	running    bool
	stopCh     chan struct{}
	stopOnce   sync.Once
	snapshot   func() *Message
}

// NewHub creates a new WebSocket hub. snapshot, if set, produces the message
// every client receives right after connecting.
func NewHub(snapshot func() *Message) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *Message, sendBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopCh:     make(chan struct{}),
		snapshot:   snapshot,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.mu.Lock()
	h.running = true
	h.mu.Unlock()

	for {
		select {
		case <-h.stopCh:
			h.mu.Lock()
			for client := range h.clients {
				close(client.Send)
				delete(h.clients, client)
			}
			h.running = false
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			if h.snapshot != nil {
				if msg := h.snapshot(); msg != nil {
					client.Send <- msg
				}
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.Send <- message:
				default:
					// Client buffer full, skip this message for this client
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Stop stops the hub's main loop and disconnects every client
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
	})
}

// Register adds a client to the hub. It reports false once the hub stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.stopCh:
		return false
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.stopCh:
	}
}

// Broadcast sends a message to all connected clients
func (h *Hub) Broadcast(message *Message) {
	select {
	case h.broadcast <- message:
	default:
		logger.Warn("websocket broadcast channel full, dropping %s message", message.Type)
	}
}

// BroadcastState broadcasts the shared state to all clients
func (h *Hub) BroadcastState(s state.State) {
	h.Broadcast(NewStateMessage(s))
}

// RelayStates broadcasts every state received on states until ctx ends or
// the channel closes.
func (h *Hub) RelayStates(ctx context.Context, states <-chan state.State) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-states:
			if !ok {
				return
			}
			h.BroadcastState(s)
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// IsRunning returns whether the hub is running
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// HandleWebSocket handles WebSocket connection upgrade and client management
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug("websocket upgrade failed: %v", err)
		return
	}

	client := &Client{
		ID:   uuid.New().String(),
		Send: make(chan *Message, sendBufferSize),
		hub:  h,
		conn: conn,
	}

	if !h.Register(client) {
		_ = conn.Close()
		return
	}
	logger.Debug("websocket client %s connected", client.ID)

	go client.writePump()
	go client.readPump()
}

// readPump drains the connection so pongs and close frames are processed.
// Views never send anything meaningful.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("websocket client %s closed: %v", c.ID, err)
			}
			return
		}
	}
}

// writePump writes one frame per message and keeps the connection alive
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(message)
			if err != nil {
				logger.Warn("failed to encode websocket message: %v", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
