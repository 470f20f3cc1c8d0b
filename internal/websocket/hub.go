package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Hub maintains the set of live feed connections.
// It handles client registration and unregistration, and closes every
// connection when its context ends.
type Hub struct {
	// clients is the set of registered connections
	clients map[*Client]bool

	// register requests from clients
	register chan *Client

	// unregister requests from clients
	unregister chan *Client

	// done is closed once Run has returned
	done chan struct{}

	// mutex for thread-safe client set reads
	mu sync.RWMutex

	log zerolog.Logger
}

// Frame is the envelope of every websocket message in both directions.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewHub creates a new Hub instance
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run starts the hub's main event loop. It returns when ctx is done,
// after closing every registered connection.
// This should be called in a goroutine: go hub.Run(ctx)
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

// Done is closed when Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Register adds client to the hub. It reports false when the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes client from the hub. It never blocks once the hub has stopped.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = true
	h.log.Info().Str("user", client.view.Viewer().ID).Int("total", len(h.clients)).Msg("feed client connected")
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		h.log.Info().Str("user", client.view.Viewer().ID).Int("remaining", len(h.clients)).Msg("feed client disconnected")
	}
}

// closeAll sends a going-away close frame to every client. Their read pumps
// then fail, which unmounts their views.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for client := range h.clients {
		_ = client.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = client.conn.Close()
		delete(h.clients, client)
	}
	h.log.Info().Msg("feed hub stopped")
}

// Count returns the number of connected clients
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
