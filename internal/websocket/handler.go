package websocket

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/adi-253/livefeed/internal/feed"
	"github.com/adi-253/livefeed/internal/identity"
	"github.com/adi-253/livefeed/internal/store"
)

// upgrader upgrades HTTP connections to WebSocket
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow connections from any origin (CORS handled by middleware)
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HandlerOptions configures the feed endpoint.
type HandlerOptions struct {
	Path        string
	PageSize    int
	IntentRate  float64
	IntentBurst int
}

// Handler handles WebSocket connections
type Handler struct {
	hub  *Hub
	coll store.Collection
	opts HandlerOptions
	log  zerolog.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, coll store.Collection, opts HandlerOptions, log zerolog.Logger) *Handler {
	if opts.IntentRate <= 0 {
		opts.IntentRate = 10
	}
	if opts.IntentBurst <= 0 {
		opts.IntentBurst = 20
	}
	return &Handler{hub: hub, coll: coll, opts: opts, log: log}
}

// ServeWS handles WebSocket upgrade requests at /ws/feed.
// The route must sit behind identity.Middleware; the connection's view
// belongs to the identity it verified.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	view, err := feed.NewView(r.Context(), identity.ContextProvider{}, h.coll, feed.ViewOptions{
		Path:     h.opts.Path,
		PageSize: h.opts.PageSize,
		Logger:   h.log,
	})
	if errors.Is(err, feed.ErrUnauthenticated) {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// Upgrade HTTP connection to WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	log := h.log.With().Str("user", view.Viewer().ID).Logger()
	limiter := rate.NewLimiter(rate.Limit(h.opts.IntentRate), h.opts.IntentBurst)
	client := NewClient(h.hub, conn, view, limiter, log)
	if !h.hub.Register(client) {
		conn.Close()
		return
	}

	if err := view.Mount(); err != nil {
		log.Error().Err(err).Msg("feed mount failed")
		client.reportError("", err)
	}
	client.wake()

	go client.WritePump()
	// Intent writes outlive the upgrade request's context.
	client.ReadPump(context.WithoutCancel(r.Context()))
}
