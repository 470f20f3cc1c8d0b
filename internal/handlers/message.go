package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/adi-253/livefeed/internal/feed"
	"github.com/adi-253/livefeed/internal/identity"
	"github.com/adi-253/livefeed/internal/models"
	"github.com/adi-253/livefeed/internal/store"
)

// maxListLimit caps the limit query parameter of GetMessages.
const maxListLimit = 100

// fetchTimeout bounds how long GetMessages waits for the first snapshot.
const fetchTimeout = 5 * time.Second

// MessageHandler contains HTTP handlers for message operations.
// Provides a request/response alternative to the websocket feed.
type MessageHandler struct {
	coll     store.Collection
	path     string
	pageSize int
	disp     *feed.Dispatcher
	log      zerolog.Logger
}

// NewMessageHandler creates a new MessageHandler instance.
func NewMessageHandler(coll store.Collection, path string, pageSize int, log zerolog.Logger) *MessageHandler {
	if pageSize <= 0 {
		pageSize = feed.DefaultPageSize
	}
	return &MessageHandler{
		coll:     coll,
		path:     path,
		pageSize: pageSize,
		disp:     feed.NewDispatcher(coll, path, log),
		log:      log,
	}
}

// CreateMessageRequest is the body of POST /api/messages.
type CreateMessageRequest struct {
	Text string `json:"text"`
}

// CreateMessageResponse carries the id the store assigned.
type CreateMessageResponse struct {
	ID string `json:"id"`
}

// GetMessagesResponse lists messages newest first.
type GetMessagesResponse struct {
	Messages []models.Message `json:"messages"`
	Empty    bool             `json:"empty"`
}

// SendMessage handles POST /api/messages
// Creates a message authored by the authenticated user.
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	who, ok := identity.FromContext(r.Context())
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var req CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}

	id, err := h.disp.Create(r.Context(), req.Text, who.ID)
	if err != nil {
		http.Error(w, "failed to create message", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusCreated, CreateMessageResponse{ID: id})
}

// GetMessages handles GET /api/messages
// Returns the newest messages, newest first.
// Query params:
//   - limit: how many messages to return (defaults to the page size)
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	limit := h.pageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			http.Error(w, "limit must be between 1 and 100", http.StatusBadRequest)
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), fetchTimeout)
	defer cancel()

	messages, err := feed.Fetch(ctx, h.coll, h.path, limit, h.log)
	if err != nil {
		h.log.Warn().Err(err).Int("limit", limit).Msg("message list failed")
		http.Error(w, "failed to load messages", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, GetMessagesResponse{
		Messages: messages,
		Empty:    messages == nil,
	})
}

// writeJSON writes data as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
