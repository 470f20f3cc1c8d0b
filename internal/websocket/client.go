package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/adi-253/livefeed/internal/feed"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 16 * 1024

	// Time allowed for one intent's store write
	intentTimeout = 10 * time.Second
)

// Intent types sent by clients.
const (
	IntentCreate     = "create"
	IntentDelete     = "delete"
	IntentEditToggle = "edit_toggle"
	IntentEditChange = "edit_change"
	IntentEditSave   = "edit_save"
	IntentEditReset  = "edit_reset"
	IntentMore       = "more"
)

// Frame types sent to clients.
const (
	FrameState = "state"
	FrameError = "error"
)

var (
	errUnknownIntent = errors.New("unknown intent")
	errRateLimited   = errors.New("too many intents, slow down")
)

// IntentPayload carries the arguments of any intent.
type IntentPayload struct {
	ID   string `json:"id,omitempty"`
	Text string `json:"text,omitempty"`
}

// ErrorPayload reports a failed intent.
type ErrorPayload struct {
	Intent string `json:"intent"`
	Error  string `json:"error"`
}

// Client is one websocket connection bound to one feed view.
type Client struct {
	hub *Hub

	// WebSocket connection
	conn *websocket.Conn

	// view is the connection's feed
	view *feed.View

	// Buffered channel of outbound error frames
	send chan []byte

	// notify holds at most one pending render
	notify chan struct{}

	// done is closed when the read pump exits
	done chan struct{}

	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewClient creates a new Client instance and subscribes it to view updates.
func NewClient(hub *Hub, conn *websocket.Conn, view *feed.View, limiter *rate.Limiter, log zerolog.Logger) *Client {
	c := &Client{
		hub:     hub,
		conn:    conn,
		view:    view,
		send:    make(chan []byte, 16),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		limiter: limiter,
		log:     log,
	}
	view.OnUpdate(c.wake)
	return c
}

// wake schedules a render; renders already pending absorb it.
func (c *Client) wake() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// ReadPump reads intents from the connection and applies them to the view.
// It returns when the connection fails or closes, after unmounting the view.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		close(c.done)
		c.hub.Unregister(c)
		c.conn.Close()
		c.view.Unmount()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("feed connection read failed")
			}
			return
		}

		// every frame spends a token, malformed ones included
		if !c.limiter.Allow() {
			c.reportError("", errRateLimited)
			continue
		}
		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.reportError("", fmt.Errorf("malformed frame: %w", err))
			continue
		}
		if err := c.apply(ctx, frame); err != nil {
			c.reportError(frame.Type, err)
		}
	}
}

// apply dispatches one intent to the view.
func (c *Client) apply(ctx context.Context, frame Frame) error {
	var p IntentPayload
	if len(frame.Payload) > 0 {
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return fmt.Errorf("malformed payload: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, intentTimeout)
	defer cancel()

	switch frame.Type {
	case IntentCreate:
		_, err := c.view.Create(ctx, p.Text)
		return err
	case IntentDelete:
		return c.view.Remove(ctx, p.ID)
	case IntentEditToggle:
		return c.view.ToggleEdit(p.ID)
	case IntentEditChange:
		return c.view.ChangeDraft(p.ID, p.Text)
	case IntentEditSave:
		return c.view.SaveEdit(ctx, p.ID)
	case IntentEditReset:
		c.view.ResetEdit(p.ID)
		return nil
	case IntentMore:
		return c.view.NextPage()
	default:
		return fmt.Errorf("%w %q", errUnknownIntent, frame.Type)
	}
}

// reportError queues an error frame, dropping it if the client is not keeping up.
func (c *Client) reportError(intent string, err error) {
	c.log.Debug().Err(err).Str("intent", intent).Msg("intent failed")
	payload, _ := json.Marshal(ErrorPayload{Intent: intent, Error: err.Error()})
	frame, _ := json.Marshal(Frame{Type: FrameError, Payload: payload})
	select {
	case c.send <- frame:
	default:
		c.log.Warn().Str("intent", intent).Msg("error frame dropped, send buffer full")
	}
}

// WritePump writes rendered feed state and error frames to the connection.
// Only the latest state is written when renders pile up.
// This runs in its own goroutine per client
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-c.notify:
			payload, err := json.Marshal(c.view.Render())
			if err != nil {
				c.log.Error().Err(err).Msg("failed to encode feed state")
				continue
			}
			frame, _ := json.Marshal(Frame{Type: FrameState, Payload: payload})
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
