package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/adi-253/livefeed/internal/config"
	"github.com/adi-253/livefeed/internal/models"
	"github.com/adi-253/livefeed/internal/store"
)

// Client is a store.Collection backed by a Supabase table through its REST API.
// Collection paths are table names. Subscriptions poll the newest rows and
// deliver the window whenever it changes.
type Client struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	pollInterval time.Duration
	maxBackoff   time.Duration
	clock        func() int64
	log          zerolog.Logger

	mu   sync.Mutex
	subs map[store.Subscription]context.CancelFunc
}

// NewClient creates a new Supabase client with the given configuration.
func NewClient(cfg *config.Config, log zerolog.Logger) *Client {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Client{
		baseURL: cfg.SupabaseURL,
		apiKey:  cfg.SupabaseKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		pollInterval: interval,
		maxBackoff:   30 * time.Second,
		clock:        func() int64 { return time.Now().UnixMilli() },
		log:          log,
		subs:         make(map[store.Subscription]context.CancelFunc),
	}
}

var _ store.Collection = (*Client)(nil)

// row is a message as stored in the table.
type row struct {
	ID        string `json:"id,omitempty"`
	Text      string `json:"text"`
	UserID    string `json:"user_id"`
	CreatedAt *int64 `json:"created_at,omitempty"`
	EditedAt  *int64 `json:"edited_at"`
}

func (r row) record() models.Record {
	rec := models.Record{Text: r.Text, AuthorID: r.UserID}
	if r.CreatedAt != nil {
		rec.CreatedAt = *r.CreatedAt
	}
	if r.EditedAt != nil {
		rec.EditedAt = *r.EditedAt
	}
	return rec
}

// doRequest executes an HTTP request to the Supabase REST API.
// It automatically adds authentication headers and handles the response.
func (c *Client) doRequest(ctx context.Context, method, endpoint string, body interface{}) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	reqURL := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, endpoint)
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("supabase error (status %d): %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// Append inserts a row. A ServerTimestamp creation time is left to the
// column default so the database clock assigns it.
func (c *Client) Append(ctx context.Context, path string, rec models.Record) (string, error) {
	if !store.ValidPath(path) {
		return "", store.ErrInvalidPath
	}
	r := c.toRow(rec)
	respBody, err := c.doRequest(ctx, http.MethodPost, path, r)
	if err != nil {
		return "", err
	}

	var rows []row
	if err := json.Unmarshal(respBody, &rows); err != nil {
		return "", fmt.Errorf("failed to parse inserted row: %w", err)
	}
	if len(rows) == 0 || rows[0].ID == "" {
		return "", fmt.Errorf("supabase returned no id for inserted row")
	}
	return rows[0].ID, nil
}

// Replace overwrites the whole row at itemPath, creating it if absent.
// ServerTimestamp values are stamped with the local clock since PostgREST
// bodies cannot reference now().
func (c *Client) Replace(ctx context.Context, itemPath string, rec models.Record) error {
	path, id, err := store.SplitItemPath(itemPath)
	if err != nil {
		return err
	}
	r := c.toRow(rec)
	r.ID = id
	if r.CreatedAt == nil {
		ts := c.clock()
		r.CreatedAt = &ts
	}
	endpoint := fmt.Sprintf("%s?id=eq.%s", path, url.QueryEscape(id))
	_, err = c.doRequest(ctx, http.MethodPut, endpoint, r)
	return err
}

// Delete removes the row at itemPath.
func (c *Client) Delete(ctx context.Context, itemPath string) error {
	path, id, err := store.SplitItemPath(itemPath)
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s?id=eq.%s", path, url.QueryEscape(id))
	_, err = c.doRequest(ctx, http.MethodDelete, endpoint, nil)
	return err
}

func (c *Client) toRow(rec models.Record) row {
	r := row{Text: rec.Text, UserID: rec.AuthorID}
	if rec.CreatedAt != store.ServerTimestamp {
		ts := rec.CreatedAt
		r.CreatedAt = &ts
	}
	switch rec.EditedAt {
	case 0:
	case store.ServerTimestamp:
		ts := c.clock()
		r.EditedAt = &ts
	default:
		ts := rec.EditedAt
		r.EditedAt = &ts
	}
	return r
}

// fetchWindow reads the newest limit rows of the table.
func (c *Client) fetchWindow(ctx context.Context, path string, limit int) (map[string]models.Record, error) {
	endpoint := fmt.Sprintf("%s?select=*&order=created_at.desc,id.desc&limit=%d", path, limit)
	respBody, err := c.doRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var rows []row
	if err := json.Unmarshal(respBody, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse rows: %w", err)
	}
	window := make(map[string]models.Record, len(rows))
	for _, r := range rows {
		window[r.ID] = r.record()
	}
	return window, nil
}

// Subscribe starts polling the window selected by q. The first poll runs
// immediately in the background.
func (c *Client) Subscribe(path string, q store.Query, onSnapshot store.SnapshotFunc, onError store.ErrorFunc) (store.Subscription, error) {
	if !store.ValidPath(path) {
		return "", store.ErrInvalidPath
	}
	if err := q.Validate(); err != nil {
		return "", err
	}

	ctx, cancel := context.WithCancel(context.Background())
	id := store.Subscription(uuid.New().String())

	c.mu.Lock()
	c.subs[id] = cancel
	c.mu.Unlock()

	go c.poll(ctx, id, path, q.Limit, onSnapshot, onError)
	c.log.Debug().Str("sub", string(id)).Str("table", path).Int("limit", q.Limit).Msg("polling subscription started")
	return id, nil
}

// Unsubscribe stops the poller for sub.
func (c *Client) Unsubscribe(sub store.Subscription) {
	c.mu.Lock()
	cancel, ok := c.subs[sub]
	delete(c.subs, sub)
	c.mu.Unlock()
	if ok {
		cancel()
		c.log.Debug().Str("sub", string(sub)).Msg("polling subscription stopped")
	}
}

// Close stops every poller.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, cancel := range c.subs {
		cancel()
		delete(c.subs, id)
	}
}

func (c *Client) poll(ctx context.Context, id store.Subscription, path string, limit int, onSnapshot store.SnapshotFunc, onError store.ErrorFunc) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.pollInterval
	b.MaxInterval = c.maxBackoff

	var last map[string]models.Record
	delivered := false
	for {
		wait := c.pollInterval
		window, err := c.fetchWindow(ctx, path, limit)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			wait = b.NextBackOff()
			c.log.Warn().Err(err).Str("sub", string(id)).Dur("retry_in", wait).Msg("poll failed")
			if onError != nil {
				onError(err)
			}
		default:
			b.Reset()
			if !delivered || !maps.Equal(window, last) {
				last = window
				delivered = true
				onSnapshot(models.Snapshot{Records: maps.Clone(window)})
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
