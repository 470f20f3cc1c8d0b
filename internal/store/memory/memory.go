// Package memory is an in-process implementation of store.Collection.
//
// Every write recomputes the window of each subscription on the written path and
// queues it for delivery when it differs from the window last queued. Each
// subscription has its own delivery goroutine; if several windows pile up before
// it runs, only the newest is delivered.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/adi-253/livefeed/internal/models"
	"github.com/adi-253/livefeed/internal/store"
)

// Collection holds records per path in memory.
type Collection struct {
	mu     sync.Mutex
	data   map[string]map[string]models.Record
	subs   map[store.Subscription]*listener
	clock  func() int64
	lastTS int64
	closed bool
	log    zerolog.Logger
}

// Option configures a Collection.
type Option func(*Collection)

// WithClock overrides the millisecond clock used to resolve server timestamps.
func WithClock(clock func() int64) Option {
	return func(c *Collection) { c.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Collection) { c.log = log }
}

// New creates an empty collection store.
func New(opts ...Option) *Collection {
	c := &Collection{
		data:  make(map[string]map[string]models.Record),
		subs:  make(map[store.Subscription]*listener),
		clock: func() int64 { return time.Now().UnixMilli() },
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ store.Collection = (*Collection)(nil)

// Subscribe registers onSnapshot for the window selected by q on path.
// The initial window is delivered asynchronously. onError is never called by
// this implementation.
func (c *Collection) Subscribe(path string, q store.Query, onSnapshot store.SnapshotFunc, onError store.ErrorFunc) (store.Subscription, error) {
	if !store.ValidPath(path) {
		return "", store.ErrInvalidPath
	}
	if err := q.Validate(); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", store.ErrClosed
	}

	id := store.Subscription(uuid.New().String())
	l := &listener{
		path:       path,
		query:      q,
		onSnapshot: onSnapshot,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	c.subs[id] = l
	l.last = store.Window(c.data[path], q.Limit)
	l.queue(l.last)
	go l.run()

	c.log.Debug().Str("sub", string(id)).Str("path", path).Int("limit", q.Limit).Msg("subscribed")
	return id, nil
}

// Unsubscribe stops delivery to sub. Unknown handles are ignored.
func (c *Collection) Unsubscribe(sub store.Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.subs[sub]
	if !ok {
		return
	}
	delete(c.subs, sub)
	close(l.done)
	c.log.Debug().Str("sub", string(sub)).Msg("unsubscribed")
}

// Append stores rec under a newly generated, time-ordered key.
func (c *Collection) Append(ctx context.Context, path string, rec models.Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !store.ValidPath(path) {
		return "", store.ErrInvalidPath
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", store.ErrClosed
	}

	key := ulid.Make().String()
	set := c.data[path]
	if set == nil {
		set = make(map[string]models.Record)
		c.data[path] = set
	}
	set[key] = c.resolve(rec)
	c.publish(path)
	return key, nil
}

// Replace overwrites the record at itemPath, creating it if absent.
func (c *Collection) Replace(ctx context.Context, itemPath string, rec models.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, key, err := store.SplitItemPath(itemPath)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return store.ErrClosed
	}

	set := c.data[path]
	if set == nil {
		set = make(map[string]models.Record)
		c.data[path] = set
	}
	set[key] = c.resolve(rec)
	c.publish(path)
	return nil
}

// Delete removes the record at itemPath. Deleting a missing record is a no-op.
func (c *Collection) Delete(ctx context.Context, itemPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, key, err := store.SplitItemPath(itemPath)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return store.ErrClosed
	}

	set := c.data[path]
	if _, ok := set[key]; !ok {
		return nil
	}
	delete(set, key)
	c.publish(path)
	return nil
}

// Get returns the record stored at itemPath.
func (c *Collection) Get(itemPath string) (models.Record, error) {
	path, key, err := store.SplitItemPath(itemPath)
	if err != nil {
		return models.Record{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.data[path][key]
	if !ok {
		return models.Record{}, store.ErrNotFound
	}
	return rec, nil
}

// Subscribers returns the number of active subscriptions.
func (c *Collection) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Close stops every subscription and rejects further calls.
func (c *Collection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, l := range c.subs {
		close(l.done)
		delete(c.subs, id)
	}
}

// resolve replaces ServerTimestamp sentinels. Timestamps handed out are
// strictly increasing so creation order is total.
func (c *Collection) resolve(rec models.Record) models.Record {
	if rec.CreatedAt == store.ServerTimestamp {
		rec.CreatedAt = c.tick()
	}
	if rec.EditedAt == store.ServerTimestamp {
		rec.EditedAt = c.tick()
	}
	return rec
}

func (c *Collection) tick() int64 {
	ts := c.clock()
	if ts <= c.lastTS {
		ts = c.lastTS + 1
	}
	c.lastTS = ts
	return ts
}

// publish must be called with c.mu held.
func (c *Collection) publish(path string) {
	for _, l := range c.subs {
		if l.path != path {
			continue
		}
		w := store.Window(c.data[path], l.query.Limit)
		if maps.Equal(w, l.last) {
			continue
		}
		l.last = w
		l.queue(w)
	}
}

type listener struct {
	path       string
	query      store.Query
	onSnapshot store.SnapshotFunc

	// last is the window most recently queued; guarded by Collection.mu
	last map[string]models.Record

	mu      sync.Mutex
	pending *models.Snapshot
	wake    chan struct{}
	done    chan struct{}
}

func (l *listener) queue(w map[string]models.Record) {
	snap := models.Snapshot{Records: maps.Clone(w)}
	l.mu.Lock()
	l.pending = &snap
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *listener) run() {
	for {
		select {
		case <-l.done:
			return
		case <-l.wake:
		}

		l.mu.Lock()
		snap := l.pending
		l.pending = nil
		l.mu.Unlock()
		if snap == nil {
			continue
		}

		select {
		case <-l.done:
			return
		default:
		}
		l.onSnapshot(*snap)
	}
}
