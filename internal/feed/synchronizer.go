// Package feed keeps a locally materialized, newest-first view of a remote
// message collection in step with its subscription, and turns user intents
// into writes against that collection.
package feed

import (
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/adi-253/livefeed/internal/models"
	"github.com/adi-253/livefeed/internal/store"
)

// PageIncrement is how many more messages each NextPage requests.
const PageIncrement = 5

var (
	// ErrInvalidPageLimit is returned by Start for limits below one.
	ErrInvalidPageLimit = errors.New("feed: page limit must be at least 1")

	// ErrNoMorePages is returned by NextPage while loading or when the feed is empty.
	ErrNoMorePages = errors.New("feed: no more pages to load")
)

// State is the synchronizer's view of the feed.
type State struct {
	// Items is newest first and never longer than PageLimit
	Items []models.Message

	// Empty is set when the store reported an empty collection; Items is nil then
	Empty bool

	// Loading is true from Start until the first snapshot of that subscription
	Loading bool

	PageLimit int

	// Err is the last delivery failure of the current subscription
	Err error
}

// CanLoadMore reports whether offering another page makes sense.
func (s State) CanLoadMore() bool {
	return !s.Loading && !s.Empty
}

// Synchronizer owns one subscription to an ordered remote collection and the
// list materialized from its snapshots.
//
// Listeners registered with OnChange run with the synchronizer's lock held and
// must not call back into it.
type Synchronizer struct {
	mu   sync.Mutex
	coll store.Collection
	path string
	log  zerolog.Logger

	sub    store.Subscription
	active bool

	// gen identifies the current subscription; callbacks carrying an older
	// generation are dropped
	gen uint64

	state     State
	listeners []func(State)
}

// NewSynchronizer creates an idle synchronizer for the collection at path.
func NewSynchronizer(coll store.Collection, path string, log zerolog.Logger) *Synchronizer {
	return &Synchronizer{
		coll:  coll,
		path:  path,
		log:   log,
		state: State{Items: []models.Message{}},
	}
}

// OnChange registers fn to receive every state transition.
func (s *Synchronizer) OnChange(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Start subscribes to the newest pageLimit messages. An active subscription is
// torn down first. Loading is set before the subscription is opened.
func (s *Synchronizer) Start(pageLimit int) error {
	if pageLimit < 1 {
		return ErrInvalidPageLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(pageLimit)
}

func (s *Synchronizer) startLocked(pageLimit int) error {
	s.stopLocked()

	s.state.Loading = true
	s.state.PageLimit = pageLimit
	s.state.Err = nil
	s.notifyLocked()

	gen := s.gen
	sub, err := s.coll.Subscribe(s.path,
		store.Query{OrderBy: store.OrderByCreatedAt, Limit: pageLimit},
		func(snap models.Snapshot) { s.onSnapshot(gen, snap) },
		func(err error) { s.onError(gen, err) },
	)
	if err != nil {
		s.state.Err = err
		s.notifyLocked()
		s.log.Error().Err(err).Str("path", s.path).Int("limit", pageLimit).Msg("subscribe failed")
		return err
	}
	s.sub = sub
	s.active = true
	s.log.Debug().Str("path", s.path).Int("limit", pageLimit).Msg("feed subscribed")
	return nil
}

// NextPage widens the window by PageIncrement and resubscribes.
func (s *Synchronizer) NextPage() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || !s.state.CanLoadMore() {
		return ErrNoMorePages
	}
	return s.startLocked(s.state.PageLimit + PageIncrement)
}

// Stop cancels the active subscription. It is a no-op when none is active.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Synchronizer) stopLocked() {
	// bumping the generation first suppresses anything the old subscription
	// still has in flight
	s.gen++
	if !s.active {
		return
	}
	s.coll.Unsubscribe(s.sub)
	s.active = false
	s.sub = ""
	s.log.Debug().Str("path", s.path).Msg("feed unsubscribed")
}

// State returns a copy of the current state.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

// Find returns the most recently synchronized copy of the message with id.
func (s *Synchronizer) Find(id string) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.state.Items {
		if m.ID == id {
			return m, true
		}
	}
	return models.Message{}, false
}

func (s *Synchronizer) onSnapshot(gen uint64, snap models.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || !s.active {
		s.log.Debug().Uint64("gen", gen).Msg("stale snapshot dropped")
		return
	}

	s.state.Loading = false
	s.state.Err = nil
	if snap.Empty() {
		s.state.Items = nil
		s.state.Empty = true
	} else {
		s.state.Items = Materialize(snap, s.state.PageLimit)
		s.state.Empty = false
	}
	s.notifyLocked()
}

func (s *Synchronizer) onError(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || !s.active {
		return
	}
	// Items are left untouched; Loading stays true if nothing arrived yet.
	s.state.Err = err
	s.log.Warn().Err(err).Str("path", s.path).Bool("loading", s.state.Loading).Msg("feed delivery failed")
	s.notifyLocked()
}

func (s *Synchronizer) notifyLocked() {
	if len(s.listeners) == 0 {
		return
	}
	st := s.copyLocked()
	for _, fn := range s.listeners {
		fn(st)
	}
}

func (s *Synchronizer) copyLocked() State {
	st := s.state
	if s.state.Items != nil {
		st.Items = append([]models.Message(nil), s.state.Items...)
		if st.Items == nil {
			st.Items = []models.Message{}
		}
	}
	return st
}

// Materialize converts a snapshot into messages ordered newest first, keeping
// at most limit of the newest. Ties on CreatedAt are broken by key.
func Materialize(snap models.Snapshot, limit int) []models.Message {
	items := make([]models.Message, 0, len(snap.Records))
	for key, rec := range snap.Records {
		items = append(items, rec.WithID(key))
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt != items[j].CreatedAt {
			return items[i].CreatedAt > items[j].CreatedAt
		}
		return items[i].ID > items[j].ID
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
