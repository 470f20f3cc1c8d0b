package feed

import (
	"context"
	"errors"
	"sync"

	"github.com/adi-253/livefeed/internal/models"
)

// ErrNotEditing is returned for draft operations on a message that has no
// open edit session.
var ErrNotEditing = errors.New("feed: message is not being edited")

// EditSessions holds the in-progress edits of one feed view, keyed by message
// id so they survive reordering between snapshots. A message without an entry
// is in the Viewing state.
type EditSessions struct {
	mu     sync.Mutex
	drafts map[string]string
}

// NewEditSessions returns an empty set of sessions.
func NewEditSessions() *EditSessions {
	return &EditSessions{drafts: make(map[string]string)}
}

// Toggle enters Editing with the committed text of msg as the draft, or
// discards the open session if there is one. It reports whether msg is being
// edited afterwards.
func (e *EditSessions) Toggle(msg models.Message) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.drafts[msg.ID]; ok {
		delete(e.drafts, msg.ID)
		return false
	}
	e.drafts[msg.ID] = msg.Text
	return true
}

// Change replaces the draft of an open session.
func (e *EditSessions) Change(id, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.drafts[id]; !ok {
		return ErrNotEditing
	}
	e.drafts[id] = text
	return nil
}

// Reset discards the session for id without writing anything.
func (e *EditSessions) Reset(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.drafts, id)
}

// Save commits the draft through d against msg and closes the session
// whatever the outcome of the write.
func (e *EditSessions) Save(ctx context.Context, d *Dispatcher, msg models.Message) error {
	e.mu.Lock()
	draft, ok := e.drafts[msg.ID]
	delete(e.drafts, msg.ID)
	e.mu.Unlock()
	if !ok {
		return ErrNotEditing
	}
	return d.Edit(ctx, msg, draft)
}

// Draft returns the draft for id and whether a session is open.
func (e *EditSessions) Draft(id string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	draft, ok := e.drafts[id]
	return draft, ok
}

// Retain discards sessions whose message is no longer in items.
func (e *EditSessions) Retain(items []models.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.drafts) == 0 {
		return
	}
	present := make(map[string]struct{}, len(items))
	for _, m := range items {
		present[m.ID] = struct{}{}
	}
	for id := range e.drafts {
		if _, ok := present[id]; !ok {
			delete(e.drafts, id)
		}
	}
}

// Clear discards every session.
func (e *EditSessions) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	clear(e.drafts)
}

// Len returns the number of open sessions.
func (e *EditSessions) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.drafts)
}
