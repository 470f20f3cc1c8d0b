package feed

import (
	"context"
	"fmt"
	"sync"

	"github.com/adi-253/livefeed/internal/models"
	"github.com/adi-253/livefeed/internal/store"
)

// fakeCollection records calls and lets tests deliver snapshots by hand.
type fakeCollection struct {
	mu       sync.Mutex
	next     int
	subs     map[store.Subscription]*fakeSub
	order    []store.Subscription
	writes   []fakeWrite
	writeErr error
	subErr   error
}

type fakeSub struct {
	query      store.Query
	onSnapshot store.SnapshotFunc
	onError    store.ErrorFunc
	active     bool
}

type fakeWrite struct {
	op   string
	path string
	rec  models.Record
}

func newFakeCollection() *fakeCollection {
	return &fakeCollection{subs: make(map[store.Subscription]*fakeSub)}
}

func (f *fakeCollection) Subscribe(path string, q store.Query, onSnapshot store.SnapshotFunc, onError store.ErrorFunc) (store.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return "", f.subErr
	}
	f.next++
	id := store.Subscription(fmt.Sprintf("sub-%d", f.next))
	f.subs[id] = &fakeSub{query: q, onSnapshot: onSnapshot, onError: onError, active: true}
	f.order = append(f.order, id)
	return id, nil
}

func (f *fakeCollection) Unsubscribe(sub store.Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.subs[sub]; ok {
		s.active = false
	}
}

func (f *fakeCollection) Append(_ context.Context, path string, rec models.Record) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return "", f.writeErr
	}
	f.writes = append(f.writes, fakeWrite{op: "append", path: path, rec: rec})
	return fmt.Sprintf("gen-%d", len(f.writes)), nil
}

func (f *fakeCollection) Replace(_ context.Context, itemPath string, rec models.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, fakeWrite{op: "replace", path: itemPath, rec: rec})
	return nil
}

func (f *fakeCollection) Delete(_ context.Context, itemPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, fakeWrite{op: "delete", path: itemPath})
	return nil
}

// sub returns the nth subscription ever opened, starting at zero.
func (f *fakeCollection) sub(n int) *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[f.order[n]]
}

func (f *fakeCollection) activeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.subs {
		if s.active {
			n++
		}
	}
	return n
}

func (f *fakeCollection) subscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.order)
}

func (f *fakeCollection) lastWrite() fakeWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes[len(f.writes)-1]
}

func snapshotOf(recs map[string]models.Record) models.Snapshot {
	return models.Snapshot{Records: recs}
}

func rec(text, author string, createdAt int64) models.Record {
	return models.Record{Text: text, AuthorID: author, CreatedAt: createdAt}
}
