// Package store defines the contract between the feed and the remote collection
// that holds its messages.
//
// A collection is an ordered, keyed set of records addressed by a path
// ("messages") with items addressed by item paths ("messages/<id>"). Subscribers
// receive the complete state of their requested window on subscribe and after
// every change inside it, never a diff.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/adi-253/livefeed/internal/models"
)

// ServerTimestamp may be placed in Record.CreatedAt or Record.EditedAt; the
// collection replaces it with its own clock when the write is committed.
const ServerTimestamp int64 = -1

// OrderByCreatedAt is the only order key the feed requests.
const OrderByCreatedAt = "createdAt"

var (
	// ErrNotFound is returned when an item path does not exist.
	ErrNotFound = errors.New("store: item not found")

	// ErrInvalidPath is returned for malformed collection or item paths.
	ErrInvalidPath = errors.New("store: invalid path")

	// ErrInvalidQuery is returned when a subscription query cannot be served.
	ErrInvalidQuery = errors.New("store: invalid query")

	// ErrClosed is returned after the collection has been closed.
	ErrClosed = errors.New("store: closed")
)

// Query selects the window a subscription observes: the last Limit records when
// ordered ascending by OrderBy.
type Query struct {
	OrderBy string
	Limit   int
}

// Validate checks that the query can be served.
func (q Query) Validate() error {
	if q.OrderBy != OrderByCreatedAt {
		return ErrInvalidQuery
	}
	if q.Limit < 1 {
		return ErrInvalidQuery
	}
	return nil
}

// Subscription is an opaque handle returned by Subscribe.
type Subscription string

// SnapshotFunc receives the full current state of the subscribed window.
type SnapshotFunc func(models.Snapshot)

// ErrorFunc receives delivery failures for a subscription.
type ErrorFunc func(error)

// Collection is the remote collection client consumed by the feed.
//
// Implementations must deliver snapshots of one subscription in order and must
// never invoke a callback synchronously from inside Subscribe or Unsubscribe.
// Writes are independent of subscriptions; their effects are observed only
// through later snapshots.
type Collection interface {
	Subscribe(path string, q Query, onSnapshot SnapshotFunc, onError ErrorFunc) (Subscription, error)
	Unsubscribe(sub Subscription)
	Append(ctx context.Context, path string, rec models.Record) (string, error)
	Replace(ctx context.Context, itemPath string, rec models.Record) error
	Delete(ctx context.Context, itemPath string) error
}

// ItemPath joins a collection path and an item key.
func ItemPath(path, id string) string {
	return path + "/" + id
}

// SplitItemPath splits "collection/key" into its parts.
func SplitItemPath(itemPath string) (path, id string, err error) {
	i := strings.LastIndex(itemPath, "/")
	if i <= 0 || i == len(itemPath)-1 {
		return "", "", ErrInvalidPath
	}
	return itemPath[:i], itemPath[i+1:], nil
}

// ValidPath reports whether path names a collection.
func ValidPath(path string) bool {
	return path != "" && !strings.HasPrefix(path, "/") && !strings.HasSuffix(path, "/")
}
