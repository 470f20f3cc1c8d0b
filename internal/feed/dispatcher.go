package feed

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/adi-253/livefeed/internal/models"
	"github.com/adi-253/livefeed/internal/store"
)

// Dispatcher turns user intents into writes against the collection. It keeps
// no state; results become visible only through later snapshots.
type Dispatcher struct {
	coll store.Collection
	path string
	log  zerolog.Logger
}

// NewDispatcher creates a dispatcher writing to the collection at path.
func NewDispatcher(coll store.Collection, path string, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{coll: coll, path: path, log: log}
}

// Create appends a new message and returns the key the store generated.
// The caller is responsible for rejecting empty text.
func (d *Dispatcher) Create(ctx context.Context, text, authorID string) (string, error) {
	id, err := d.coll.Append(ctx, d.path, models.Record{
		Text:      text,
		AuthorID:  authorID,
		CreatedAt: store.ServerTimestamp,
	})
	if err != nil {
		d.log.Error().Err(err).Str("author", authorID).Msg("create message failed")
		return "", fmt.Errorf("create message: %w", err)
	}
	d.log.Info().Str("id", id).Str("author", authorID).Msg("message created")
	return id, nil
}

// Remove deletes the message with id. Authorship is not checked here.
func (d *Dispatcher) Remove(ctx context.Context, id string) error {
	if err := d.coll.Delete(ctx, store.ItemPath(d.path, id)); err != nil {
		d.log.Error().Err(err).Str("id", id).Msg("remove message failed")
		return fmt.Errorf("remove message %s: %w", id, err)
	}
	d.log.Info().Str("id", id).Msg("message removed")
	return nil
}

// Edit replaces the whole stored record of msg with newText and a fresh
// edit timestamp. Fields missing from msg are lost, so msg must be the most
// recently synchronized copy.
func (d *Dispatcher) Edit(ctx context.Context, msg models.Message, newText string) error {
	rec := msg.Record()
	rec.Text = newText
	rec.EditedAt = store.ServerTimestamp
	if err := d.coll.Replace(ctx, store.ItemPath(d.path, msg.ID), rec); err != nil {
		d.log.Error().Err(err).Str("id", msg.ID).Msg("edit message failed")
		return fmt.Errorf("edit message %s: %w", msg.ID, err)
	}
	d.log.Info().Str("id", msg.ID).Msg("message edited")
	return nil
}
