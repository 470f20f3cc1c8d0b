package feed

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/adi-253/livefeed/internal/models"
	"github.com/adi-253/livefeed/internal/store"
)

// Fetch reads the newest limit messages once: it subscribes, waits for the
// first snapshot and unsubscribes. The returned slice is nil when the
// collection is empty.
func Fetch(ctx context.Context, coll store.Collection, path string, limit int, log zerolog.Logger) ([]models.Message, error) {
	s := NewSynchronizer(coll, path, log)
	ready := make(chan State, 1)
	s.OnChange(func(st State) {
		if st.Loading {
			return
		}
		select {
		case ready <- st:
		default:
		}
	})

	if err := s.Start(limit); err != nil {
		return nil, err
	}
	defer s.Stop()

	select {
	case st := <-ready:
		return st.Items, nil
	case <-ctx.Done():
		if err := s.State().Err; err != nil {
			return nil, err
		}
		return nil, ctx.Err()
	}
}
