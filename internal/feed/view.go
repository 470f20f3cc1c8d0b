package feed

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/adi-253/livefeed/internal/identity"
	"github.com/adi-253/livefeed/internal/models"
	"github.com/adi-253/livefeed/internal/store"
)

// DefaultPageSize is the number of messages requested when a view mounts.
const DefaultPageSize = 5

var (
	// ErrUnauthenticated is returned when no identity is available for a view.
	ErrUnauthenticated = errors.New("feed: not signed in")

	// ErrEmptyText is returned when creating a message with blank text.
	ErrEmptyText = errors.New("feed: message text is empty")

	// ErrNotAuthor is returned when acting on someone else's message.
	ErrNotAuthor = errors.New("feed: only the author may modify this message")

	// ErrMessageNotFound is returned for ids not in the current feed.
	ErrMessageNotFound = errors.New("feed: message not found")
)

// ViewOptions configures a View.
type ViewOptions struct {
	// Path is the collection path, "messages" if empty
	Path string

	// PageSize is the initial page limit, DefaultPageSize if zero
	PageSize int

	Logger zerolog.Logger
}

// View is one user's feed: the synchronizer, the dispatcher for their
// intents, and their open edit sessions. Edit and delete are offered only on
// the viewer's own messages.
type View struct {
	viewer   identity.Identity
	sync     *Synchronizer
	disp     *Dispatcher
	sessions *EditSessions
	pageSize int
	log      zerolog.Logger

	mu        sync.Mutex
	mounted   bool
	unmounted bool
	listeners []func()
}

// NewView creates a view for the identity ids reports for ctx.
func NewView(ctx context.Context, ids identity.Provider, coll store.Collection, opts ViewOptions) (*View, error) {
	viewer, ok := ids.Current(ctx)
	if !ok {
		return nil, ErrUnauthenticated
	}
	if opts.Path == "" {
		opts.Path = "messages"
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	log := opts.Logger.With().Str("viewer", viewer.ID).Logger()

	v := &View{
		viewer:   viewer,
		sync:     NewSynchronizer(coll, opts.Path, log),
		disp:     NewDispatcher(coll, opts.Path, log),
		sessions: NewEditSessions(),
		pageSize: opts.PageSize,
		log:      log,
	}
	v.sync.OnChange(func(st State) {
		v.sessions.Retain(st.Items)
		v.changed()
	})
	return v, nil
}

// Viewer returns the identity the view was created for.
func (v *View) Viewer() identity.Identity {
	return v.viewer
}

// OnUpdate registers fn to be called whenever Render would return something
// new. fn must not block and must not call back into the view synchronously.
func (v *View) OnUpdate(fn func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.listeners = append(v.listeners, fn)
}

// Mount starts the feed subscription. Mounting twice is a no-op.
func (v *View) Mount() error {
	v.mu.Lock()
	if v.mounted || v.unmounted {
		v.mu.Unlock()
		return nil
	}
	v.mounted = true
	v.mu.Unlock()
	return v.sync.Start(v.pageSize)
}

// Unmount stops the subscription and discards every edit session. Only the
// first call has an effect; a view cannot be mounted again afterwards.
func (v *View) Unmount() {
	v.mu.Lock()
	if v.unmounted {
		v.mu.Unlock()
		return
	}
	v.unmounted = true
	v.mu.Unlock()

	v.sync.Stop()
	v.sessions.Clear()
	v.log.Debug().Msg("feed view unmounted")
}

// Create posts text as a new message by the viewer.
func (v *View) Create(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}
	return v.disp.Create(ctx, text, v.viewer.ID)
}

// Remove deletes one of the viewer's messages.
func (v *View) Remove(ctx context.Context, id string) error {
	msg, err := v.own(id)
	if err != nil {
		return err
	}
	return v.disp.Remove(ctx, msg.ID)
}

// ToggleEdit opens or discards the edit session of one of the viewer's messages.
func (v *View) ToggleEdit(id string) error {
	msg, err := v.own(id)
	if err != nil {
		return err
	}
	v.sessions.Toggle(msg)
	v.changed()
	return nil
}

// ChangeDraft updates the draft of an open edit session.
func (v *View) ChangeDraft(id, text string) error {
	if err := v.sessions.Change(id, text); err != nil {
		return err
	}
	v.changed()
	return nil
}

// SaveEdit writes the draft over the latest synchronized copy of the message
// and closes the session without waiting for the write to show up.
func (v *View) SaveEdit(ctx context.Context, id string) error {
	msg, err := v.own(id)
	if err != nil {
		v.sessions.Reset(id)
		v.changed()
		return err
	}
	err = v.sessions.Save(ctx, v.disp, msg)
	v.changed()
	return err
}

// ResetEdit discards the edit session for id.
func (v *View) ResetEdit(id string) {
	v.sessions.Reset(id)
	v.changed()
}

// NextPage asks for PageIncrement more messages.
func (v *View) NextPage() error {
	return v.sync.NextPage()
}

// State exposes the synchronizer state.
func (v *View) State() State {
	return v.sync.State()
}

func (v *View) own(id string) (models.Message, error) {
	msg, ok := v.sync.Find(id)
	if !ok {
		return models.Message{}, ErrMessageNotFound
	}
	if msg.AuthorID != v.viewer.ID {
		return models.Message{}, ErrNotAuthor
	}
	return msg, nil
}

func (v *View) changed() {
	v.mu.Lock()
	listeners := v.listeners
	v.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// ItemView is one rendered message.
type ItemView struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Author    string `json:"author"`
	AuthorID  string `json:"userId"`
	CreatedAt int64  `json:"createdAt"`
	Edited    bool   `json:"edited"`
	CanModify bool   `json:"canModify"`
	Editing   bool   `json:"editing"`
	Draft     string `json:"draft,omitempty"`
}

// ViewModel is everything a client needs to draw the feed.
type ViewModel struct {
	// Items is null when the collection is empty
	Items       []ItemView `json:"items"`
	Empty       bool       `json:"empty"`
	Loading     bool       `json:"loading"`
	CanLoadMore bool       `json:"canLoadMore"`
	PageLimit   int        `json:"pageLimit"`
	Error       string     `json:"error,omitempty"`
}

// Render builds the view model from the current state and edit sessions.
func (v *View) Render() ViewModel {
	st := v.sync.State()
	vm := ViewModel{
		Empty:       st.Empty,
		Loading:     st.Loading,
		CanLoadMore: st.CanLoadMore(),
		PageLimit:   st.PageLimit,
	}
	if st.Err != nil {
		vm.Error = st.Err.Error()
	}
	if st.Items == nil {
		return vm
	}

	vm.Items = make([]ItemView, 0, len(st.Items))
	for _, m := range st.Items {
		item := ItemView{
			ID:        m.ID,
			Text:      m.Text,
			Author:    m.AuthorID,
			AuthorID:  m.AuthorID,
			CreatedAt: m.CreatedAt,
			Edited:    m.Edited(),
			CanModify: m.AuthorID == v.viewer.ID,
		}
		if item.CanModify {
			item.Author = v.viewer.Label()
			item.Draft, item.Editing = v.sessions.Draft(m.ID)
		}
		vm.Items = append(vm.Items, item)
	}
	return vm
}
