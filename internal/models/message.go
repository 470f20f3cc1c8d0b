package models

// Message is one entry of the feed as materialized from the remote collection.
// The store assigns ID and CreatedAt; neither changes for the lifetime of the message.
type Message struct {
	// ID is the key the store generated when the message was appended
	ID string `json:"id"`

	// Text is the mutable message body
	Text string `json:"text"`

	// AuthorID identifies the identity that created the message
	AuthorID string `json:"userId"`

	// CreatedAt is the server-assigned creation time in milliseconds; the feed sort key
	CreatedAt int64 `json:"createdAt"`

	// EditedAt is the server-assigned time of the last edit, zero if never edited
	EditedAt int64 `json:"editedAt,omitempty"`
}

// Edited reports whether the message has been edited at least once.
func (m Message) Edited() bool {
	return m.EditedAt != 0
}

// Record returns the stored form of the message: every field except its ID.
func (m Message) Record() Record {
	return Record{
		Text:      m.Text,
		AuthorID:  m.AuthorID,
		CreatedAt: m.CreatedAt,
		EditedAt:  m.EditedAt,
	}
}

// Record is a message as it lives in the collection, keyed externally by its ID.
type Record struct {
	Text      string `json:"text"`
	AuthorID  string `json:"userId"`
	CreatedAt int64  `json:"createdAt"`
	EditedAt  int64  `json:"editedAt,omitempty"`
}

// WithID attaches a key to the record, producing a Message.
func (r Record) WithID(id string) Message {
	return Message{
		ID:        id,
		Text:      r.Text,
		AuthorID:  r.AuthorID,
		CreatedAt: r.CreatedAt,
		EditedAt:  r.EditedAt,
	}
}

// Snapshot is the complete state of a subscribed window at one point in time.
// A nil or zero-length Records map denotes an empty collection.
type Snapshot struct {
	Records map[string]Record
}

// Empty reports whether the snapshot denotes an empty collection.
func (s Snapshot) Empty() bool {
	return len(s.Records) == 0
}
