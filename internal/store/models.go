package store

import (
	"encoding/json"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// Event is one row of the append-only SoT log. Payload is nil when the
// producer sent none; that is stored as NULL, not as an empty object.
type Event struct {
	Seq        int64
	EventID    string
	TS         time.Time
	Source     string
	Kind       string
	Summary    string
	NhID       string
	Payload    json.RawMessage
	RepoID     *int64
	DomainID   *int64
	RecordedAt time.Time
}

type Repo struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

type Domain struct {
	ID        int64
	Domain    string
	CreatedAt time.Time
}

// EventFilter narrows ListEvents. Zero values mean "any".
type EventFilter struct {
	Source     string
	Kind       string
	KindPrefix string
	NhID       string
	Limit      int
	// Newest orders by (ts, eventId) descending instead of ascending.
	Newest bool
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
