package presence

import (
	"errors"
	"sync"
	"time"
)

// ErrMissingLastSeen is returned for an offline transition without a
// timestamp. Online transitions may omit it; offline ones never can,
// because last-seen is what the UI shows for an offline counterpart.
var ErrMissingLastSeen = errors.New("presence: offline update requires last_seen")

// Record is a counterpart's presence. When IsOnline is true, LastSeen is
// not meaningfully consulted.
type Record struct {
	IsOnline bool
	LastSeen *time.Time
}

// Tracker maps counterpart user ids to presence. State is session-local:
// seeded from the conversation-list payload and kept current by channel
// events, never persisted.
type Tracker struct {
	mu     sync.RWMutex
	byUser map[string]Record
}

func NewTracker() *Tracker {
	return &Tracker{
		byUser: make(map[string]Record),
	}
}

// Seed bulk-initializes presence from REST data. Call once per
// conversation-list load; existing entries for the same ids are replaced.
func (t *Tracker) Seed(records map[string]Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, r := range records {
		t.byUser[id] = r
	}
}

// Update applies a single presence change, overwriting prior state for the
// id. No field merging: the event payload is the whole truth for that user.
func (t *Tracker) Update(userID string, isOnline bool, lastSeen *time.Time) error {
	if !isOnline && lastSeen == nil {
		return ErrMissingLastSeen
	}
	t.mu.Lock()
	t.byUser[userID] = Record{IsOnline: isOnline, LastSeen: lastSeen}
	t.mu.Unlock()
	return nil
}

// Get looks up a user's presence. A missing entry means offline/unknown.
func (t *Tracker) Get(userID string) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.byUser[userID]
	return r, ok
}
