package store

import (
	"context"
	"sync"

	"github.com/fiatjaf/eventstore"
	"github.com/nbd-wtf/go-nostr"
)

// SessionArchive is an in-memory eventstore.Store holding the raw accepted
// events for the current session. The typed entity index is the source of
// truth for the UI; the archive serves requeries and duplicate confirmation
// without a network round trip.
type SessionArchive struct {
	mu     sync.RWMutex
	events []*nostr.Event
	byID   map[string]int
}

var _ eventstore.Store = (*SessionArchive)(nil)

// NewSessionArchive creates an empty session archive
func NewSessionArchive() *SessionArchive {
	return &SessionArchive{
		byID: make(map[string]int),
	}
}

// Init implements eventstore.Store
func (a *SessionArchive) Init() error {
	return nil
}

// Close implements eventstore.Store
func (a *SessionArchive) Close() {}

// SaveEvent implements eventstore.Store. Saving an already-archived event
// id is a no-op.
func (a *SessionArchive) SaveEvent(ctx context.Context, event *nostr.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.byID[event.ID]; ok {
		return nil
	}
	a.byID[event.ID] = len(a.events)
	a.events = append(a.events, event)
	return nil
}

// ReplaceEvent implements eventstore.Store. The typed index already applies
// last-write-wins for replaceable kinds; the archive keeps every version.
func (a *SessionArchive) ReplaceEvent(ctx context.Context, event *nostr.Event) error {
	return a.SaveEvent(ctx, event)
}

// DeleteEvent implements eventstore.Store
func (a *SessionArchive) DeleteEvent(ctx context.Context, event *nostr.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx, ok := a.byID[event.ID]
	if !ok {
		return nil
	}
	a.events = append(a.events[:idx], a.events[idx+1:]...)
	delete(a.byID, event.ID)
	for i := idx; i < len(a.events); i++ {
		a.byID[a.events[i].ID] = i
	}
	return nil
}

// QueryEvents implements eventstore.Store. Events are matched against the
// filter and returned through a channel in archive order.
func (a *SessionArchive) QueryEvents(ctx context.Context, filter nostr.Filter) (chan *nostr.Event, error) {
	a.mu.RLock()
	matched := make([]*nostr.Event, 0)
	for _, event := range a.events {
		if filter.Matches(event) {
			matched = append(matched, event)
			if filter.Limit > 0 && len(matched) >= filter.Limit {
				break
			}
		}
	}
	a.mu.RUnlock()

	ch := make(chan *nostr.Event, len(matched))
	go func() {
		defer close(ch)
		for _, event := range matched {
			select {
			case ch <- event:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

// Contains reports whether an event id is archived
func (a *SessionArchive) Contains(id string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.byID[id]
	return ok
}

// Len returns the number of archived events
func (a *SessionArchive) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.events)
}
