// Package views exposes derived, change-notified projections of the entity
// store to external consumers. Consumers attach and detach explicitly; no
// rendering framework lifecycle is assumed.
package views

import (
	"context"
	"time"

	"github.com/bep/debounce"
	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/nocom/internal/ingest"
	"github.com/sandwichfarm/nocom/internal/membership"
	"github.com/sandwichfarm/nocom/internal/store"
)

// Views projects store state for a UI layer
type Views struct {
	store *store.Store
}

// New creates a projection layer over the store
func New(st *store.Store) *Views {
	return &Views{store: st}
}

// Communities returns snapshots of every known community, sorted by name
func (v *Views) Communities() []store.CommunityOverview {
	return v.store.Overview()
}

// Messages returns a channel's ordered message sequence: confirmed by
// (created_at, id) ascending, optimistic entries at the tail
func (v *Views) Messages(address, slug string) []*store.Message {
	return v.store.MessagesSnapshot(address, slug)
}

// Pinned resolves a channel's pin list to the pinned messages, in pin
// order. Pins referencing messages outside the channel's loaded window are
// resolved from the session's raw-event archive, so a pinned message from
// another channel of the community still renders. Pins whose message was
// never seen this session are skipped; they appear once pagination or live
// delivery brings the message in.
func (v *Views) Pinned(ctx context.Context, address, slug string) []*store.Message {
	ids := v.store.PinnedIDs(address, slug)
	if len(ids) == 0 {
		return nil
	}

	byID := make(map[string]*store.Message)
	for _, msg := range v.store.MessagesSnapshot(address, slug) {
		byID[msg.ID] = msg
	}

	missing := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		events, err := v.store.RawEvents(ctx, nostr.Filter{
			IDs:   missing,
			Kinds: []int{ingest.KindChannelMessage},
		})
		if err == nil {
			for _, event := range events {
				byID[event.ID] = &store.Message{
					ID:           event.ID,
					AuthorPubkey: event.PubKey,
					CreatedAt:    event.CreatedAt,
					Tags:         event.Tags,
					Content:      event.Content,
				}
			}
		}
	}

	out := make([]*store.Message, 0, len(ids))
	for _, id := range ids {
		if msg, ok := byID[id]; ok {
			out = append(out, msg)
		}
	}
	return out
}

// Membership returns the derived status for the engine identity
func (v *Views) Membership(address string) membership.Status {
	return v.store.MembershipStatus(address)
}

// OnChange registers a change listener and returns its disposer. A
// non-zero coalesce window debounces bursts of store mutations into a
// single callback, so a flood of applied batches costs one re-render.
func (v *Views) OnChange(fn func(), coalesce time.Duration) func() {
	if coalesce <= 0 {
		return v.store.Subscribe(fn)
	}

	debounced := debounce.New(coalesce)
	return v.store.Subscribe(func() {
		debounced(fn)
	})
}
