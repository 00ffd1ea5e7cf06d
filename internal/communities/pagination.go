package communities

import (
	"context"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/nocom/internal/ingest"
	"github.com/sandwichfarm/nocom/internal/store"
)

// loadOp is one in-flight load-older operation. Concurrent callers for the
// same channel join it instead of issuing a second query.
type loadOp struct {
	done chan struct{}
	err  error
}

// LoadOlderMessages loads one page of older history for a channel. It
// returns nil without doing work when the channel is unknown, history is
// exhausted, or nothing needed loading; a concurrent call while a load is
// in flight waits for and shares that operation's outcome.
func (s *Service) LoadOlderMessages(ctx context.Context, address, slug string) error {
	ref := ingest.ChannelRef(address, slug)

	s.loadsMu.Lock()
	if op, ok := s.loads[ref]; ok {
		s.loadsMu.Unlock()
		select {
		case <-op.done:
			return op.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if !s.store.BeginLoadOlder(address, slug) {
		s.loadsMu.Unlock()
		return nil
	}

	op := &loadOp{done: make(chan struct{})}
	s.loads[ref] = op
	s.loadsMu.Unlock()

	op.err = s.loadOlder(ctx, address, slug, ref)
	close(op.done)

	s.loadsMu.Lock()
	delete(s.loads, ref)
	s.loadsMu.Unlock()

	return op.err
}

// loadOlder issues bounded backward queries until a page produces fresh
// messages, history ends, or the duplicate retry guard trips
func (s *Service) loadOlder(ctx context.Context, address, slug, ref string) error {
	pageSize := s.cfg.Sync.PageSize
	cursor := s.store.PageState(address, slug).Cursor

	for attempt := 0; ; attempt++ {
		filter := nostr.Filter{
			Kinds: []int{ingest.KindChannelMessage},
			Tags:  nostr.TagMap{"t": []string{ref}},
			Limit: pageSize,
		}
		if cursor > 0 {
			// Exclusive upper bound: the relay convention is inclusive
			// until, so step one second below the oldest loaded message.
			until := cursor - 1
			filter.Until = &until
		}

		qctx, cancel := context.WithTimeout(ctx, s.historyBudget)
		start := time.Now()
		events, err := s.pool.Query(qctx, []nostr.Filter{filter})
		cancel()
		s.log.LogRelayQuery("history", len(s.cfg.Relays.Seeds), time.Since(start), len(events), err)

		if err != nil {
			// Transient failure: merge whatever arrived (idempotent),
			// reset the loading flag, leave HasMoreMessages untouched so
			// the caller may retry. Never treated as "reached start".
			s.applyRaw(ctx, events)
			s.store.FinishLoadOlder(address, slug, store.LoadOutcome{Failed: true})
			return fmt.Errorf("load older messages for %s: %w", ref, err)
		}

		fresh := s.applyRaw(ctx, events)
		pageMin := earliestTimestamp(events)
		endOfHistory := len(events) < pageSize
		s.log.LogPagination(ref, len(events), fresh, int64(pageMin), endOfHistory)

		if endOfHistory {
			s.store.FinishLoadOlder(address, slug, store.LoadOutcome{
				EndOfHistory: true,
				Cursor:       pageMin,
			})
			return nil
		}

		if fresh > 0 {
			s.store.FinishLoadOlder(address, slug, store.LoadOutcome{Cursor: pageMin})
			return nil
		}

		// Full page, zero fresh messages: overlapping relay responses.
		// Advance the cursor past the returned page and look further back,
		// bounded so a misbehaving relay cannot loop us forever.
		if attempt+1 >= s.cfg.Sync.DuplicatePageRetryLimit {
			s.store.FinishLoadOlder(address, slug, store.LoadOutcome{
				EndOfHistory: true,
				Cursor:       pageMin,
			})
			return nil
		}
		cursor = pageMin
	}
}

// earliestTimestamp returns the minimum created_at of a page, 0 for an
// empty page
func earliestTimestamp(events []*nostr.Event) nostr.Timestamp {
	var min nostr.Timestamp
	for _, event := range events {
		if min == 0 || event.CreatedAt < min {
			min = event.CreatedAt
		}
	}
	return min
}
