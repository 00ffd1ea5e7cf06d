package communities

import (
	"context"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/nocom/internal/ingest"
)

// liveSub is one running live subscription
type liveSub struct {
	cancel context.CancelFunc
}

// StartChannel opens a live subscription for a channel's messages and pin
// list. It is an explicit lifecycle call, independent of any rendering
// framework; calling it for an already-started channel is a no-op.
func (s *Service) StartChannel(ctx context.Context, address, slug string) error {
	ref := ingest.ChannelRef(address, slug)

	subCtx, cancel := context.WithCancel(ctx)
	if _, loaded := s.subs.LoadOrStore(ref, &liveSub{cancel: cancel}); loaded {
		cancel()
		return nil
	}

	filters := []nostr.Filter{
		{
			Kinds: []int{ingest.KindChannelMessage},
			Tags:  nostr.TagMap{"t": []string{ref}},
		},
		{
			Kinds: []int{ingest.KindPinList},
			Tags:  nostr.TagMap{"d": []string{ref}},
		},
	}

	events, err := s.pool.Subscribe(subCtx, filters)
	if err != nil {
		s.subs.Delete(ref)
		cancel()
		return fmt.Errorf("failed to subscribe to channel %s: %w", ref, err)
	}

	s.wg.Add(1)
	go s.pump(subCtx, events)
	return nil
}

// StopChannel tears down a channel's live subscription
func (s *Service) StopChannel(address, slug string) {
	ref := ingest.ChannelRef(address, slug)
	if sub, ok := s.subs.LoadAndDelete(ref); ok {
		sub.cancel()
	}
}

// StartCommunity opens a live subscription for a community's definition,
// membership requests and moderation actions, keeping derived membership
// current without polling
func (s *Service) StartCommunity(ctx context.Context, address string) error {
	_, pubkey, identifier, err := ingest.ParseAddress(address)
	if err != nil {
		return fmt.Errorf("invalid community address: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	if _, loaded := s.subs.LoadOrStore(address, &liveSub{cancel: cancel}); loaded {
		cancel()
		return nil
	}

	filters := []nostr.Filter{
		{
			Kinds:   []int{ingest.KindCommunityDefinition},
			Authors: []string{pubkey},
			Tags:    nostr.TagMap{"d": []string{identifier}},
		},
		{
			Kinds: []int{ingest.KindMembershipRequest, ingest.KindModerationAction},
			Tags:  nostr.TagMap{"a": []string{address}},
		},
	}

	events, err := s.pool.Subscribe(subCtx, filters)
	if err != nil {
		s.subs.Delete(address)
		cancel()
		return fmt.Errorf("failed to subscribe to community %s: %w", address, err)
	}

	s.wg.Add(1)
	go s.pump(subCtx, events)
	return nil
}

// StopCommunity tears down a community's live subscription
func (s *Service) StopCommunity(address string) {
	if sub, ok := s.subs.LoadAndDelete(address); ok {
		sub.cancel()
	}
}

// pump feeds live events through the seen cache and ingest into the store
func (s *Service) pump(ctx context.Context, events <-chan *nostr.Event) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if event == nil || s.seen.Contains(event.ID) {
				continue
			}
			s.seen.Add(event.ID)
			s.applyRaw(ctx, []*nostr.Event{event})
		}
	}
}
