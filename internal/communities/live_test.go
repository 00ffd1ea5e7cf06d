package communities

import (
	"context"
	"errors"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/nocom/internal/ingest"
)

func TestStartChannelAppliesLiveEvents(t *testing.T) {
	pool := newMockPool()
	svc := newTestService(t, pool, nil, 20)
	seedChannel(t, svc, 1, 1001)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.StartChannel(ctx, testAddr, "general"); err != nil {
		t.Fatalf("StartChannel() error = %v", err)
	}

	// A second start for the same channel must not open another subscription
	if err := svc.StartChannel(ctx, testAddr, "general"); err != nil {
		t.Fatalf("second StartChannel() error = %v", err)
	}
	if pool.subs != 1 {
		t.Errorf("subscriptions = %d, want 1", pool.subs)
	}

	live := channelMessage("live-1", randoPubkey, 2001, "breaking news")
	pool.events <- live
	waitFor(t, func() bool { return svc.store.HasEvent("live-1") }, "live event to apply")

	// Redelivery of the same event is absorbed by the seen cache
	pool.events <- live
	pool.events <- channelMessage("live-2", randoPubkey, 2002, "more news")
	waitFor(t, func() bool { return svc.store.HasEvent("live-2") }, "second live event")

	if got := len(svc.store.MessagesSnapshot(testAddr, "general")); got != 3 {
		t.Errorf("message count = %d, want 3", got)
	}

	svc.StopChannel(testAddr, "general")
	if _, ok := svc.subs.Load(testRef); ok {
		t.Error("subscription registry still holds stopped channel")
	}
}

func TestStartChannelSubscribeError(t *testing.T) {
	pool := newMockPool()
	pool.subErr = errors.New("no relays")
	svc := newTestService(t, pool, nil, 20)

	if err := svc.StartChannel(context.Background(), testAddr, "general"); err == nil {
		t.Fatal("expected subscribe error")
	}
	if _, ok := svc.subs.Load(testRef); ok {
		t.Error("failed subscription left in registry")
	}
}

func TestStartCommunityInvalidAddress(t *testing.T) {
	pool := newMockPool()
	svc := newTestService(t, pool, nil, 20)

	if err := svc.StartCommunity(context.Background(), "not-an-address"); err == nil {
		t.Error("expected error for malformed address")
	}
}

func TestStartCommunityLiveDefinitionUpdate(t *testing.T) {
	pool := newMockPool()
	svc := newTestService(t, pool, nil, 20)
	seedChannel(t, svc, 0, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.StartCommunity(ctx, testAddr); err != nil {
		t.Fatalf("StartCommunity() error = %v", err)
	}

	// The live definition filter is author-bound like the bootstrap one
	defFilter := pool.subFilters[0][0]
	if authors := defFilter.Authors; len(authors) != 1 || authors[0] != creatorPubkey {
		t.Errorf("live definition filter authors = %v, want [%s]", authors, creatorPubkey)
	}

	pool.events <- &nostr.Event{
		ID:        "def2",
		PubKey:    creatorPubkey,
		CreatedAt: 2,
		Kind:      ingest.KindCommunityDefinition,
		Tags:      nostr.Tags{{"d", "gardening"}, {"name", "Renamed Garden"}},
	}

	waitFor(t, func() bool {
		for _, c := range svc.store.Overview() {
			if c.Address == testAddr && c.Info.Name == "Renamed Garden" {
				return true
			}
		}
		return false
	}, "live definition update")
}
