package views

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/nocom/internal/ingest"
	"github.com/sandwichfarm/nocom/internal/membership"
	"github.com/sandwichfarm/nocom/internal/store"
)

var (
	creatorPubkey = strings.Repeat("aa", 32)
	alicePubkey   = strings.Repeat("bb", 32)

	testAddr = ingest.CommunityAddress(creatorPubkey, "gardening")
	testRef  = ingest.ChannelRef(testAddr, "general")
)

func apply(t *testing.T, s *store.Store, events ...*nostr.Event) {
	t.Helper()
	records := make([]ingest.Record, 0, len(events))
	for _, event := range events {
		rec, err := ingest.Normalize(event)
		if err != nil {
			t.Fatalf("Normalize() error = %v", err)
		}
		records = append(records, rec)
	}
	s.ApplyEvents(context.Background(), records)
}

func message(id string, createdAt nostr.Timestamp, content string) *nostr.Event {
	return &nostr.Event{
		ID:        id,
		PubKey:    alicePubkey,
		CreatedAt: createdAt,
		Kind:      ingest.KindChannelMessage,
		Content:   content,
		Tags:      nostr.Tags{{"a", testAddr}, {"t", testRef}},
	}
}

func TestPinnedResolvesInPinOrder(t *testing.T) {
	s := store.New(alicePubkey, nil)
	v := New(s)

	apply(t, s,
		message("m1", 100, "first"),
		message("m2", 200, "second"),
		message("m3", 300, "third"),
	)
	apply(t, s, &nostr.Event{
		ID:        "pins",
		PubKey:    creatorPubkey,
		CreatedAt: 400,
		Kind:      ingest.KindPinList,
		Tags: nostr.Tags{
			{"d", testRef},
			{"e", "m3"},
			{"e", "m1"},
			{"e", "not-loaded-yet"},
		},
	})

	got := v.Pinned(context.Background(), testAddr, "general")
	if len(got) != 2 {
		t.Fatalf("pinned = %d messages, want 2 (never-seen pin skipped)", len(got))
	}
	if got[0].ID != "m3" || got[1].ID != "m1" {
		t.Errorf("pin order = [%s %s], want [m3 m1]", got[0].ID, got[1].ID)
	}
}

func TestPinnedResolvesFromArchive(t *testing.T) {
	s := store.New(alicePubkey, nil)
	v := New(s)

	// The pinned message lives in the general channel; the pin list pins it
	// in offtopic. It is absent from offtopic's loaded window but present in
	// the session archive.
	apply(t, s, message("m1", 100, "announcement"))
	apply(t, s, &nostr.Event{
		ID:        "pins",
		PubKey:    creatorPubkey,
		CreatedAt: 200,
		Kind:      ingest.KindPinList,
		Tags: nostr.Tags{
			{"d", ingest.ChannelRef(testAddr, "offtopic")},
			{"e", "m1"},
		},
	})

	got := v.Pinned(context.Background(), testAddr, "offtopic")
	if len(got) != 1 {
		t.Fatalf("pinned = %d messages, want 1 resolved from the archive", len(got))
	}
	if got[0].ID != "m1" || got[0].Content != "announcement" {
		t.Errorf("resolved pin = %+v", got[0])
	}
}

func TestMembershipProjection(t *testing.T) {
	s := store.New(alicePubkey, nil)
	v := New(s)

	if got := v.Membership(testAddr); got != membership.StatusNotMember {
		t.Errorf("unknown community membership = %s, want not-member", got)
	}

	apply(t, s, &nostr.Event{
		ID:        "req1",
		PubKey:    alicePubkey,
		CreatedAt: 100,
		Kind:      ingest.KindMembershipRequest,
		Tags:      nostr.Tags{{"a", testAddr}},
	})
	if got := v.Membership(testAddr); got != membership.StatusPending {
		t.Errorf("membership = %s, want pending", got)
	}
}

func TestOnChangeImmediate(t *testing.T) {
	s := store.New(alicePubkey, nil)
	v := New(s)

	var calls atomic.Int32
	dispose := v.OnChange(func() { calls.Add(1) }, 0)

	apply(t, s, message("m1", 100, "one"))
	apply(t, s, message("m2", 200, "two"))
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want one per batch", got)
	}

	dispose()
	apply(t, s, message("m3", 300, "three"))
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d after dispose, want 2", got)
	}
}

func TestOnChangeCoalesces(t *testing.T) {
	s := store.New(alicePubkey, nil)
	v := New(s)

	var calls atomic.Int32
	dispose := v.OnChange(func() { calls.Add(1) }, 50*time.Millisecond)
	defer dispose()

	// A burst of separate batches collapses into one callback
	for i := 0; i < 5; i++ {
		apply(t, s, message(string(rune('a'+i))+"-msg", nostr.Timestamp(100+i), "burst"))
	}

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d for one burst, want 1", got)
	}
}

func TestCommunitiesSorted(t *testing.T) {
	s := store.New(alicePubkey, nil)
	v := New(s)

	apply(t, s,
		&nostr.Event{
			ID: "d1", PubKey: creatorPubkey, CreatedAt: 100,
			Kind: ingest.KindCommunityDefinition,
			Tags: nostr.Tags{{"d", "gardening"}, {"name", "Zeta Garden"}},
		},
		&nostr.Event{
			ID: "d2", PubKey: creatorPubkey, CreatedAt: 100,
			Kind: ingest.KindCommunityDefinition,
			Tags: nostr.Tags{{"d", "aquariums"}, {"name", "Alpha Aquarium"}},
		},
	)

	got := v.Communities()
	if len(got) != 2 {
		t.Fatalf("communities = %d, want 2", len(got))
	}
	if got[0].Info.Name != "Alpha Aquarium" {
		t.Errorf("first community = %s, want Alpha Aquarium", got[0].Info.Name)
	}
}
