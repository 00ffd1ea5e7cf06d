package store

import (
	"context"
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

func collect(t *testing.T, a *SessionArchive, filter nostr.Filter) []*nostr.Event {
	t.Helper()
	ch, err := a.QueryEvents(context.Background(), filter)
	if err != nil {
		t.Fatalf("QueryEvents() error = %v", err)
	}
	var out []*nostr.Event
	for event := range ch {
		out = append(out, event)
	}
	return out
}

func TestArchiveSaveAndQuery(t *testing.T) {
	a := NewSessionArchive()
	ctx := context.Background()

	a.SaveEvent(ctx, &nostr.Event{ID: "e1", Kind: 9, PubKey: alicePubkey, CreatedAt: 100})
	a.SaveEvent(ctx, &nostr.Event{ID: "e2", Kind: 9, PubKey: randoPubkey, CreatedAt: 200})
	a.SaveEvent(ctx, &nostr.Event{ID: "e3", Kind: 34550, PubKey: creatorPubkey, CreatedAt: 300})

	if a.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", a.Len())
	}

	byKind := collect(t, a, nostr.Filter{Kinds: []int{9}})
	if len(byKind) != 2 {
		t.Errorf("kind filter matched %d, want 2", len(byKind))
	}

	byAuthor := collect(t, a, nostr.Filter{Authors: []string{alicePubkey}})
	if len(byAuthor) != 1 || byAuthor[0].ID != "e1" {
		t.Errorf("author filter matched %v", byAuthor)
	}

	limited := collect(t, a, nostr.Filter{Kinds: []int{9}, Limit: 1})
	if len(limited) != 1 {
		t.Errorf("limit filter matched %d, want 1", len(limited))
	}
}

func TestArchiveDuplicateSave(t *testing.T) {
	a := NewSessionArchive()
	ctx := context.Background()

	event := &nostr.Event{ID: "e1", Kind: 9, CreatedAt: 100}
	a.SaveEvent(ctx, event)
	a.SaveEvent(ctx, event)

	if a.Len() != 1 {
		t.Errorf("Len() = %d after duplicate save, want 1", a.Len())
	}
}

func TestArchiveDelete(t *testing.T) {
	a := NewSessionArchive()
	ctx := context.Background()

	a.SaveEvent(ctx, &nostr.Event{ID: "e1", Kind: 9, CreatedAt: 100})
	a.SaveEvent(ctx, &nostr.Event{ID: "e2", Kind: 9, CreatedAt: 200})
	a.SaveEvent(ctx, &nostr.Event{ID: "e3", Kind: 9, CreatedAt: 300})

	a.DeleteEvent(ctx, &nostr.Event{ID: "e2"})
	if a.Contains("e2") {
		t.Error("deleted event still contained")
	}
	if a.Len() != 2 {
		t.Errorf("Len() = %d, want 2", a.Len())
	}

	// The id index must survive the compaction
	got := collect(t, a, nostr.Filter{IDs: []string{"e3"}})
	if len(got) != 1 || got[0].ID != "e3" {
		t.Errorf("query after delete = %v", got)
	}

	// Deleting an unknown id is a no-op
	if err := a.DeleteEvent(ctx, &nostr.Event{ID: "nope"}); err != nil {
		t.Errorf("DeleteEvent(unknown) error = %v", err)
	}
}
