package communities

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/nocom/internal/config"
	"github.com/sandwichfarm/nocom/internal/ingest"
	"github.com/sandwichfarm/nocom/internal/store"
)

var (
	creatorPubkey = strings.Repeat("aa", 32)
	alicePubkey   = strings.Repeat("bb", 32)
	randoPubkey   = strings.Repeat("dd", 32)

	testAddr = ingest.CommunityAddress(creatorPubkey, "gardening")
	testRef  = ingest.ChannelRef(testAddr, "general")
)

// mockPool is a scriptable relay.Pool for tests
type mockPool struct {
	mu      sync.Mutex
	queryFn func(call int, filters []nostr.Filter) ([]*nostr.Event, error)
	queries [][]nostr.Filter

	publishErr error
	published  []*nostr.Event

	subErr     error
	subs       int
	subFilters [][]nostr.Filter
	events     chan *nostr.Event
}

func newMockPool() *mockPool {
	return &mockPool{events: make(chan *nostr.Event, 16)}
}

func (m *mockPool) Query(ctx context.Context, filters []nostr.Filter) ([]*nostr.Event, error) {
	m.mu.Lock()
	call := len(m.queries)
	m.queries = append(m.queries, filters)
	fn := m.queryFn
	m.mu.Unlock()

	if fn == nil {
		return nil, nil
	}
	return fn(call, filters)
}

func (m *mockPool) Subscribe(ctx context.Context, filters []nostr.Filter) (<-chan *nostr.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subErr != nil {
		return nil, m.subErr
	}
	m.subs++
	m.subFilters = append(m.subFilters, filters)
	return m.events, nil
}

func (m *mockPool) Publish(ctx context.Context, event *nostr.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, event)
	return nil
}

func (m *mockPool) queryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queries)
}

func (m *mockPool) query(i int) []nostr.Filter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queries[i]
}

// fakeSigner assigns deterministic ids instead of real signatures
type fakeSigner struct {
	mu     sync.Mutex
	pubkey string
	signed int
	err    error
}

func (f *fakeSigner) Sign(event *nostr.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.signed++
	event.PubKey = f.pubkey
	event.ID = fmt.Sprintf("signed-%d", f.signed)
	event.Sig = "fake"
	return nil
}

func testConfig(pageSize int) *config.Config {
	return &config.Config{
		Relays: config.Relays{
			Seeds: []string{"wss://relay.test"},
			Policy: config.RelayPolicy{
				ConnectTimeoutMs:    1000,
				HistoryTimeoutMs:    1000,
				DefinitionTimeoutMs: 1000,
				PublishTimeoutMs:    1000,
			},
		},
		Communities: config.Communities{Addresses: []string{testAddr}},
		Sync: config.Sync{
			PageSize:                pageSize,
			DuplicatePageRetryLimit: 3,
			OptimisticWindowSeconds: 30,
			SeenCacheSize:           100,
		},
		Logging: config.Logging{Level: "error", Format: "text"},
	}
}

func newTestService(t *testing.T, pool *mockPool, signer Signer, pageSize int) *Service {
	t.Helper()
	st := store.New(alicePubkey, nil)
	return New(testConfig(pageSize), st, pool, signer, nil)
}

// seedChannel applies a community definition plus confirmed messages with
// ascending timestamps starting at firstTS
func seedChannel(t *testing.T, svc *Service, count int, firstTS nostr.Timestamp) []*nostr.Event {
	t.Helper()

	events := []*nostr.Event{{
		ID:        "def1",
		PubKey:    creatorPubkey,
		CreatedAt: 1,
		Kind:      ingest.KindCommunityDefinition,
		Tags:      nostr.Tags{{"d", "gardening"}},
	}}
	for i := 0; i < count; i++ {
		events = append(events, channelMessage(
			fmt.Sprintf("seed-%03d", i),
			randoPubkey,
			firstTS+nostr.Timestamp(i),
			fmt.Sprintf("seed message %d", i),
		))
	}

	if applied := svc.applyRaw(context.Background(), events); applied != len(events) {
		t.Fatalf("seeded %d events, applied %d", len(events), applied)
	}
	return events[1:]
}

func channelMessage(id, author string, createdAt nostr.Timestamp, content string) *nostr.Event {
	return &nostr.Event{
		ID:        id,
		PubKey:    author,
		CreatedAt: createdAt,
		Kind:      ingest.KindChannelMessage,
		Content:   content,
		Tags:      nostr.Tags{{"a", testAddr}, {"t", testRef}},
	}
}

// waitFor polls until the condition holds or the deadline passes
func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
