// Package communities is the engine's operational surface: backward
// pagination, optimistic sends, and live channel subscriptions, all
// mediated through the entity store.
package communities

import (
	"context"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sandwichfarm/nocom/internal/config"
	"github.com/sandwichfarm/nocom/internal/ingest"
	"github.com/sandwichfarm/nocom/internal/ops"
	"github.com/sandwichfarm/nocom/internal/relay"
	"github.com/sandwichfarm/nocom/internal/store"
)

// Signer signs outgoing events. Key management is external; the engine only
// needs the ability to turn an unsigned event into an accepted one.
type Signer interface {
	Sign(event *nostr.Event) error
}

// Service coordinates the relay pool, ingest and the entity store
type Service struct {
	cfg    *config.Config
	store  *store.Store
	pool   relay.Pool
	signer Signer // nil disables publishing
	log    *ops.Logger

	historyBudget    time.Duration
	definitionBudget time.Duration
	publishBudget    time.Duration

	loadsMu sync.Mutex
	loads   map[string]*loadOp // in-flight load-older ops keyed by channel ref

	subs *xsync.MapOf[string, *liveSub] // live subscriptions keyed by channel ref
	seen *seenCache

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

// New creates a community service over the given store and relay pool
func New(cfg *config.Config, st *store.Store, pool relay.Pool, signer Signer, log *ops.Logger) *Service {
	if log == nil {
		log = ops.Default()
	}
	return &Service{
		cfg:              cfg,
		store:            st,
		pool:             pool,
		signer:           signer,
		log:              log.WithComponent("communities"),
		historyBudget:    relay.Budget(cfg.Relays.Policy, relay.ClassHistory),
		definitionBudget: relay.Budget(cfg.Relays.Policy, relay.ClassDefinition),
		publishBudget:    relay.Budget(cfg.Relays.Policy, relay.ClassPublish),
		loads:            make(map[string]*loadOp),
		subs:             xsync.NewMapOf[string, *liveSub](),
		seen:             newSeenCache(cfg.Sync.SeenCacheSize),
		closed:           make(chan struct{}),
	}
}

// Store returns the underlying entity store
func (s *Service) Store() *store.Store {
	return s.store
}

// Communities returns a read-only snapshot of the community map
func (s *Service) Communities() map[string]*store.Community {
	return s.store.Communities()
}

// Subscribe registers a change listener on the entity store
func (s *Service) Subscribe(fn func()) func() {
	return s.store.Subscribe(fn)
}

// Bootstrap fetches the definitions, membership inputs and pin lists for
// the configured community addresses. Message history is loaded lazily per
// channel via StartChannel and LoadOlderMessages.
func (s *Service) Bootstrap(ctx context.Context) error {
	addresses := s.cfg.Communities.Addresses
	if len(addresses) == 0 {
		return nil
	}

	identity := s.store.Identity()
	filters := []nostr.Filter{
		definitionFilter(addresses),
		{
			Kinds:   []int{ingest.KindMembershipRequest},
			Authors: []string{identity},
			Tags:    nostr.TagMap{"a": addresses},
		},
		{
			Kinds: []int{ingest.KindModerationAction},
			Tags:  nostr.TagMap{"a": addresses},
		},
		{
			Kinds: []int{ingest.KindPinList},
			Tags:  nostr.TagMap{"a": addresses},
		},
	}

	qctx, cancel := context.WithTimeout(ctx, s.definitionBudget)
	defer cancel()

	start := time.Now()
	events, err := s.pool.Query(qctx, filters)
	s.log.LogRelayQuery("bootstrap", len(s.cfg.Relays.Seeds), time.Since(start), len(events), err)
	if err != nil {
		// Transient: whatever arrived still merges idempotently, the
		// caller may retry the rest.
		s.applyRaw(ctx, events)
		return err
	}

	s.applyRaw(ctx, events)
	return nil
}

// RefreshDefinitions re-fetches the replaceable community definitions so
// renames, moderator changes and new channels are picked up
func (s *Service) RefreshDefinitions(ctx context.Context) error {
	addresses := s.cfg.Communities.Addresses
	if len(addresses) == 0 {
		return nil
	}

	qctx, cancel := context.WithTimeout(ctx, s.definitionBudget)
	defer cancel()

	filter := definitionFilter(addresses)

	start := time.Now()
	events, err := s.pool.Query(qctx, []nostr.Filter{filter})
	s.log.LogRelayQuery("definitions", len(s.cfg.Relays.Seeds), time.Since(start), len(events), err)
	if err != nil {
		return err
	}

	s.applyRaw(ctx, events)
	return nil
}

// StartExpiry runs the optimistic confirmation-window sweeper until the
// context is cancelled
func (s *Service) StartExpiry(ctx context.Context) {
	window := time.Duration(s.cfg.Sync.OptimisticWindowSeconds) * time.Second

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(window / 4)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.closed:
				return
			case now := <-ticker.C:
				s.store.ExpireOptimistic(now, window)
			}
		}
	}()
}

// Close stops background work and waits for it. It must not depend on the
// caller cancelling the contexts passed to StartExpiry or the live
// subscriptions: Close fires the service's own stop signal first, so it
// returns even when those contexts are still live.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
	s.subs.Range(func(ref string, sub *liveSub) bool {
		sub.cancel()
		s.subs.Delete(ref)
		return true
	})
	s.wg.Wait()
}

// applyRaw normalizes raw events and applies the surviving records.
// Rejections are absorbed here: a malformed event is diagnostics, never a
// user-visible error.
func (s *Service) applyRaw(ctx context.Context, events []*nostr.Event) int {
	records := make([]ingest.Record, 0, len(events))
	for _, event := range events {
		rec, err := ingest.Normalize(event)
		if err != nil {
			s.log.LogRejectedEvent(event.ID, event.Kind, err)
			continue
		}
		records = append(records, rec)
	}
	return s.store.ApplyEvents(ctx, records)
}

// definitionFilter builds the replaceable-definition filter for composite
// addresses, constraining both author and identifier. Without the author
// bound, an unrelated pubkey sharing an identifier would introduce an
// unsolicited community. Malformed addresses are skipped.
func definitionFilter(addresses []string) nostr.Filter {
	identifiers := make([]string, 0, len(addresses))
	authors := make([]string, 0, len(addresses))
	seenAuthors := make(map[string]struct{}, len(addresses))

	for _, addr := range addresses {
		_, pubkey, identifier, err := ingest.ParseAddress(addr)
		if err != nil {
			continue
		}
		identifiers = append(identifiers, identifier)
		if _, ok := seenAuthors[pubkey]; !ok {
			seenAuthors[pubkey] = struct{}{}
			authors = append(authors, pubkey)
		}
	}

	return nostr.Filter{
		Kinds:   []int{ingest.KindCommunityDefinition},
		Authors: authors,
		Tags:    nostr.TagMap{"d": identifiers},
	}
}
