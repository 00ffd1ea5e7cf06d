package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/nocom/internal/config"
)

// QueryClass selects the timeout budget for an outbound query. Message
// history pages get the longest budget; replaceable definitions and pin
// lists are cheaper and get a shorter one.
type QueryClass int

const (
	ClassHistory QueryClass = iota
	ClassDefinition
	ClassPublish
)

// Budget returns the timeout budget for a query class under a relay policy.
// Every component applying class budgets goes through here so the values
// cannot drift.
func Budget(policy config.RelayPolicy, class QueryClass) time.Duration {
	var ms int
	switch class {
	case ClassHistory:
		ms = policy.HistoryTimeoutMs
	case ClassDefinition:
		ms = policy.DefinitionTimeoutMs
	case ClassPublish:
		ms = policy.PublishTimeoutMs
	}
	if ms <= 0 {
		ms = 5000
	}
	return time.Duration(ms) * time.Millisecond
}

// Pool is the relay pool contract the engine consumes. The production
// implementation is Client; tests substitute their own.
type Pool interface {
	// Query performs a one-shot historical fetch and returns after EOSE
	// or context expiry.
	Query(ctx context.Context, filters []nostr.Filter) ([]*nostr.Event, error)

	// Subscribe opens a live subscription. The returned channel is closed
	// when the context is cancelled.
	Subscribe(ctx context.Context, filters []nostr.Filter) (<-chan *nostr.Event, error)

	// Publish broadcasts a signed event. An error means no relay accepted it.
	Publish(ctx context.Context, event *nostr.Event) error
}

// Client provides a high-level interface for interacting with Nostr relays
type Client struct {
	pool        *nostr.SimplePool
	relayConfig *config.Relays
}

// New creates a new relay client with the given configuration
func New(ctx context.Context, relayConfig *config.Relays) *Client {
	return &Client{
		pool:        nostr.NewSimplePool(ctx),
		relayConfig: relayConfig,
	}
}

// Seeds returns the configured seed relays
func (c *Client) Seeds() []string {
	if c.relayConfig == nil {
		return []string{}
	}
	return c.relayConfig.Seeds
}

// Query fetches events from the seed relays matching the filters, waiting
// for EOSE from each relay
func (c *Client) Query(ctx context.Context, filters []nostr.Filter) ([]*nostr.Event, error) {
	events := make([]*nostr.Event, 0)

	for relayEvent := range c.pool.SubManyEose(ctx, c.Seeds(), nostr.Filters(filters)) {
		if relayEvent.Event != nil {
			events = append(events, relayEvent.Event)
		}
	}

	// An expired context means the fetch did not complete. The partial
	// result is still returned for idempotent merging, but callers must
	// not treat it as an authoritative page.
	if err := ctx.Err(); err != nil {
		return events, err
	}

	return events, nil
}

// Subscribe subscribes to events matching the filters on the seed relays.
// The returned channel is closed when the context is cancelled.
func (c *Client) Subscribe(ctx context.Context, filters []nostr.Filter) (<-chan *nostr.Event, error) {
	eventChan := make(chan *nostr.Event, 100)

	go func() {
		defer close(eventChan)

		for relayEvent := range c.pool.SubMany(ctx, c.Seeds(), nostr.Filters(filters)) {
			if relayEvent.Event == nil {
				continue
			}
			select {
			case eventChan <- relayEvent.Event:
			case <-ctx.Done():
				return
			}
		}
	}()

	return eventChan, nil
}

// Publish publishes a signed event to the seed relays. It succeeds when at
// least one relay accepts the event.
func (c *Client) Publish(ctx context.Context, event *nostr.Event) error {
	results := c.pool.PublishMany(ctx, c.Seeds(), *event)

	var lastErr error
	successCount := 0

	for result := range results {
		if result.Error != nil {
			lastErr = result.Error
		} else {
			successCount++
		}
	}

	if successCount == 0 {
		if lastErr != nil {
			return fmt.Errorf("failed to publish to any relay: %w", lastErr)
		}
		return fmt.Errorf("failed to publish to any relay")
	}

	return nil
}

// Close closes all relay connections
func (c *Client) Close() {
	c.pool.Close("client shutting down")
}
