package communities

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/nocom/internal/ingest"
	"github.com/sandwichfarm/nocom/internal/store"
)

// ErrNoSigner is returned when publishing is attempted without a signer
var ErrNoSigner = errors.New("no signer configured")

// localIDPrefix marks provisional message ids so they can never collide
// with event ids (which are hex)
const localIDPrefix = "local:"

// AddOptimisticMessage inserts a provisional message into a channel and
// returns it immediately so the caller can proceed to publish
// asynchronously. It returns nil, with no mutation, when the community or
// channel cannot be resolved; that is a normal race, not an error.
func (s *Service) AddOptimisticMessage(address, slug, content string, additionalTags nostr.Tags) *store.Message {
	if s.store.Community(address) == nil || s.store.Channel(address, slug) == nil {
		return nil
	}

	ref := ingest.ChannelRef(address, slug)
	nonce := newNonce()
	now := time.Now()

	tags := nostr.Tags{
		{"a", address},
		{"t", ref},
		{"nonce", nonce},
	}
	tags = append(tags, additionalTags...)

	msg := &store.Message{
		ID:           localIDPrefix + nonce,
		AuthorPubkey: s.store.Identity(),
		CreatedAt:    nostr.Timestamp(now.Unix()),
		Tags:         tags,
		Content:      content,
		Nonce:        nonce,
		SubmittedAt:  now,
	}

	if !s.store.AddOptimistic(address, slug, msg) {
		return nil
	}
	return msg
}

// PublishMessage signs and broadcasts a provisional message. On success the
// accepted event is applied back through ingest, which reconciles it with
// the optimistic entry by nonce. On failure the entry is flagged failed and
// kept; other pending operations are unaffected.
func (s *Service) PublishMessage(ctx context.Context, address, slug string, msg *store.Message) error {
	if s.signer == nil {
		s.store.MarkOptimisticFailed(address, slug, msg.ID)
		return ErrNoSigner
	}

	event := &nostr.Event{
		Kind:      ingest.KindChannelMessage,
		CreatedAt: msg.CreatedAt,
		Tags:      msg.Tags,
		Content:   msg.Content,
	}

	if err := s.signer.Sign(event); err != nil {
		s.store.MarkOptimisticFailed(address, slug, msg.ID)
		return fmt.Errorf("failed to sign message: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, s.publishBudget)
	defer cancel()

	start := time.Now()
	err := s.pool.Publish(pctx, event)
	s.log.LogPublish(event.ID, time.Since(start), err)
	if err != nil {
		s.store.MarkOptimisticFailed(address, slug, msg.ID)
		return fmt.Errorf("failed to publish message: %w", err)
	}

	s.applyRaw(ctx, []*nostr.Event{event})
	return nil
}

// SendMessage is the convenience path: optimistic insert, then publish.
// The optimistic record is visible before the publish round trip completes.
func (s *Service) SendMessage(ctx context.Context, address, slug, content string, additionalTags nostr.Tags) (*store.Message, error) {
	msg := s.AddOptimisticMessage(address, slug, content, additionalTags)
	if msg == nil {
		return nil, nil
	}
	if err := s.PublishMessage(ctx, address, slug, msg); err != nil {
		return msg, err
	}
	return msg, nil
}

// RetryMessage re-publishes a failed provisional message under a fresh
// submission window
func (s *Service) RetryMessage(ctx context.Context, address, slug string, msg *store.Message) error {
	return s.PublishMessage(ctx, address, slug, msg)
}

// DiscardMessage removes a failed provisional message at the user's request
func (s *Service) DiscardMessage(address, slug, localID string) bool {
	return s.store.RemoveOptimistic(address, slug, localID)
}

// newNonce returns a random hex reconciliation key
func newNonce() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// Timestamp fallback keeps ids unique enough within one session
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf[:])
}
