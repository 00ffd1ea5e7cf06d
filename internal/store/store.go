package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/nocom/internal/ingest"
	"github.com/sandwichfarm/nocom/internal/membership"
	"github.com/sandwichfarm/nocom/internal/ops"
)

// Store is the canonical in-memory index of communities, channels, messages,
// membership inputs and pin sets. It is the single shared mutable resource:
// every other component reads it or submits mutations through its methods,
// never holding a private copy of authoritative state.
type Store struct {
	mu          sync.RWMutex
	identity    string // hex pubkey membership is resolved for
	communities map[string]*Community
	seen        map[string]struct{} // applied event ids
	archive     *SessionArchive
	log         *ops.Logger

	subMu       sync.Mutex
	subscribers map[int]func()
	nextSubID   int
}

// New creates an empty store resolving membership for the given identity
func New(identity string, log *ops.Logger) *Store {
	if log == nil {
		log = ops.Default()
	}
	return &Store{
		identity:    identity,
		communities: make(map[string]*Community),
		seen:        make(map[string]struct{}),
		archive:     NewSessionArchive(),
		log:         log.WithComponent("store"),
		subscribers: make(map[int]func()),
	}
}

// Identity returns the hex pubkey the store resolves membership for
func (s *Store) Identity() string {
	return s.identity
}

// Archive exposes the raw-event session archive
func (s *Store) Archive() *SessionArchive {
	return s.archive
}

// Subscribe registers a change listener and returns its disposer. Listeners
// are invoked after a mutation commits, on a fully consistent store.
func (s *Store) Subscribe(fn func()) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subscribers, id)
	}
}

// notify delivers one change notification per committed mutation batch.
// Called without holding s.mu.
func (s *Store) notify() {
	s.subMu.Lock()
	fns := make([]func(), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// ApplyEvents applies normalized records to the store. It is idempotent:
// re-applying an already-seen event id is a no-op. It returns the number of
// records that actually mutated state and emits at most one change
// notification for the whole batch.
func (s *Store) ApplyEvents(ctx context.Context, records []ingest.Record) int {
	if len(records) == 0 {
		return 0
	}

	s.mu.Lock()
	fresh := 0
	for _, rec := range records {
		if s.applyLocked(ctx, rec) {
			fresh++
		}
	}
	s.mu.Unlock()

	if fresh > 0 {
		s.notify()
	}
	return fresh
}

func (s *Store) applyLocked(ctx context.Context, rec ingest.Record) bool {
	event := rec.Raw()
	if _, ok := s.seen[event.ID]; ok {
		return false
	}

	var changed bool
	switch r := rec.(type) {
	case *ingest.CommunityDefinition:
		changed = s.applyDefinitionLocked(r)
	case *ingest.ChannelMessage:
		changed = s.applyMessageLocked(r)
	case *ingest.MembershipRequest:
		changed = s.applyRequestLocked(r)
	case *ingest.ModerationAction:
		changed = s.applyActionLocked(r)
	case *ingest.PinList:
		changed = s.applyPinListLocked(r)
	default:
		return false
	}

	// Superseded replaceables and stale requests are remembered too, so
	// redelivery stays a no-op.
	s.seen[event.ID] = struct{}{}
	if changed {
		s.archive.SaveEvent(ctx, event)
	}
	return changed
}

func (s *Store) applyDefinitionLocked(r *ingest.CommunityDefinition) bool {
	c := s.getOrCreateCommunityLocked(r.Address, r.Pubkey)

	// Replaceable semantics: a newer definition replaces the old one iff
	// its timestamp is strictly greater.
	if c.DefinitionEvent != nil && c.DefinitionEvent.CreatedAt >= r.Event.CreatedAt {
		return false
	}

	c.DefinitionEvent = r.Event
	c.Pubkey = r.Pubkey
	c.Info = CommunityInfo{
		Name:        r.Name,
		Description: r.Description,
		Image:       r.Image,
		Banner:      r.Banner,
		Moderators:  r.Moderators,
		Relays:      r.Relays,
	}

	// Declared channels are created or renamed. Channels the definition no
	// longer declares keep their loaded messages.
	for _, def := range r.Channels {
		ch := s.getOrCreateChannelLocked(c, def.Slug)
		ch.Name = def.Name
		if ch.Name == "" {
			ch.Name = def.Slug
		}
		ch.Type = def.Type
	}

	s.recomputeMembershipLocked(c)
	return true
}

func (s *Store) applyMessageLocked(r *ingest.ChannelMessage) bool {
	pubkey := communityPubkey(r.CommunityAddress)
	c := s.getOrCreateCommunityLocked(r.CommunityAddress, pubkey)
	ch := s.getOrCreateChannelLocked(c, r.Slug)

	msg := &Message{
		ID:           r.Event.ID,
		AuthorPubkey: r.Event.PubKey,
		CreatedAt:    r.Event.CreatedAt,
		Tags:         r.Event.Tags,
		Content:      r.Content,
		Nonce:        r.Nonce,
	}

	// Reconcile: a confirmed event matching an optimistic entry replaces
	// it rather than landing as a duplicate.
	if local := ch.matchPending(msg); local != nil {
		ch.removePending(local.ID)
		s.log.LogReconcile(local.ID, msg.ID, matchKind(local, msg))
	}

	ch.insertConfirmed(msg)

	if ch.OldestLoadedTimestamp == 0 || msg.CreatedAt < ch.OldestLoadedTimestamp {
		ch.OldestLoadedTimestamp = msg.CreatedAt
	}
	return true
}

func (s *Store) applyRequestLocked(r *ingest.MembershipRequest) bool {
	pubkey := communityPubkey(r.CommunityAddress)
	c := s.getOrCreateCommunityLocked(r.CommunityAddress, pubkey)

	author := r.Event.PubKey
	prev, ok := c.requests[author]
	if ok && prev.CreatedAt >= r.Event.CreatedAt {
		return false
	}
	c.requests[author] = requestState{
		CreatedAt: r.Event.CreatedAt,
		EventID:   r.Event.ID,
	}

	if author == s.identity {
		s.recomputeMembershipLocked(c)
	}
	return true
}

func (s *Store) applyActionLocked(r *ingest.ModerationAction) bool {
	pubkey := communityPubkey(r.CommunityAddress)
	c := s.getOrCreateCommunityLocked(r.CommunityAddress, pubkey)

	c.actions = append(c.actions, moderationState{
		Author:    r.Event.PubKey,
		Target:    r.TargetPubkey,
		Action:    r.Action,
		CreatedAt: r.Event.CreatedAt,
		EventID:   r.Event.ID,
	})

	if r.TargetPubkey == s.identity {
		s.recomputeMembershipLocked(c)
	}
	return true
}

func (s *Store) applyPinListLocked(r *ingest.PinList) bool {
	pubkey := communityPubkey(r.CommunityAddress)
	c := s.getOrCreateCommunityLocked(r.CommunityAddress, pubkey)
	ch := s.getOrCreateChannelLocked(c, r.Slug)

	// Last pin list wins per channel
	if ch.pinListAt >= r.Event.CreatedAt {
		return false
	}
	ch.pinListAt = r.Event.CreatedAt
	ch.Pinned = append([]string(nil), r.MessageIDs...)
	return true
}

// getOrCreateCommunityLocked returns the community, creating a shell when
// events arrive before their definition. That is a normal race, not an
// error; the shell is filled in when the definition lands.
func (s *Store) getOrCreateCommunityLocked(address, pubkey string) *Community {
	if c, ok := s.communities[address]; ok {
		return c
	}
	c := &Community{
		Address:          address,
		Pubkey:           pubkey,
		MembershipStatus: membership.StatusNotMember,
		Channels:         make(map[string]*Channel),
		requests:         make(map[string]requestState),
	}
	s.communities[address] = c
	s.recomputeMembershipLocked(c)
	return c
}

func (s *Store) getOrCreateChannelLocked(c *Community, slug string) *Channel {
	if ch, ok := c.Channels[slug]; ok {
		return ch
	}
	ch := &Channel{
		Slug:            slug,
		Name:            slug,
		Type:            "text",
		HasMoreMessages: true,
	}
	c.Channels[slug] = ch
	return ch
}

func (s *Store) recomputeMembershipLocked(c *Community) {
	in := membership.Inputs{
		Creator:    c.Pubkey,
		Moderators: c.Info.Moderators,
	}
	if req, ok := c.requests[s.identity]; ok {
		in.Request = &membership.Request{CreatedAt: int64(req.CreatedAt)}
	}
	for _, a := range c.actions {
		if a.Target != s.identity {
			continue
		}
		if !s.authorizedModeratorLocked(c, a.Author) {
			continue
		}
		in.Actions = append(in.Actions, membership.Action{
			Action:    a.Action,
			CreatedAt: int64(a.CreatedAt),
			EventID:   a.EventID,
		})
	}
	c.MembershipStatus = membership.Resolve(s.identity, in)
}

// authorizedModeratorLocked reports whether a pubkey may moderate the
// community: its creator or anyone on the definition's moderator list
func (s *Store) authorizedModeratorLocked(c *Community, pubkey string) bool {
	if pubkey == c.Pubkey {
		return true
	}
	for _, mod := range c.Info.Moderators {
		if mod == pubkey {
			return true
		}
	}
	return false
}

// Community returns the community for a composite address, nil if unknown.
// The returned record is owned by the store; callers must not mutate it.
func (s *Store) Community(address string) *Community {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.communities[address]
}

// Channel returns a channel by community address and slug, nil if unknown
func (s *Store) Channel(address, slug string) *Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.communities[address]
	if !ok {
		return nil
	}
	return c.Channels[slug]
}

// Communities returns a snapshot of the community map
func (s *Store) Communities() map[string]*Community {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*Community, len(s.communities))
	for addr, c := range s.communities {
		out[addr] = c
	}
	return out
}

// HasEvent reports whether an event id has been applied
func (s *Store) HasEvent(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[id]
	return ok
}

// RawEvents queries the session archive for raw accepted events
func (s *Store) RawEvents(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	ch, err := s.archive.QueryEvents(ctx, filter)
	if err != nil {
		return nil, err
	}
	var events []*nostr.Event
	for event := range ch {
		events = append(events, event)
	}
	return events, nil
}

// PageState is a snapshot of a channel's pagination state
type PageState struct {
	Exists  bool
	HasMore bool
	Loading bool
	Cursor  nostr.Timestamp // oldest loaded timestamp, exclusive upper bound for the next page
}

// PageState returns the pagination state for a channel
func (s *Store) PageState(address, slug string) PageState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch := s.channelLocked(address, slug)
	if ch == nil {
		return PageState{}
	}
	return PageState{
		Exists:  true,
		HasMore: ch.HasMoreMessages,
		Loading: ch.IsLoadingOlderMessages,
		Cursor:  ch.OldestLoadedTimestamp,
	}
}

// BeginLoadOlder marks a channel as loading older messages. It returns false
// when the channel does not exist, history is exhausted, or a load is
// already in flight.
func (s *Store) BeginLoadOlder(address, slug string) bool {
	s.mu.Lock()
	ch := s.channelLocked(address, slug)
	if ch == nil || !ch.HasMoreMessages || ch.IsLoadingOlderMessages {
		s.mu.Unlock()
		return false
	}
	ch.IsLoadingOlderMessages = true
	s.mu.Unlock()

	s.notify()
	return true
}

// LoadOutcome describes how a load-older operation ended
type LoadOutcome struct {
	// Failed marks a transient failure (timeout/abort): loading resets,
	// HasMoreMessages is left untouched so the caller may retry.
	Failed bool
	// EndOfHistory marks a short page or exhausted duplicate retries.
	EndOfHistory bool
	// Cursor, when non-zero, force-advances OldestLoadedTimestamp. Used for
	// full pages of duplicates where no fresh message moved it.
	Cursor nostr.Timestamp
}

// FinishLoadOlder commits the outcome of a load-older operation
func (s *Store) FinishLoadOlder(address, slug string, outcome LoadOutcome) {
	s.mu.Lock()
	ch := s.channelLocked(address, slug)
	if ch == nil {
		s.mu.Unlock()
		return
	}

	ch.IsLoadingOlderMessages = false
	if !outcome.Failed {
		if outcome.EndOfHistory {
			ch.ReachedStartOfConversation = true
			ch.HasMoreMessages = false
		}
		if outcome.Cursor != 0 && (ch.OldestLoadedTimestamp == 0 || outcome.Cursor < ch.OldestLoadedTimestamp) {
			ch.OldestLoadedTimestamp = outcome.Cursor
		}
	}
	s.mu.Unlock()

	s.notify()
}

func (s *Store) channelLocked(address, slug string) *Channel {
	c, ok := s.communities[address]
	if !ok {
		return nil
	}
	return c.Channels[slug]
}

// AddOptimistic inserts a provisional message at the channel tail. It
// returns false when the community or channel is not resolvable; the caller
// treats that as a normal race, not an error.
func (s *Store) AddOptimistic(address, slug string, msg *Message) bool {
	s.mu.Lock()
	ch := s.channelLocked(address, slug)
	if ch == nil {
		s.mu.Unlock()
		return false
	}

	msg.Optimistic = true
	ch.pending = append(ch.pending, msg)
	sort.SliceStable(ch.pending, func(i, j int) bool {
		return ch.pending[i].SubmittedAt.Before(ch.pending[j].SubmittedAt)
	})
	s.mu.Unlock()

	s.notify()
	return true
}

// MarkOptimisticFailed flags a provisional message as failed. The entry is
// kept so the caller can offer retry or delete; silent removal would
// destroy user-authored content.
func (s *Store) MarkOptimisticFailed(address, slug, localID string) bool {
	s.mu.Lock()
	ch := s.channelLocked(address, slug)
	if ch == nil {
		s.mu.Unlock()
		return false
	}

	var flagged bool
	for _, msg := range ch.pending {
		if msg.ID == localID && !msg.Failed {
			msg.Failed = true
			flagged = true
			break
		}
	}
	s.mu.Unlock()

	if flagged {
		s.notify()
	}
	return flagged
}

// RemoveOptimistic deletes a provisional message, for explicit user-driven
// discard of a failed entry
func (s *Store) RemoveOptimistic(address, slug, localID string) bool {
	s.mu.Lock()
	ch := s.channelLocked(address, slug)
	if ch == nil {
		s.mu.Unlock()
		return false
	}
	removed := ch.removePending(localID)
	s.mu.Unlock()

	if removed {
		s.notify()
	}
	return removed
}

// ExpireOptimistic flags provisional messages older than the confirmation
// window as failed. Returns the number flagged.
func (s *Store) ExpireOptimistic(now time.Time, window time.Duration) int {
	s.mu.Lock()
	expired := 0
	for _, c := range s.communities {
		for _, ch := range c.Channels {
			for _, msg := range ch.pending {
				if !msg.Failed && now.Sub(msg.SubmittedAt) > window {
					msg.Failed = true
					expired++
				}
			}
		}
	}
	s.mu.Unlock()

	if expired > 0 {
		s.notify()
	}
	return expired
}

// insertConfirmed merges a confirmed message keeping (created_at, id) order.
// The insertion point is found by binary search so cost is proportional to
// the affected window, not a full re-sort.
func (ch *Channel) insertConfirmed(msg *Message) {
	idx := sort.Search(len(ch.confirmed), func(i int) bool {
		return !messageBefore(ch.confirmed[i], msg)
	})
	ch.confirmed = append(ch.confirmed, nil)
	copy(ch.confirmed[idx+1:], ch.confirmed[idx:])
	ch.confirmed[idx] = msg
}

// matchPending finds the optimistic entry a confirmed message supersedes.
// The nonce tag is authoritative; author plus content equivalence is the
// fallback for confirmations arriving without one.
func (ch *Channel) matchPending(confirmed *Message) *Message {
	if confirmed.Nonce != "" {
		for _, msg := range ch.pending {
			if msg.Nonce == confirmed.Nonce {
				return msg
			}
		}
		return nil
	}
	for _, msg := range ch.pending {
		if msg.AuthorPubkey == confirmed.AuthorPubkey && msg.Content == confirmed.Content {
			return msg
		}
	}
	return nil
}

func (ch *Channel) removePending(localID string) bool {
	for i, msg := range ch.pending {
		if msg.ID == localID {
			ch.pending = append(ch.pending[:i], ch.pending[i+1:]...)
			return true
		}
	}
	return false
}

func matchKind(local, confirmed *Message) string {
	if confirmed.Nonce != "" && confirmed.Nonce == local.Nonce {
		return "nonce"
	}
	return "content"
}

// communityPubkey extracts the author pubkey from a composite address,
// empty on malformed input (ingest has already validated the shape)
func communityPubkey(address string) string {
	_, pubkey, _, err := ingest.ParseAddress(address)
	if err != nil {
		return ""
	}
	return pubkey
}
