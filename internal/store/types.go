package store

import (
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/nocom/internal/membership"
)

// CommunityInfo holds display metadata from the community definition event
type CommunityInfo struct {
	Name        string
	Description string
	Image       string
	Banner      string
	Moderators  []string
	Relays      []string
}

// Community is the canonical record for one community. It owns its channels
// and the membership inputs gathered from request and moderation events.
type Community struct {
	Address          string // "<kind>:<pubkey>:<identifier>", never the display name
	Pubkey           string
	DefinitionEvent  *nostr.Event // most recent replaceable definition, nil for shells
	Info             CommunityInfo
	MembershipStatus membership.Status
	Channels         map[string]*Channel

	// membership inputs, keyed/gathered per community
	requests map[string]requestState // latest membership request per pubkey
	actions  []moderationState
}

type requestState struct {
	CreatedAt nostr.Timestamp
	EventID   string
}

type moderationState struct {
	Author    string
	Target    string
	Action    string
	CreatedAt nostr.Timestamp
	EventID   string
}

// Channel is one channel within a community. Confirmed messages are kept
// ordered by (created_at, id) ascending; optimistic messages occupy the tail
// ordered by local submission time until superseded.
type Channel struct {
	Slug string
	Name string
	Type string // "text" or "voice"

	HasMoreMessages            bool
	IsLoadingOlderMessages     bool
	ReachedStartOfConversation bool
	OldestLoadedTimestamp      nostr.Timestamp // 0 until the first confirmed message

	Pinned []string // ordered pinned message ids, latest pin list wins

	confirmed []*Message
	pending   []*Message // optimistic, ordered by SubmittedAt

	pinListAt nostr.Timestamp // created_at of the winning pin list event
}

// Messages returns the channel's message sequence: confirmed messages in
// (created_at, id) order followed by optimistic entries in submission order.
// The returned slice is a copy; entries are shared and must not be mutated.
func (ch *Channel) Messages() []*Message {
	out := make([]*Message, 0, len(ch.confirmed)+len(ch.pending))
	out = append(out, ch.confirmed...)
	out = append(out, ch.pending...)
	return out
}

// MessageCount returns the number of messages, optimistic included
func (ch *Channel) MessageCount() int {
	return len(ch.confirmed) + len(ch.pending)
}

// Message is a single channel message. ID is the event id for confirmed
// messages and the provisional local id while optimistic.
type Message struct {
	ID           string
	AuthorPubkey string
	CreatedAt    nostr.Timestamp
	Tags         nostr.Tags
	Content      string

	Optimistic bool
	Failed     bool   // publish failed or confirmation window expired
	Nonce      string // client-generated reconciliation key

	SubmittedAt time.Time // local submission time, optimistic entries only
}

// messageBefore reports the (created_at, id) ascending order used for
// confirmed messages, with the id as lexicographic tie-break
func messageBefore(a, b *Message) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt < b.CreatedAt
	}
	return a.ID < b.ID
}
