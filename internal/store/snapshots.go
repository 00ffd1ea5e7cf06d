package store

import (
	"sort"

	"github.com/sandwichfarm/nocom/internal/membership"
	"github.com/sandwichfarm/nocom/internal/ops"
)

// Snapshot accessors for the projection layer. Everything here copies under
// the read lock so consumers always observe a fully consistent state, never
// a partially-applied batch.

// MessagesSnapshot returns a channel's current message sequence. Entries
// are shared records and must be treated as read-only.
func (s *Store) MessagesSnapshot(address, slug string) []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch := s.channelLocked(address, slug)
	if ch == nil {
		return nil
	}
	return ch.Messages()
}

// PinnedIDs returns the ordered pinned message ids for a channel
func (s *Store) PinnedIDs(address, slug string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch := s.channelLocked(address, slug)
	if ch == nil {
		return nil
	}
	return append([]string(nil), ch.Pinned...)
}

// MembershipStatus returns the derived status for the store identity,
// not-member for unknown communities
func (s *Store) MembershipStatus(address string) membership.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.communities[address]
	if !ok {
		return membership.StatusNotMember
	}
	return c.MembershipStatus
}

// StatsSnapshot implements ops.EngineStatsSource
func (s *Store) StatsSnapshot() ops.EngineStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := ops.EngineStats{
		Communities:    len(s.communities),
		ArchivedEvents: s.archive.Len(),
		SeenEvents:     len(s.seen),
	}
	for _, c := range s.communities {
		stats.Channels += len(c.Channels)
		for _, ch := range c.Channels {
			stats.ConfirmedMessages += len(ch.confirmed)
			stats.OptimisticMessages += len(ch.pending)
		}
	}
	return stats
}

// ChannelOverview is a consistent snapshot of one channel's list state
type ChannelOverview struct {
	Slug                       string
	Name                       string
	Type                       string
	MessageCount               int
	HasMoreMessages            bool
	IsLoadingOlderMessages     bool
	ReachedStartOfConversation bool
}

// CommunityOverview is a consistent snapshot of one community
type CommunityOverview struct {
	Address          string
	Pubkey           string
	Info             CommunityInfo
	MembershipStatus membership.Status
	HasDefinition    bool // false for shells still waiting on their definition event
	Channels         []ChannelOverview
}

// Overview returns snapshots of every known community, sorted by display
// name with the address as tie-break
func (s *Store) Overview() []CommunityOverview {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]CommunityOverview, 0, len(s.communities))
	for _, c := range s.communities {
		overview := CommunityOverview{
			Address:          c.Address,
			Pubkey:           c.Pubkey,
			Info:             c.Info,
			MembershipStatus: c.MembershipStatus,
			HasDefinition:    c.DefinitionEvent != nil,
			Channels:         make([]ChannelOverview, 0, len(c.Channels)),
		}
		for _, ch := range c.Channels {
			overview.Channels = append(overview.Channels, ChannelOverview{
				Slug:                       ch.Slug,
				Name:                       ch.Name,
				Type:                       ch.Type,
				MessageCount:               ch.MessageCount(),
				HasMoreMessages:            ch.HasMoreMessages,
				IsLoadingOlderMessages:     ch.IsLoadingOlderMessages,
				ReachedStartOfConversation: ch.ReachedStartOfConversation,
			})
		}
		sort.Slice(overview.Channels, func(i, j int) bool {
			return overview.Channels[i].Slug < overview.Channels[j].Slug
		})
		out = append(out, overview)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Info.Name != out[j].Info.Name {
			return out[i].Info.Name < out[j].Info.Name
		}
		return out[i].Address < out[j].Address
	})
	return out
}
