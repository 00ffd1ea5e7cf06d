package ingest

import (
	"fmt"
	"strconv"
	"strings"
)

// Event kinds understood by the engine
const (
	KindChannelMessage      = 9     // channel chat message
	KindModerationAction    = 4551  // approve/decline/ban targeting a member
	KindMembershipRequest   = 4552  // request to join a community
	KindCommunityDefinition = 34550 // addressable community definition
	KindPinList             = 34554 // addressable per-channel pin list
)

// Moderation actions carried in the "action" tag of kind 4551 events
const (
	ActionApprove = "approve"
	ActionDecline = "decline"
	ActionBan     = "ban"
)

// CommunityAddress builds the composite addressable id for a community
func CommunityAddress(pubkey, identifier string) string {
	return fmt.Sprintf("%d:%s:%s", KindCommunityDefinition, pubkey, identifier)
}

// ChannelRef builds the channel reference for a channel within a community
func ChannelRef(communityAddress, slug string) string {
	return communityAddress + ":" + slug
}

// ParseAddress splits a "<kind>:<pubkey>:<identifier>" composite id.
// Identifiers containing ":" are rejected to keep channel refs parseable.
func ParseAddress(addr string) (kind int, pubkey, identifier string, err error) {
	parts := strings.Split(addr, ":")
	if len(parts) != 3 {
		return 0, "", "", fmt.Errorf("malformed address: %s", addr)
	}

	kind, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", "", fmt.Errorf("malformed address kind: %s", addr)
	}

	pubkey = parts[1]
	if !isHexPubkey(pubkey) {
		return 0, "", "", fmt.Errorf("malformed address pubkey: %s", addr)
	}

	identifier = parts[2]
	if identifier == "" {
		return 0, "", "", fmt.Errorf("empty address identifier: %s", addr)
	}

	return kind, pubkey, identifier, nil
}

// ParseChannelRef splits a "<communityAddr>:<slug>" channel reference
func ParseChannelRef(ref string) (communityAddress, slug string, err error) {
	parts := strings.Split(ref, ":")
	if len(parts) != 4 {
		return "", "", fmt.Errorf("malformed channel ref: %s", ref)
	}

	communityAddress = strings.Join(parts[:3], ":")
	if _, _, _, err := ParseAddress(communityAddress); err != nil {
		return "", "", fmt.Errorf("malformed channel ref: %w", err)
	}

	slug = parts[3]
	if slug == "" {
		return "", "", fmt.Errorf("empty channel slug: %s", ref)
	}

	return communityAddress, slug, nil
}

func isHexPubkey(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}
