package ingest

import (
	"errors"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// Rejection sentinels. All of them mean "drop the event"; none are surfaced
// past the ingest boundary as user-visible failures.
var (
	ErrUnknownKind     = errors.New("unknown event kind")
	ErrFutureTimestamp = errors.New("timestamp too far in the future")
	ErrMalformed       = errors.New("malformed event")
)

// maxClockSkew bounds how far in the future an event timestamp may be
// before the event is dropped as implausible.
const maxClockSkew = 15 * time.Minute

// Record is a typed domain record produced from a raw event. Concrete types:
// CommunityDefinition, ChannelMessage, MembershipRequest, ModerationAction,
// PinList.
type Record interface {
	Raw() *nostr.Event
}

// ChannelDef is a channel declared by a community definition event
type ChannelDef struct {
	Slug string
	Name string
	Type string // "text" or "voice"
}

// CommunityDefinition is a normalized kind 34550 event
type CommunityDefinition struct {
	Event       *nostr.Event
	Address     string
	Pubkey      string
	Identifier  string
	Name        string
	Description string
	Image       string
	Banner      string
	Moderators  []string
	Relays      []string
	Channels    []ChannelDef
}

func (r *CommunityDefinition) Raw() *nostr.Event { return r.Event }

// ChannelMessage is a normalized kind 9 event
type ChannelMessage struct {
	Event            *nostr.Event
	CommunityAddress string
	ChannelRef       string
	Slug             string
	Content          string
	Nonce            string // optional client-generated reconciliation key
}

func (r *ChannelMessage) Raw() *nostr.Event { return r.Event }

// MembershipRequest is a normalized kind 4552 event
type MembershipRequest struct {
	Event            *nostr.Event
	CommunityAddress string
}

func (r *MembershipRequest) Raw() *nostr.Event { return r.Event }

// ModerationAction is a normalized kind 4551 event. Authorization (whether
// the author may moderate) is resolved against store state, not here.
type ModerationAction struct {
	Event            *nostr.Event
	CommunityAddress string
	TargetPubkey     string
	Action           string
}

func (r *ModerationAction) Raw() *nostr.Event { return r.Event }

// PinList is a normalized kind 34554 event. MessageIDs preserves tag order.
type PinList struct {
	Event            *nostr.Event
	CommunityAddress string
	ChannelRef       string
	Slug             string
	MessageIDs       []string
}

func (r *PinList) Raw() *nostr.Event { return r.Event }

// Normalize validates a raw event against the shape expected for its kind
// and converts it into a typed record. It is pure: it never touches the
// store. A non-nil error means the event must be dropped.
func Normalize(event *nostr.Event) (Record, error) {
	if event == nil {
		return nil, ErrMalformed
	}
	if event.CreatedAt.Time().After(time.Now().Add(maxClockSkew)) {
		return nil, ErrFutureTimestamp
	}

	switch event.Kind {
	case KindCommunityDefinition:
		return normalizeCommunityDefinition(event)
	case KindChannelMessage:
		return normalizeChannelMessage(event)
	case KindMembershipRequest:
		return normalizeMembershipRequest(event)
	case KindModerationAction:
		return normalizeModerationAction(event)
	case KindPinList:
		return normalizePinList(event)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, event.Kind)
	}
}

func normalizeCommunityDefinition(event *nostr.Event) (Record, error) {
	rec := &CommunityDefinition{
		Event:  event,
		Pubkey: event.PubKey,
	}

	for _, tag := range event.Tags {
		if len(tag) < 2 {
			continue
		}
		switch tag[0] {
		case "d":
			rec.Identifier = tag[1]
		case "name":
			rec.Name = tag[1]
		case "description":
			rec.Description = tag[1]
		case "image":
			rec.Image = tag[1]
		case "banner":
			rec.Banner = tag[1]
		case "p":
			if len(tag) >= 4 && tag[3] == "moderator" {
				rec.Moderators = append(rec.Moderators, tag[1])
			}
		case "relay":
			rec.Relays = append(rec.Relays, tag[1])
		case "channel":
			def := ChannelDef{Slug: tag[1], Type: "text"}
			if len(tag) >= 3 {
				def.Name = tag[2]
			}
			if len(tag) >= 4 && (tag[3] == "text" || tag[3] == "voice") {
				def.Type = tag[3]
			}
			if def.Slug != "" {
				rec.Channels = append(rec.Channels, def)
			}
		}
	}

	if rec.Identifier == "" {
		return nil, fmt.Errorf("%w: community definition missing d tag", ErrMalformed)
	}
	rec.Address = CommunityAddress(rec.Pubkey, rec.Identifier)

	if rec.Name == "" {
		rec.Name = rec.Identifier
	}
	// Every community has at least one channel to post into
	if len(rec.Channels) == 0 {
		rec.Channels = []ChannelDef{{Slug: "general", Name: "general", Type: "text"}}
	}

	return rec, nil
}

func normalizeChannelMessage(event *nostr.Event) (Record, error) {
	rec := &ChannelMessage{
		Event:   event,
		Content: event.Content,
	}

	for _, tag := range event.Tags {
		if len(tag) < 2 {
			continue
		}
		switch tag[0] {
		case "a":
			if rec.CommunityAddress == "" {
				rec.CommunityAddress = tag[1]
			}
		case "t":
			if rec.ChannelRef == "" {
				rec.ChannelRef = tag[1]
			}
		case "nonce":
			rec.Nonce = tag[1]
		}
	}

	if rec.ChannelRef == "" {
		return nil, fmt.Errorf("%w: message missing channel tag", ErrMalformed)
	}

	addr, slug, err := ParseChannelRef(rec.ChannelRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	rec.Slug = slug

	// The community reference must be derivable from the message's own tags
	// and consistent with the channel it claims to belong to.
	if rec.CommunityAddress == "" {
		rec.CommunityAddress = addr
	} else if rec.CommunityAddress != addr {
		return nil, fmt.Errorf("%w: message community/channel tags disagree", ErrMalformed)
	}

	return rec, nil
}

func normalizeMembershipRequest(event *nostr.Event) (Record, error) {
	rec := &MembershipRequest{Event: event}

	for _, tag := range event.Tags {
		if len(tag) >= 2 && tag[0] == "a" {
			rec.CommunityAddress = tag[1]
			break
		}
	}

	if rec.CommunityAddress == "" {
		return nil, fmt.Errorf("%w: membership request missing community tag", ErrMalformed)
	}
	if _, _, _, err := ParseAddress(rec.CommunityAddress); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return rec, nil
}

func normalizeModerationAction(event *nostr.Event) (Record, error) {
	rec := &ModerationAction{Event: event}

	for _, tag := range event.Tags {
		if len(tag) < 2 {
			continue
		}
		switch tag[0] {
		case "a":
			if rec.CommunityAddress == "" {
				rec.CommunityAddress = tag[1]
			}
		case "p":
			if rec.TargetPubkey == "" {
				rec.TargetPubkey = tag[1]
			}
		case "action":
			rec.Action = tag[1]
		}
	}

	if rec.CommunityAddress == "" || rec.TargetPubkey == "" {
		return nil, fmt.Errorf("%w: moderation action missing community or target", ErrMalformed)
	}
	if _, _, _, err := ParseAddress(rec.CommunityAddress); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch rec.Action {
	case ActionApprove, ActionDecline, ActionBan:
	default:
		return nil, fmt.Errorf("%w: unknown moderation action %q", ErrMalformed, rec.Action)
	}

	return rec, nil
}

func normalizePinList(event *nostr.Event) (Record, error) {
	rec := &PinList{Event: event}

	for _, tag := range event.Tags {
		if len(tag) < 2 {
			continue
		}
		switch tag[0] {
		case "d":
			if rec.ChannelRef == "" {
				rec.ChannelRef = tag[1]
			}
		case "e":
			rec.MessageIDs = append(rec.MessageIDs, tag[1])
		}
	}

	if rec.ChannelRef == "" {
		return nil, fmt.Errorf("%w: pin list missing d tag", ErrMalformed)
	}

	addr, slug, err := ParseChannelRef(rec.ChannelRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	rec.CommunityAddress = addr
	rec.Slug = slug

	return rec, nil
}
