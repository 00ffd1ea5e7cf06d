// Package membership derives a community role/status for an identity from
// the community definition, the identity's membership requests, and
// moderation actions targeting it. Resolution is a pure function of its
// inputs so it can be recomputed on every store change.
package membership

// Status is the derived membership status of an identity in a community
type Status string

const (
	StatusOwner     Status = "owner"
	StatusModerator Status = "moderator"
	StatusApproved  Status = "approved"
	StatusPending   Status = "pending"
	StatusDeclined  Status = "declined"
	StatusBanned    Status = "banned"
	StatusNotMember Status = "not-member"
)

// Request is the latest membership request from the identity
type Request struct {
	CreatedAt int64
}

// Action is an authorized moderation action targeting the identity.
// Callers are responsible for filtering out actions from authors who are
// neither the community creator nor a listed moderator.
type Action struct {
	Action    string // "approve", "decline" or "ban"
	CreatedAt int64
	EventID   string
}

// Inputs are the event-derived facts resolution runs over
type Inputs struct {
	Creator    string
	Moderators []string
	Request    *Request // nil when the identity never requested to join
	Actions    []Action
}

// Resolve derives the membership status for identity. Precedence, highest
// to lowest: ban, community creator, moderators list, latest moderation
// decision, membership request, not-member. Among moderation actions,
// recency wins: a ban only holds while it is the latest action, so a later
// approve lifts it.
func Resolve(identity string, in Inputs) Status {
	latest := latestAction(in.Actions)

	if latest != nil && latest.Action == "ban" {
		return StatusBanned
	}

	if identity == in.Creator {
		return StatusOwner
	}
	for _, mod := range in.Moderators {
		if mod == identity {
			return StatusModerator
		}
	}

	if latest != nil {
		switch latest.Action {
		case "approve":
			return StatusApproved
		case "decline":
			return StatusDeclined
		}
	}

	if in.Request != nil {
		return StatusPending
	}

	return StatusNotMember
}

// latestAction returns the most recent action, breaking created_at ties
// lexicographically on event id so resolution is deterministic
func latestAction(actions []Action) *Action {
	var latest *Action
	for i := range actions {
		a := &actions[i]
		if latest == nil {
			latest = a
			continue
		}
		if a.CreatedAt > latest.CreatedAt ||
			(a.CreatedAt == latest.CreatedAt && a.EventID > latest.EventID) {
			latest = a
		}
	}
	return latest
}
