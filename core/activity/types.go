package activity

import (
	"time"
)

// =============================================================================
// Activity Kinds
// =============================================================================

// Kind identifies the type of activity an account performed.
// Kinds fall into two classes: actions (self-directed, e.g. posting a lone
// message) and interactions (bilateral, e.g. replying to another account).
type Kind string

// Action kinds (self-directed; self-entries are retained in matrices).
const (
	// KindMessage represents a standalone message with no counterpart.
	KindMessage Kind = "message"

	// KindThread represents starting a thread.
	KindThread Kind = "thread"
)

// Interaction kinds (bilateral; the matrix diagonal is forced to zero).
const (
	// KindReply represents replying to another account's message.
	KindReply Kind = "reply"

	// KindMention represents mentioning another account.
	KindMention Kind = "mention"

	// KindReaction represents reacting to another account's message.
	KindReaction Kind = "reaction"
)

// ValidKinds returns all valid Kind values.
func ValidKinds() []Kind {
	return []Kind{
		KindMessage,
		KindThread,
		KindReply,
		KindMention,
		KindReaction,
	}
}

// InteractionKinds returns the kinds that represent true bilateral
// interaction between two distinct accounts.
func InteractionKinds() []Kind {
	return []Kind{
		KindReply,
		KindMention,
		KindReaction,
	}
}

// IsValid returns true if the kind is a recognized value.
func (k Kind) IsValid() bool {
	for _, valid := range ValidKinds() {
		if k == valid {
			return true
		}
	}
	return false
}

// IsInteraction returns true if the kind represents a bilateral interaction.
// Interaction kinds exclude self-interaction; action kinds keep it.
func (k Kind) IsInteraction() bool {
	for _, valid := range InteractionKinds() {
		if k == valid {
			return true
		}
	}
	return false
}

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// =============================================================================
// Direction
// =============================================================================

// Direction indicates whether the account emitted or received the activity.
type Direction string

const (
	// DirectionEmitter marks the account as the originator of the activity.
	DirectionEmitter Direction = "emitter"

	// DirectionReceiver marks the account as the target of the activity.
	DirectionReceiver Direction = "receiver"
)

// IsValid returns true if the direction is a recognized value.
func (d Direction) IsValid() bool {
	switch d {
	case DirectionEmitter, DirectionReceiver:
		return true
	default:
		return false
	}
}

// String returns the string representation of the direction.
func (d Direction) String() string {
	return string(d)
}

// =============================================================================
// Records
// =============================================================================

// Record is a single raw activity observation produced by an upstream
// collector. Records are immutable once written.
type Record struct {
	// AccountID is the account the record is attributed to.
	AccountID string `json:"account_id"`

	// Timestamp is when the activity occurred.
	Timestamp time.Time `json:"timestamp"`

	// Kind is the type of activity.
	Kind Kind `json:"kind"`

	// Direction indicates whether AccountID emitted or received the activity.
	Direction Direction `json:"direction"`

	// EngagedAccounts lists the counterpart accounts, in occurrence order.
	// Repeated ids count as repeated interactions.
	EngagedAccounts []string `json:"engaged_accounts"`

	// ResourceID identifies the channel/resource the activity happened in.
	ResourceID string `json:"resource_id"`
}

// Member describes an account known to a scope.
type Member struct {
	// AccountID is the unique account identifier within the platform.
	AccountID string `json:"account_id"`

	// DisplayName is the human-readable name shown on graph nodes.
	DisplayName string `json:"display_name"`

	// JoinedAt is when the account joined the scope.
	JoinedAt time.Time `json:"joined_at"`
}
