package bus

import "time"

// Event kinds published by the daemon. Subscribers filter by namespace
// prefix ("session.", "message.", "conversation.").
const (
	KindStatusChanged = "session.status_changed"
	KindSignedIn      = "session.signed_in"
	KindSignedOut     = "session.signed_out"
	KindTokenRefresh  = "session.token_refreshed"

	KindMessagePending   = "message.pending"
	KindMessageConfirmed = "message.confirmed"
	KindMessageFailed    = "message.failed"

	KindConversationMerged  = "conversation.merged"
	KindConversationsPulled = "conversation.pulled"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent returns an event of the given kind stamped with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
