package store

// Outbox journal statuses.
const (
	OutboxQueued  = "queued"
	OutboxSending = "sending"
	OutboxSent    = "sent"
	OutboxFailed  = "failed"
)

// OutboxEntry is one journaled send attempt, keyed by its temporary id.
type OutboxEntry struct {
	TempID         string
	ConversationID string
	Body           string
	MediaCount     int
	Status         string
	Failure        string
	ErrorMessage   string
	ServerMsgID    string
	CreatedAt      int64
	UpdatedAt      int64
}

// Stats summarises the cache contents.
type Stats struct {
	Conversations int64
	Messages      int64
	PendingSends  int64
}
