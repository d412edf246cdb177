package rpc

import "github.com/matheus3301/parley/internal/chat"

// Empty is the request or reply of methods that carry nothing.
type Empty struct{}

type StatusReply struct {
	Session              string     `json:"session"`
	Status               string     `json:"status"`
	Refresh              string     `json:"refresh"`
	User                 *chat.User `json:"user,omitempty"`
	TokenExpiresAtUnixMs int64      `json:"token_expires_at_unix_ms,omitempty"`
	UptimeMs             int64      `json:"uptime_ms"`
	Conversations        int        `json:"conversations"`
	Messages             int        `json:"messages"`
	PendingSends         int        `json:"pending_sends"`
	LastPullUnixMs       int64      `json:"last_pull_unix_ms,omitempty"`
}

type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignInReply struct {
	User chat.User `json:"user"`
}

type ConversationsReply struct {
	Conversations []chat.Conversation `json:"conversations"`
}

type ConversationRequest struct {
	ConversationID chat.ID `json:"conversation_id"`
}

type ConversationReply struct {
	Conversation chat.Conversation `json:"conversation"`
}

type OpenRequest struct {
	UserID chat.ID `json:"user_id"`
}

type PullReply struct {
	Count    int   `json:"count"`
	AtUnixMs int64 `json:"at_unix_ms"`
}

// SendRequest asks the daemon to send a message. MediaPaths are resolved on
// the daemon's filesystem, so they should be absolute.
type SendRequest struct {
	ConversationID chat.ID  `json:"conversation_id"`
	Text           string   `json:"text"`
	MediaPaths     []string `json:"media_paths,omitempty"`
}

// SendReply carries the pending message as inserted locally. Confirmation
// or failure arrives later on WatchEvents.
type SendReply struct {
	Message chat.Message `json:"message"`
}

// WatchRequest filters the event stream by kind prefix ("message.",
// "session."). No prefixes means every event.
type WatchRequest struct {
	Prefixes []string `json:"prefixes,omitempty"`
}

// Envelope is one event on the WatchEvents stream.
type Envelope struct {
	EventID          string `json:"event_id"`
	Session          string `json:"session"`
	Kind             string `json:"kind"`
	OccurredAtUnixMs int64  `json:"occurred_at_unix_ms"`
	Payload          any    `json:"payload,omitempty"`
}
