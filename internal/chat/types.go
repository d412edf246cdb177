package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// PendingSender is the sender id of a locally created message whose sender
// is not known yet (no signed-in user id was available at insert time).
const PendingSender ID = "pending"

// ID is an opaque identifier. The backend may emit ids as JSON numbers or
// strings; both decode to the same ID.
type ID string

func (id ID) String() string { return string(id) }

// UnmarshalJSON accepts 55, "55" and null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// User is a reference to a participant.
type User struct {
	ID       ID     `json:"id"`
	Username string `json:"username,omitempty"`
	FullName string `json:"fullName,omitempty"`
	Image    string `json:"image,omitempty"`
}

// Receipt records when a user received or saw a message.
type Receipt struct {
	UserID ID        `json:"userId"`
	Date   time.Time `json:"date"`
}

// Media is a displayable attachment descriptor.
type Media struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

// Message is a chat message. While Sent is false the ID is a client
// temporary id; on confirmation it is replaced by the server id.
type Message struct {
	ID             ID        `json:"id"`
	ConversationID ID        `json:"conversationId"`
	SenderID       ID        `json:"senderId"`
	Text           string    `json:"text,omitempty"`
	Medias         []Media   `json:"medias,omitempty"`
	SentAt         time.Time `json:"sentAt"`
	DeliveredTo    []Receipt `json:"deliveredTo,omitempty"`
	SeenBy         []Receipt `json:"seenBy,omitempty"`
	Sent           bool      `json:"sent"`
	Error          bool      `json:"error,omitempty"`
	// Failure is the send failure classification when Error is set.
	Failure string `json:"failure,omitempty"`
}

// Pending reports whether the message is an unconfirmed local send that has not failed.
func (m Message) Pending() bool {
	return !m.Sent && !m.Error
}

// Conversation holds participants and messages ordered oldest first.
type Conversation struct {
	ID           ID        `json:"id"`
	Participants []User    `json:"participants"`
	Messages     []Message `json:"messages"`
}

// LastActivity returns the SentAt of the newest message, or the zero time.
func (c Conversation) LastActivity() time.Time {
	if len(c.Messages) == 0 {
		return time.Time{}
	}
	return c.Messages[len(c.Messages)-1].SentAt
}

// Peer returns the first participant that is not self. For one-to-one
// conversations this is the only other participant.
func (c Conversation) Peer(self ID) (User, bool) {
	for _, p := range c.Participants {
		if p.ID != self {
			return p, true
		}
	}
	return User{}, false
}

func (m Message) clone() Message {
	m.Medias = slices.Clone(m.Medias)
	m.DeliveredTo = slices.Clone(m.DeliveredTo)
	m.SeenBy = slices.Clone(m.SeenBy)
	return m
}

func (c Conversation) clone() Conversation {
	out := Conversation{
		ID:           c.ID,
		Participants: slices.Clone(c.Participants),
		Messages:     make([]Message, len(c.Messages)),
	}
	for i, m := range c.Messages {
		out.Messages[i] = m.clone()
	}
	return out
}
