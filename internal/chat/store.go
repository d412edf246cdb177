package chat

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("pending message not found")
	ErrDuplicateID          = errors.New("duplicate temporary id")
)

// Store is the in-memory, ordered view of conversations (most recently
// active first) and their messages (oldest first).
//
// Reconciliation of local sends is keyed by conversation id and temporary
// message id, never by list position, so confirmations may arrive in any
// order. BeginPendingSend is the only operation that reorders conversations.
type Store struct {
	mu            sync.RWMutex
	conversations []*Conversation
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Conversations returns a deep copy of the conversation list.
func (s *Store) Conversations() []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Conversation, len(s.conversations))
	for i, c := range s.conversations {
		out[i] = c.clone()
	}
	return out
}

// Conversation returns a deep copy of one conversation.
func (s *Store) Conversation(id ID) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexOf(id)
	if i < 0 {
		return Conversation{}, false
	}
	return s.conversations[i].clone(), true
}

// MessageAt returns a copy of the message at index within a conversation.
func (s *Store) MessageAt(conversationID ID, index int) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexOf(conversationID)
	if i < 0 || index < 0 || index >= len(s.conversations[i].Messages) {
		return Message{}, false
	}
	return s.conversations[i].Messages[index].clone(), true
}

// Len returns the number of conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}

// BeginPendingSend appends msg to its conversation and moves that
// conversation to the front. msg.SentAt is clamped to the newest existing
// message so the list stays sorted. Returns the message as stored.
func (s *Store) BeginPendingSend(msg Message) (Message, error) {
	if msg.Sent {
		return Message{}, fmt.Errorf("begin pending send %s: message already confirmed", msg.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(msg.ConversationID)
	if i < 0 {
		return Message{}, fmt.Errorf("begin pending send %s: %w", msg.ConversationID, ErrConversationNotFound)
	}
	conv := s.conversations[i]
	if pendingIndex(conv, msg.ID) >= 0 {
		return Message{}, fmt.Errorf("begin pending send %s: %w", msg.ID, ErrDuplicateID)
	}

	if n := len(conv.Messages); n > 0 && msg.SentAt.Before(conv.Messages[n-1].SentAt) {
		msg.SentAt = conv.Messages[n-1].SentAt
	}
	msg = msg.clone()
	conv.Messages = append(conv.Messages, msg)

	// Move to front.
	copy(s.conversations[1:i+1], s.conversations[:i])
	s.conversations[0] = conv

	return msg.clone(), nil
}

// ResolveSend replaces the pending message tempID in place with the server
// confirmed message. Returns the message index within the conversation.
func (s *Store) ResolveSend(conversationID, tempID ID, confirmed Message) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, j, err := s.locatePending(conversationID, tempID)
	if err != nil {
		return -1, fmt.Errorf("resolve send: %w", err)
	}

	confirmed = confirmed.clone()
	if confirmed.ConversationID == "" {
		confirmed.ConversationID = conversationID
	}
	if confirmed.SentAt.IsZero() {
		confirmed.SentAt = conv.Messages[j].SentAt
	}
	if len(confirmed.Medias) == 0 {
		confirmed.Medias = conv.Messages[j].Medias
	}
	confirmed.Sent = true
	confirmed.Error = false
	confirmed.Failure = ""
	conv.Messages[j] = confirmed
	return j, nil
}

// FailSend flags the pending message tempID in place as failed. The
// message keeps its temporary id and stays unsent.
func (s *Store) FailSend(conversationID, tempID ID, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, j, err := s.locatePending(conversationID, tempID)
	if err != nil {
		return -1, fmt.Errorf("fail send: %w", err)
	}
	conv.Messages[j].Error = true
	conv.Messages[j].Failure = reason
	return j, nil
}

// MergeConversation replaces the conversation with the same id in place,
// or appends it when unknown. Unconfirmed local messages of the replaced
// entry are kept at the end of its list, since the backend never returns
// them, with SentAt clamped to keep the list sorted.
func (s *Store) MergeConversation(c Conversation) (index int, added bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c = c.clone()
	if i := s.indexOf(c.ID); i >= 0 {
		c.Messages = carryUnsent(s.conversations[i], c.Messages)
		s.conversations[i] = &c
		return i, false
	}
	s.conversations = append(s.conversations, &c)
	return len(s.conversations) - 1, true
}

// ReplaceAll swaps the whole list, keeping unconfirmed local messages of
// conversations that appear in both.
func (s *Store) ReplaceAll(list []Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]*Conversation, 0, len(list))
	seen := make(map[ID]bool, len(list))
	for _, c := range list {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		c = c.clone()
		if i := s.indexOf(c.ID); i >= 0 {
			c.Messages = carryUnsent(s.conversations[i], c.Messages)
		}
		next = append(next, &c)
	}
	s.conversations = next
}

// Reset drops every conversation.
func (s *Store) Reset() {
	s.mu.Lock()
	s.conversations = nil
	s.mu.Unlock()
}

func (s *Store) indexOf(id ID) int {
	for i, c := range s.conversations {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) locatePending(conversationID, tempID ID) (*Conversation, int, error) {
	i := s.indexOf(conversationID)
	if i < 0 {
		return nil, -1, fmt.Errorf("%s: %w", conversationID, ErrConversationNotFound)
	}
	conv := s.conversations[i]
	j := pendingIndex(conv, tempID)
	if j < 0 {
		return nil, -1, fmt.Errorf("%s/%s: %w", conversationID, tempID, ErrMessageNotFound)
	}
	return conv, j, nil
}

// pendingIndex finds an unconfirmed message by temporary id. Confirmed
// messages are skipped: a server id may collide with a temporary one.
func pendingIndex(c *Conversation, tempID ID) int {
	for j := len(c.Messages) - 1; j >= 0; j-- {
		m := c.Messages[j]
		if !m.Sent && m.ID == tempID {
			return j
		}
	}
	return -1
}

// carryUnsent appends prev's unconfirmed messages to incoming, clamping
// their SentAt to the newest incoming message so the list stays sorted.
func carryUnsent(prev *Conversation, incoming []Message) []Message {
	var floor time.Time
	if n := len(incoming); n > 0 {
		floor = incoming[n-1].SentAt
	}
	for _, m := range prev.Messages {
		if m.Sent {
			continue
		}
		m = m.clone()
		if m.SentAt.Before(floor) {
			m.SentAt = floor
		}
		incoming = append(incoming, m)
	}
	return incoming
}
