package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func seed(ids ...ID) *Store {
	s := NewStore()
	for _, id := range ids {
		s.MergeConversation(Conversation{ID: id})
	}
	return s
}

func order(s *Store) []ID {
	var ids []ID
	for _, c := range s.Conversations() {
		ids = append(ids, c.ID)
	}
	return ids
}

func equalIDs(a, b []ID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Initial [{1}], send temp 1000 "hi", backend confirms as 55.
func TestPendingThenConfirmedScenario(t *testing.T) {
	s := seed("1")
	at := time.UnixMilli(1000)

	if _, err := s.BeginPendingSend(Message{ID: "1000", ConversationID: "1", Text: "hi", SentAt: at}); err != nil {
		t.Fatal(err)
	}

	c := s.Conversations()[0]
	if c.ID != "1" {
		t.Fatalf("conversations[0].id = %s, want 1", c.ID)
	}
	if len(c.Messages) != 1 || c.Messages[0].ID != "1000" || c.Messages[0].Text != "hi" || c.Messages[0].Sent {
		t.Fatalf("pending state = %+v, want [{id:1000 text:hi sent:false}]", c.Messages)
	}

	idx, err := s.ResolveSend("1", "1000", Message{ID: "55", Text: "hi", Sent: true, ConversationID: "1"})
	if err != nil {
		t.Fatal(err)
	}
	if idx != 0 {
		t.Errorf("resolved index = %d, want 0", idx)
	}

	c = s.Conversations()[0]
	if len(c.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(c.Messages))
	}
	m := c.Messages[0]
	if m.ID != "55" || m.Text != "hi" || !m.Sent {
		t.Errorf("final message = %+v, want {id:55 text:hi sent:true}", m)
	}
	if !m.SentAt.Equal(at) {
		t.Errorf("sentAt = %v, want client timestamp %v kept", m.SentAt, at)
	}
}

func TestBeginPendingSendMovesConversationToFront(t *testing.T) {
	s := seed("a", "b", "c")
	s.MergeConversation(Conversation{ID: "b", Messages: []Message{{ID: "m1", Sent: true, SentAt: time.UnixMilli(10)}}})

	if _, err := s.BeginPendingSend(Message{ID: "t1", ConversationID: "c", SentAt: time.UnixMilli(20)}); err != nil {
		t.Fatal(err)
	}
	if got := order(s); !equalIDs(got, []ID{"c", "a", "b"}) {
		t.Fatalf("order = %v, want [c a b]", got)
	}

	// Others untouched.
	b, _ := s.Conversation("b")
	if len(b.Messages) != 1 || b.Messages[0].ID != "m1" {
		t.Errorf("conversation b changed: %+v", b.Messages)
	}

	// Confirmation does not reorder.
	if _, err := s.BeginPendingSend(Message{ID: "t2", ConversationID: "b", SentAt: time.UnixMilli(30)}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ResolveSend("c", "t1", Message{ID: "s1"}); err != nil {
		t.Fatal(err)
	}
	if got := order(s); !equalIDs(got, []ID{"b", "c", "a"}) {
		t.Errorf("order after resolve = %v, want [b c a]", got)
	}
}

func TestFailSendKeepsTemporaryID(t *testing.T) {
	s := seed("x", "1")
	if _, err := s.BeginPendingSend(Message{ID: "1000", ConversationID: "1", Text: "hi"}); err != nil {
		t.Fatal(err)
	}
	before := order(s)

	idx, err := s.FailSend("1", "1000", "blocked")
	if err != nil {
		t.Fatal(err)
	}
	if idx != 0 {
		t.Errorf("index = %d, want 0", idx)
	}

	c, _ := s.Conversation("1")
	m := c.Messages[0]
	if m.ID != "1000" || m.Sent || !m.Error || m.Failure != "blocked" {
		t.Errorf("failed message = %+v, want {id:1000 sent:false error:true}", m)
	}
	if got := order(s); !equalIDs(got, before) {
		t.Errorf("order changed on failure: %v -> %v", before, got)
	}
}

func TestInterleavedReconciliation(t *testing.T) {
	s := seed("1")
	for _, id := range []ID{"t1", "t2"} {
		if _, err := s.BeginPendingSend(Message{ID: id, ConversationID: "1", Text: string(id)}); err != nil {
			t.Fatal(err)
		}
	}

	// t2 confirms first.
	if _, err := s.ResolveSend("1", "t2", Message{ID: "s2", Text: "t2"}); err != nil {
		t.Fatal(err)
	}
	c, _ := s.Conversation("1")
	if c.Messages[0].ID != "t1" || c.Messages[0].Sent {
		t.Fatalf("t1 disturbed: %+v", c.Messages[0])
	}
	if c.Messages[1].ID != "s2" || !c.Messages[1].Sent {
		t.Fatalf("t2 not confirmed in place: %+v", c.Messages[1])
	}

	if _, err := s.FailSend("1", "t1", "network"); err != nil {
		t.Fatal(err)
	}
	c, _ = s.Conversation("1")
	if !c.Messages[0].Error || c.Messages[1].Error {
		t.Errorf("messages = %+v, want only t1 failed", c.Messages)
	}
}

func TestMergeConversationIdempotent(t *testing.T) {
	s := seed("1", "2")

	idx, added := s.MergeConversation(Conversation{ID: "2", Participants: []User{{ID: "u2", Username: "bob"}}})
	if added || idx != 1 {
		t.Errorf("merge known = (%d, %v), want (1, false)", idx, added)
	}
	if s.Len() != 2 {
		t.Fatalf("len = %d, want 2", s.Len())
	}
	c, _ := s.Conversation("2")
	if len(c.Participants) != 1 || c.Participants[0].Username != "bob" {
		t.Errorf("entry not replaced: %+v", c)
	}

	idx, added = s.MergeConversation(Conversation{ID: "3"})
	if !added || idx != 2 {
		t.Errorf("merge unknown = (%d, %v), want (2, true)", idx, added)
	}
	if got := order(s); !equalIDs(got, []ID{"1", "2", "3"}) {
		t.Errorf("order = %v, want [1 2 3]", got)
	}
}

func TestMergeKeepsUnsentMessages(t *testing.T) {
	s := seed("1")
	if _, err := s.BeginPendingSend(Message{ID: "t1", ConversationID: "1"}); err != nil {
		t.Fatal(err)
	}

	s.MergeConversation(Conversation{ID: "1", Messages: []Message{{ID: "s0", Sent: true}}})

	if _, err := s.ResolveSend("1", "t1", Message{ID: "s1"}); err != nil {
		t.Fatalf("pending message lost on merge: %v", err)
	}
	c, _ := s.Conversation("1")
	if len(c.Messages) != 2 || c.Messages[0].ID != "s0" || c.Messages[1].ID != "s1" {
		t.Errorf("messages = %+v, want [s0 s1]", c.Messages)
	}
}

func TestSentAtClampedToKeepOrder(t *testing.T) {
	s := NewStore()
	s.MergeConversation(Conversation{ID: "1", Messages: []Message{{ID: "s0", Sent: true, SentAt: time.UnixMilli(5000)}}})

	stored, err := s.BeginPendingSend(Message{ID: "t1", ConversationID: "1", SentAt: time.UnixMilli(1000)})
	if err != nil {
		t.Fatal(err)
	}
	if !stored.SentAt.Equal(time.UnixMilli(5000)) {
		t.Errorf("sentAt = %v, want clamped to 5000ms", stored.SentAt)
	}
}

func TestCarriedUnsentMessagesStaySorted(t *testing.T) {
	s := NewStore()
	s.MergeConversation(Conversation{ID: "1", Messages: []Message{{ID: "s0", Sent: true, SentAt: time.UnixMilli(5000)}}})
	if _, err := s.BeginPendingSend(Message{ID: "t1", ConversationID: "1", SentAt: time.UnixMilli(10000)}); err != nil {
		t.Fatal(err)
	}
	incoming := Conversation{ID: "1", Messages: []Message{
		{ID: "s0", Sent: true, SentAt: time.UnixMilli(5000)},
		{ID: "s9", Sent: true, SentAt: time.UnixMilli(12000)},
	}}

	for name, apply := range map[string]func(){
		"replace all": func() { s.ReplaceAll([]Conversation{incoming}) },
		"merge":       func() { s.MergeConversation(incoming) },
	} {
		apply()
		c, _ := s.Conversation("1")
		if len(c.Messages) != 3 || c.Messages[2].ID != "t1" {
			t.Fatalf("%s: messages = %+v, want [s0 s9 t1]", name, c.Messages)
		}
		for i := 1; i < len(c.Messages); i++ {
			if c.Messages[i].SentAt.Before(c.Messages[i-1].SentAt) {
				t.Errorf("%s: messages not sorted by sentAt at %d", name, i)
			}
		}
		if !c.Messages[2].SentAt.Equal(time.UnixMilli(12000)) {
			t.Errorf("%s: pending sentAt = %v, want clamped to 12000ms", name, c.Messages[2].SentAt)
		}
	}
	if _, err := s.ResolveSend("1", "t1", Message{ID: "s10"}); err != nil {
		t.Fatalf("pending message lost: %v", err)
	}
}

func TestReconcileErrors(t *testing.T) {
	s := seed("1")
	if _, err := s.BeginPendingSend(Message{ID: "t", ConversationID: "missing"}); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("begin on missing conversation err = %v", err)
	}
	if _, err := s.BeginPendingSend(Message{ID: "t", ConversationID: "1", Sent: true}); err == nil {
		t.Error("begin with sent message should fail")
	}
	if _, err := s.ResolveSend("1", "nope", Message{ID: "s"}); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("resolve unknown temp id err = %v", err)
	}
	if _, err := s.FailSend("2", "t", ""); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("fail on missing conversation err = %v", err)
	}

	if _, err := s.BeginPendingSend(Message{ID: "t", ConversationID: "1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.BeginPendingSend(Message{ID: "t", ConversationID: "1"}); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("duplicate temp id err = %v", err)
	}
}

// A server id equal to a temporary id must not be mistaken for the pending message.
func TestResolveSkipsConfirmedWithSameID(t *testing.T) {
	s := NewStore()
	s.MergeConversation(Conversation{ID: "1", Messages: []Message{{ID: "1000", Sent: true, Text: "old"}}})
	if _, err := s.BeginPendingSend(Message{ID: "1000", ConversationID: "1", Text: "new"}); err != nil {
		t.Fatal(err)
	}

	idx, err := s.ResolveSend("1", "1000", Message{ID: "77", Text: "new"})
	if err != nil {
		t.Fatal(err)
	}
	if idx != 1 {
		t.Errorf("index = %d, want 1", idx)
	}
	c, _ := s.Conversation("1")
	if c.Messages[0].Text != "old" {
		t.Errorf("confirmed message overwritten: %+v", c.Messages[0])
	}
}

func TestSnapshotsAreCopies(t *testing.T) {
	s := NewStore()
	s.MergeConversation(Conversation{ID: "1", Messages: []Message{{ID: "m", Sent: true, Medias: []Media{{URL: "a"}}}}})

	snap := s.Conversations()
	snap[0].Messages[0].Medias[0].URL = "mutated"
	snap[0].Messages = nil

	c, _ := s.Conversation("1")
	if len(c.Messages) != 1 || c.Messages[0].Medias[0].URL != "a" {
		t.Errorf("store mutated through snapshot: %+v", c)
	}
}

func TestReplaceAllAndReset(t *testing.T) {
	s := seed("1")
	if _, err := s.BeginPendingSend(Message{ID: "t", ConversationID: "1"}); err != nil {
		t.Fatal(err)
	}

	s.ReplaceAll([]Conversation{{ID: "2"}, {ID: "1"}, {ID: "2"}})
	if got := order(s); !equalIDs(got, []ID{"2", "1"}) {
		t.Fatalf("order = %v, want [2 1]", got)
	}
	c, _ := s.Conversation("1")
	if len(c.Messages) != 1 || c.Messages[0].ID != "t" {
		t.Errorf("pending lost on ReplaceAll: %+v", c.Messages)
	}

	s.Reset()
	if s.Len() != 0 {
		t.Errorf("len after reset = %d", s.Len())
	}
}

func TestConcurrentSendsAcrossConversations(t *testing.T) {
	s := seed("a", "b", "c", "d")
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv := []ID{"a", "b", "c", "d"}[i%4]
			temp := ID(fmt.Sprintf("t%d", i))
			if _, err := s.BeginPendingSend(Message{ID: temp, ConversationID: conv}); err != nil {
				t.Error(err)
				return
			}
			if i%2 == 0 {
				_, err := s.ResolveSend(conv, temp, Message{ID: ID(fmt.Sprintf("s%d", i))})
				if err != nil {
					t.Error(err)
				}
			} else if _, err := s.FailSend(conv, temp, "general"); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	total := 0
	for _, c := range s.Conversations() {
		total += len(c.Messages)
		for _, m := range c.Messages {
			if m.Pending() {
				t.Errorf("message %s still pending", m.ID)
			}
		}
	}
	if total != 40 {
		t.Errorf("total messages = %d, want 40", total)
	}
	if s.Len() != 4 {
		t.Errorf("len = %d, want 4", s.Len())
	}
}

func TestIDUnmarshal(t *testing.T) {
	var v struct {
		A ID `json:"a"`
		B ID `json:"b"`
		C ID `json:"c"`
	}
	if err := json.Unmarshal([]byte(`{"a":55,"b":"abc","c":null}`), &v); err != nil {
		t.Fatal(err)
	}
	if v.A != "55" || v.B != "abc" || v.C != "" {
		t.Errorf("got %+v", v)
	}
	if err := json.Unmarshal([]byte(`{"a":true}`), &v); err == nil {
		t.Error("expected error for boolean id")
	}
}

func TestMessageAt(t *testing.T) {
	s := seed("1")
	if _, err := s.BeginPendingSend(Message{ID: "1000", ConversationID: "1", Text: "hi"}); err != nil {
		t.Fatal(err)
	}

	m, ok := s.MessageAt("1", 0)
	if !ok || m.ID != "1000" {
		t.Fatalf("MessageAt(1, 0) = %+v, %v", m, ok)
	}
	if _, ok := s.MessageAt("1", 1); ok {
		t.Error("MessageAt out of range reported ok")
	}
	if _, ok := s.MessageAt("missing", 0); ok {
		t.Error("MessageAt on unknown conversation reported ok")
	}
}
