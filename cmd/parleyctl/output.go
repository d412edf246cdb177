package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/matheus3301/parley/internal/chat"
	"github.com/matheus3301/parley/internal/rpc"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func displayName(u chat.User) string {
	switch {
	case u.FullName != "":
		return u.FullName
	case u.Username != "":
		return u.Username
	default:
		return string(u.ID)
	}
}

func participantNames(c chat.Conversation) string {
	names := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		names = append(names, displayName(p))
	}
	return strings.Join(names, ", ")
}

func printConversationLine(w io.Writer, c chat.Conversation) {
	preview, last := "", "-"
	if n := len(c.Messages); n > 0 {
		preview = truncate(messageText(c.Messages[n-1]), 40)
		last = c.LastActivity().Local().Format(time.DateTime)
	}
	fmt.Fprintf(w, "%-12s  %-30s  %-19s  %s\n", c.ID, truncate(participantNames(c), 30), last, preview)
}

// printConversationHeader names the other side of the conversation from
// self's point of view. self may be empty when signed out.
func printConversationHeader(w io.Writer, c chat.Conversation, self chat.ID) {
	peer, ok := c.Peer(self)
	if !ok {
		fmt.Fprintf(w, "conversation %s\n", c.ID)
		return
	}
	fmt.Fprintf(w, "conversation %s with %s\n", c.ID, displayName(peer))
}

func printMessage(w io.Writer, m chat.Message) {
	state := "sent"
	switch {
	case m.Pending():
		state = "pending"
	case m.Error:
		state = "failed:" + m.Failure
	}
	fmt.Fprintf(w, "%s  %-10s  %-14s  %s\n", m.SentAt.Local().Format(time.DateTime), m.SenderID, state, messageText(m))
}

func messageText(m chat.Message) string {
	if len(m.Medias) == 0 {
		return m.Text
	}
	kinds := make([]string, 0, len(m.Medias))
	for _, md := range m.Medias {
		kinds = append(kinds, md.Type)
	}
	media := "[" + strings.Join(kinds, ",") + "]"
	if m.Text == "" {
		return media
	}
	return media + " " + m.Text
}

func printEnvelope(w io.Writer, env *rpc.Envelope) {
	payload, _ := json.Marshal(env.Payload)
	fmt.Fprintf(w, "%s  %-24s  %s\n", time.UnixMilli(env.OccurredAtUnixMs).Local().Format(time.TimeOnly), env.Kind, payload)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
