package backend

import (
	"context"
	"fmt"

	"github.com/matheus3301/parley/internal/chat"
	"github.com/matheus3301/parley/internal/remote"
)

// ChatAPI runs the chat GraphQL operations through the gateway.
type ChatAPI struct {
	gateway *remote.Gateway
}

func NewChatAPI(g *remote.Gateway) *ChatAPI {
	return &ChatAPI{gateway: g}
}

// SendMessage posts a message with optional file attachments.
func (c *ChatAPI) SendMessage(ctx context.Context, conversationID chat.ID, text string, files []remote.File) (chat.Message, error) {
	vars := map[string]any{"conversationId": conversationID}
	if text != "" {
		vars["text"] = text
	}

	var uploads []remote.Upload
	if len(files) > 0 {
		slots := make([]any, len(files))
		for i, f := range files {
			uploads = append(uploads, remote.Upload{
				Variable: fmt.Sprintf("variables.files.%d", i),
				File:     f,
			})
		}
		vars["files"] = slots
	}

	var out struct {
		SendMessage chat.Message `json:"sendMessage"`
	}
	op := remote.Operation{Name: "SendMessage", Query: sendMessageMutation, Variables: vars, Uploads: uploads}
	if err := c.gateway.Do(ctx, op, &out); err != nil {
		return chat.Message{}, err
	}
	msg := out.SendMessage
	if msg.ConversationID == "" {
		msg.ConversationID = conversationID
	}
	msg.Sent = true
	return msg, nil
}

// GetOrCreateOneToOneConversation returns the conversation with userID,
// creating it on the backend when it does not exist yet.
func (c *ChatAPI) GetOrCreateOneToOneConversation(ctx context.Context, userID chat.ID) (chat.Conversation, error) {
	var out struct {
		Conversation chat.Conversation `json:"getOrCreateOneToOneConversation"`
	}
	op := remote.Operation{
		Name:      "GetOrCreateOneToOneConversation",
		Query:     oneToOneConversationMutation,
		Variables: map[string]any{"userId": userID},
	}
	if err := c.gateway.Do(ctx, op, &out); err != nil {
		return chat.Conversation{}, err
	}
	markSent(&out.Conversation)
	return out.Conversation, nil
}

// ListConversations returns every conversation of the signed-in user.
func (c *ChatAPI) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	var out struct {
		Conversations []chat.Conversation `json:"conversations"`
	}
	if err := c.gateway.Do(ctx, remote.Operation{Name: "Conversations", Query: conversationsQuery}, &out); err != nil {
		return nil, err
	}
	for i := range out.Conversations {
		markSent(&out.Conversations[i])
	}
	return out.Conversations, nil
}

// Messages coming from the backend are confirmed by definition.
func markSent(c *chat.Conversation) {
	for i := range c.Messages {
		c.Messages[i].Sent = true
		if c.Messages[i].ConversationID == "" {
			c.Messages[i].ConversationID = c.ID
		}
	}
}
