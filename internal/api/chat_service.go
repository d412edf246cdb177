package api

import (
	"context"

	"github.com/matheus3301/parley/internal/chat"
	"github.com/matheus3301/parley/internal/rpc"
	"github.com/matheus3301/parley/internal/status"
	intsync "github.com/matheus3301/parley/internal/sync"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// ChatService implements parley.v1.ChatService. Reads are served from the
// in-memory store; Open and Pull go to the backend.
type ChatService struct {
	store   *chat.Store
	engine  *intsync.Engine
	machine *status.Machine
}

// NewChatService creates a new chat service.
func NewChatService(st *chat.Store, engine *intsync.Engine, m *status.Machine) *ChatService {
	return &ChatService{store: st, engine: engine, machine: m}
}

func (s *ChatService) ListConversations(_ context.Context, _ *rpc.Empty) (*rpc.ConversationsReply, error) {
	return &rpc.ConversationsReply{Conversations: s.store.Conversations()}, nil
}

func (s *ChatService) GetConversation(_ context.Context, req *rpc.ConversationRequest) (*rpc.ConversationReply, error) {
	c, ok := s.store.Conversation(req.ConversationID)
	if !ok {
		return nil, grpcstatus.Errorf(codes.NotFound, "conversation %s not found", req.ConversationID)
	}
	return &rpc.ConversationReply{Conversation: c}, nil
}

func (s *ChatService) OpenConversation(ctx context.Context, req *rpc.OpenRequest) (*rpc.ConversationReply, error) {
	if req.UserID == "" {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "user_id is required")
	}
	if !s.machine.SignedIn() {
		return nil, errNotSignedIn
	}
	c, err := s.engine.Open(ctx, req.UserID)
	if err != nil {
		return nil, toStatus("open conversation", err)
	}
	return &rpc.ConversationReply{Conversation: c}, nil
}

func (s *ChatService) Pull(ctx context.Context, _ *rpc.Empty) (*rpc.PullReply, error) {
	if !s.machine.SignedIn() {
		return nil, errNotSignedIn
	}
	n, err := s.engine.Pull(ctx)
	if err != nil {
		return nil, toStatus("pull", err)
	}
	resp := &rpc.PullReply{Count: n}
	if last, err := s.engine.LastPull(); err == nil {
		resp.AtUnixMs = last.UnixMilli()
	}
	return resp, nil
}
