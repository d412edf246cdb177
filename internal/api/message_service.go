package api

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/matheus3301/parley/internal/bus"
	"github.com/matheus3301/parley/internal/outbox"
	"github.com/matheus3301/parley/internal/rpc"
	"github.com/matheus3301/parley/internal/status"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// MessageService implements parley.v1.MessageService.
type MessageService struct {
	sessionName  string
	orchestrator *outbox.Orchestrator
	machine      *status.Machine
	bus          *bus.Bus
}

// NewMessageService creates a new message service.
func NewMessageService(sessionName string, o *outbox.Orchestrator, m *status.Machine, b *bus.Bus) *MessageService {
	return &MessageService{sessionName: sessionName, orchestrator: o, machine: m, bus: b}
}

// SendMessage inserts the pending message and returns it at once. The
// backend call runs in the background; its outcome is published as
// message.confirmed or message.failed.
func (s *MessageService) SendMessage(_ context.Context, req *rpc.SendRequest) (*rpc.SendReply, error) {
	if req.ConversationID == "" {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "conversation_id is required")
	}
	if !s.machine.SignedIn() {
		return nil, errNotSignedIn
	}
	msg, err := s.orchestrator.SendAsync(outbox.Request{
		ConversationID: req.ConversationID,
		Text:           req.Text,
		MediaPaths:     req.MediaPaths,
	})
	if err != nil {
		return nil, toStatus("send message", err)
	}
	return &rpc.SendReply{Message: msg}, nil
}

func (s *MessageService) WatchEvents(req *rpc.WatchRequest, stream rpc.EventStream) error {
	ch, unsub := s.bus.Subscribe("", 64)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			if !matches(evt.Kind, req.Prefixes) {
				continue
			}
			if err := stream.Send(&rpc.Envelope{
				EventID:          uuid.New().String(),
				Session:          s.sessionName,
				Kind:             evt.Kind,
				OccurredAtUnixMs: evt.Timestamp.UnixMilli(),
				Payload:          evt.Payload,
			}); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func matches(kind string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(kind, p) {
			return true
		}
	}
	return false
}
