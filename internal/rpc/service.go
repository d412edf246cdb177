package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	SessionServiceName = "parley.v1.SessionService"
	ChatServiceName    = "parley.v1.ChatService"
	MessageServiceName = "parley.v1.MessageService"
)

// SessionServer is the daemon side of parley.v1.SessionService.
type SessionServer interface {
	GetStatus(ctx context.Context, req *Empty) (*StatusReply, error)
	SignIn(ctx context.Context, req *SignInRequest) (*SignInReply, error)
	SignOut(ctx context.Context, req *Empty) (*Empty, error)
}

// ChatServer is the daemon side of parley.v1.ChatService.
type ChatServer interface {
	ListConversations(ctx context.Context, req *Empty) (*ConversationsReply, error)
	GetConversation(ctx context.Context, req *ConversationRequest) (*ConversationReply, error)
	OpenConversation(ctx context.Context, req *OpenRequest) (*ConversationReply, error)
	Pull(ctx context.Context, req *Empty) (*PullReply, error)
}

// MessageServer is the daemon side of parley.v1.MessageService.
type MessageServer interface {
	SendMessage(ctx context.Context, req *SendRequest) (*SendReply, error)
	WatchEvents(req *WatchRequest, stream EventStream) error
}

// EventStream is the server half of WatchEvents.
type EventStream interface {
	Send(*Envelope) error
	Context() context.Context
}

var sessionServiceDesc = grpc.ServiceDesc{
	ServiceName: SessionServiceName,
	HandlerType: (*SessionServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(SessionServiceName, "GetStatus", SessionServer.GetStatus),
		unary(SessionServiceName, "SignIn", SessionServer.SignIn),
		unary(SessionServiceName, "SignOut", SessionServer.SignOut),
	},
	Metadata: "parley/v1",
}

var chatServiceDesc = grpc.ServiceDesc{
	ServiceName: ChatServiceName,
	HandlerType: (*ChatServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(ChatServiceName, "ListConversations", ChatServer.ListConversations),
		unary(ChatServiceName, "GetConversation", ChatServer.GetConversation),
		unary(ChatServiceName, "OpenConversation", ChatServer.OpenConversation),
		unary(ChatServiceName, "Pull", ChatServer.Pull),
	},
	Metadata: "parley/v1",
}

var messageServiceDesc = grpc.ServiceDesc{
	ServiceName: MessageServiceName,
	HandlerType: (*MessageServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MessageServiceName, "SendMessage", MessageServer.SendMessage),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchEvents",
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "parley/v1",
}

func RegisterSessionService(s grpc.ServiceRegistrar, srv SessionServer) {
	s.RegisterService(&sessionServiceDesc, srv)
}

func RegisterChatService(s grpc.ServiceRegistrar, srv ChatServer) {
	s.RegisterService(&chatServiceDesc, srv)
}

func RegisterMessageService(s grpc.ServiceRegistrar, srv MessageServer) {
	s.RegisterService(&messageServiceDesc, srv)
}

// unary adapts a typed handler to a grpc.MethodDesc. Requests and replies
// travel as google.protobuf.Struct and are converted through JSON.
func unary[S, Req, Resp any](service, method string, fn func(S, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + service + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				r := new(Req)
				if err := Decode(req.(*structpb.Struct), r); err != nil {
					return nil, status.Error(codes.InvalidArgument, err.Error())
				}
				resp, err := fn(srv.(S), ctx, r)
				if err != nil {
					return nil, err
				}
				out, err := Encode(resp)
				if err != nil {
					return nil, status.Error(codes.Internal, err.Error())
				}
				return out, nil
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	req := new(WatchRequest)
	if err := Decode(in, req); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return srv.(MessageServer).WatchEvents(req, &eventStream{stream})
}

type eventStream struct {
	grpc.ServerStream
}

func (s *eventStream) Send(e *Envelope) error {
	out, err := Encode(e)
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	return s.SendMsg(out)
}
