package rpc

import (
	"context"
	"fmt"

	"github.com/matheus3301/parley/internal/chat"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client is a typed client for the daemon's services.
type Client struct {
	cc    grpc.ClientConnInterface
	close func() error
}

// Dial connects to the daemon's Unix domain socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{cc: conn, close: conn.Close}, nil
}

// NewClient wraps an existing connection. Close does not close it.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Close closes the connection opened by Dial.
func (c *Client) Close() error {
	if c.close == nil {
		return nil
	}
	return c.close()
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, req any) (*Resp, error) {
	in, err := Encode(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := cc.Invoke(ctx, method, in, out); err != nil {
		return nil, err
	}
	resp := new(Resp)
	if err := Decode(out, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) Status(ctx context.Context) (*StatusReply, error) {
	return invoke[StatusReply](ctx, c.cc, "/"+SessionServiceName+"/GetStatus", Empty{})
}

func (c *Client) SignIn(ctx context.Context, email, password string) (chat.User, error) {
	resp, err := invoke[SignInReply](ctx, c.cc, "/"+SessionServiceName+"/SignIn", SignInRequest{Email: email, Password: password})
	if err != nil {
		return chat.User{}, err
	}
	return resp.User, nil
}

func (c *Client) SignOut(ctx context.Context) error {
	_, err := invoke[Empty](ctx, c.cc, "/"+SessionServiceName+"/SignOut", Empty{})
	return err
}

func (c *Client) Conversations(ctx context.Context) ([]chat.Conversation, error) {
	resp, err := invoke[ConversationsReply](ctx, c.cc, "/"+ChatServiceName+"/ListConversations", Empty{})
	if err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

func (c *Client) Conversation(ctx context.Context, id chat.ID) (chat.Conversation, error) {
	resp, err := invoke[ConversationReply](ctx, c.cc, "/"+ChatServiceName+"/GetConversation", ConversationRequest{ConversationID: id})
	if err != nil {
		return chat.Conversation{}, err
	}
	return resp.Conversation, nil
}

// Open gets or creates the one-to-one conversation with userID.
func (c *Client) Open(ctx context.Context, userID chat.ID) (chat.Conversation, error) {
	resp, err := invoke[ConversationReply](ctx, c.cc, "/"+ChatServiceName+"/OpenConversation", OpenRequest{UserID: userID})
	if err != nil {
		return chat.Conversation{}, err
	}
	return resp.Conversation, nil
}

func (c *Client) Pull(ctx context.Context) (*PullReply, error) {
	return invoke[PullReply](ctx, c.cc, "/"+ChatServiceName+"/Pull", Empty{})
}

// Send returns the pending message. Its temporary id identifies the
// message.confirmed or message.failed event that follows.
func (c *Client) Send(ctx context.Context, req SendRequest) (chat.Message, error) {
	resp, err := invoke[SendReply](ctx, c.cc, "/"+MessageServiceName+"/SendMessage", req)
	if err != nil {
		return chat.Message{}, err
	}
	return resp.Message, nil
}

// Watcher receives envelopes from a WatchEvents stream.
type Watcher struct {
	stream grpc.ClientStream
}

// Watch opens the event stream. Cancel ctx to end it.
func (c *Client) Watch(ctx context.Context, prefixes ...string) (*Watcher, error) {
	stream, err := c.cc.NewStream(ctx, &messageServiceDesc.Streams[0], "/"+MessageServiceName+"/WatchEvents")
	if err != nil {
		return nil, err
	}
	in, err := Encode(WatchRequest{Prefixes: prefixes})
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &Watcher{stream: stream}, nil
}

// Recv blocks for the next envelope. It returns io.EOF when the daemon ends
// the stream.
func (w *Watcher) Recv() (*Envelope, error) {
	out := new(structpb.Struct)
	if err := w.stream.RecvMsg(out); err != nil {
		return nil, err
	}
	env := new(Envelope)
	if err := Decode(out, env); err != nil {
		return nil, err
	}
	return env, nil
}
