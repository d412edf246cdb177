package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/parley/internal/auth"
	"github.com/matheus3301/parley/internal/bus"
	"github.com/matheus3301/parley/internal/chat"
	"github.com/matheus3301/parley/internal/outbox"
	"github.com/matheus3301/parley/internal/remote"
	"github.com/matheus3301/parley/internal/rpc"
	"github.com/matheus3301/parley/internal/status"
	"github.com/matheus3301/parley/internal/store"
	intsync "github.com/matheus3301/parley/internal/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

// fakeBackend stands in for every backend-facing interface.
type fakeBackend struct {
	mu       sync.Mutex
	password string
	list     []chat.Conversation
	sent     []string
}

func (f *fakeBackend) SignIn(_ context.Context, email, password string) (auth.Token, chat.User, error) {
	if password != f.password {
		return auth.Token{}, chat.User{}, &remote.Error{Status: 401, Message: "invalid credentials"}
	}
	return auth.Token{Value: "tok", ExpiresAt: time.UnixMilli(1900000000000)}, chat.User{ID: "u1", Username: email}, nil
}

func (f *fakeBackend) SignOut(context.Context) error { return nil }

func (f *fakeBackend) RefreshAccessToken(context.Context) (auth.Token, error) {
	return auth.Token{Value: "tok2"}, nil
}

func (f *fakeBackend) SendMessage(_ context.Context, convID chat.ID, text string, _ []remote.File) (chat.Message, error) {
	f.mu.Lock()
	f.sent = append(f.sent, text)
	f.mu.Unlock()
	return chat.Message{ID: "55", ConversationID: convID, SenderID: "u1", Text: text}, nil
}

func (f *fakeBackend) ListConversations(context.Context) ([]chat.Conversation, error) {
	return f.list, nil
}

func (f *fakeBackend) GetOrCreateOneToOneConversation(_ context.Context, userID chat.ID) (chat.Conversation, error) {
	return chat.Conversation{ID: "c-" + userID, Participants: []chat.User{{ID: "u1"}, {ID: userID}}}, nil
}

type harness struct {
	client  *rpc.Client
	bus     *bus.Bus
	machine *status.Machine
	store   *chat.Store
	backend *fakeBackend
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	fb := &fakeBackend{
		password: "secret",
		list:     []chat.Conversation{{ID: "2"}, {ID: "1"}},
	}
	b := bus.New()
	machine := status.NewMachine(b)
	creds := auth.NewCredentials()
	st := chat.NewStore()
	authn := auth.NewAuthenticator(fb, creds, machine, b, nil)
	coord := auth.NewCoordinator(fb, creds, auth.CoordinatorOptions{Observer: authn})
	engine := intsync.NewEngine(db, st, fb, b, nil)
	orch := outbox.New(st, fb, db, b, creds, outbox.Options{Timeout: time.Second})
	t.Cleanup(orch.Close)
	require.NoError(t, authn.Boot())

	srv := grpc.NewServer()
	rpc.RegisterSessionService(srv, NewSessionService("main", SessionDeps{
		Machine:       machine,
		Authenticator: authn,
		Credentials:   creds,
		Coordinator:   coord,
		DB:            db,
		Engine:        engine,
	}))
	rpc.RegisterChatService(srv, NewChatService(st, engine, machine))
	rpc.RegisterMessageService(srv, NewMessageService("main", orch, machine, b))

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &harness{client: rpc.NewClient(conn), bus: b, machine: machine, store: st, backend: fb}
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestSessionStatusAndSignIn(t *testing.T) {
	h := newHarness(t)
	ctx := testCtx(t)

	st, err := h.client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "main", st.Session)
	assert.Equal(t, string(status.SignedOut), st.Status)
	assert.Equal(t, "idle", st.Refresh)
	assert.Nil(t, st.User)

	_, err = h.client.SignIn(ctx, "alice", "wrong")
	assert.Equal(t, codes.Unauthenticated, grpcstatus.Code(err))

	_, err = h.client.SignIn(ctx, "", "")
	assert.Equal(t, codes.InvalidArgument, grpcstatus.Code(err))

	u, err := h.client.SignIn(ctx, "alice", "secret")
	require.NoError(t, err)
	assert.Equal(t, chat.ID("u1"), u.ID)

	st, err = h.client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, string(status.Ready), st.Status)
	require.NotNil(t, st.User)
	assert.Equal(t, "alice", st.User.Username)
	assert.Equal(t, int64(1900000000000), st.TokenExpiresAtUnixMs)

	_, err = h.client.SignIn(ctx, "alice", "secret")
	assert.Equal(t, codes.FailedPrecondition, grpcstatus.Code(err))

	require.NoError(t, h.client.SignOut(ctx))
	assert.Equal(t, status.SignedOut, h.machine.Current())

	err = h.client.SignOut(ctx)
	assert.Equal(t, codes.FailedPrecondition, grpcstatus.Code(err))
}

func TestSignedOutRejectsBackendCalls(t *testing.T) {
	h := newHarness(t)
	ctx := testCtx(t)

	_, err := h.client.Pull(ctx)
	assert.Equal(t, codes.FailedPrecondition, grpcstatus.Code(err))
	_, err = h.client.Open(ctx, "u2")
	assert.Equal(t, codes.FailedPrecondition, grpcstatus.Code(err))
	_, err = h.client.Send(ctx, rpc.SendRequest{ConversationID: "1", Text: "hi"})
	assert.Equal(t, codes.FailedPrecondition, grpcstatus.Code(err))
}

func TestChatService(t *testing.T) {
	h := newHarness(t)
	ctx := testCtx(t)
	_, err := h.client.SignIn(ctx, "alice", "secret")
	require.NoError(t, err)

	pull, err := h.client.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pull.Count)
	assert.NotZero(t, pull.AtUnixMs)

	conv, err := h.client.Open(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, chat.ID("c-u2"), conv.ID)

	list, err := h.client.Conversations(ctx)
	require.NoError(t, err)
	var ids []chat.ID
	for _, c := range list {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []chat.ID{"2", "1", "c-u2"}, ids)

	got, err := h.client.Conversation(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, chat.ID("1"), got.ID)

	_, err = h.client.Conversation(ctx, "nope")
	assert.Equal(t, codes.NotFound, grpcstatus.Code(err))
	_, err = h.client.Open(ctx, "")
	assert.Equal(t, codes.InvalidArgument, grpcstatus.Code(err))
}

func TestSendMessageStreamsOutcome(t *testing.T) {
	h := newHarness(t)
	ctx := testCtx(t)
	_, err := h.client.SignIn(ctx, "alice", "secret")
	require.NoError(t, err)
	_, err = h.client.Pull(ctx)
	require.NoError(t, err)

	base := h.bus.Subscribers()
	w, err := h.client.Watch(ctx, "message.")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.bus.Subscribers() > base }, 2*time.Second, 5*time.Millisecond)

	msg, err := h.client.Send(ctx, rpc.SendRequest{ConversationID: "1", Text: "hello"})
	require.NoError(t, err)
	assert.False(t, msg.Sent)
	assert.Equal(t, chat.ID("u1"), msg.SenderID)
	tempID := msg.ID

	var kinds []string
	for len(kinds) < 2 {
		env, err := w.Recv()
		require.NoError(t, err)
		assert.Equal(t, "main", env.Session)
		assert.NotEmpty(t, env.EventID)
		payload, ok := env.Payload.(map[string]any)
		require.True(t, ok, "payload = %#v", env.Payload)
		assert.Equal(t, string(tempID), payload["TempID"])
		kinds = append(kinds, env.Kind)
	}
	assert.Equal(t, []string{bus.KindMessagePending, bus.KindMessageConfirmed}, kinds)

	c, ok := h.store.Conversation("1")
	require.True(t, ok)
	require.Len(t, c.Messages, 1)
	assert.Equal(t, chat.ID("55"), c.Messages[0].ID)
	assert.True(t, c.Messages[0].Sent)

	// The conversation moved to the front on send.
	assert.Equal(t, chat.ID("1"), h.store.Conversations()[0].ID)
}

func TestSendMessageRejects(t *testing.T) {
	h := newHarness(t)
	ctx := testCtx(t)
	_, err := h.client.SignIn(ctx, "alice", "secret")
	require.NoError(t, err)
	_, err = h.client.Pull(ctx)
	require.NoError(t, err)

	tests := []struct {
		name string
		req  rpc.SendRequest
		want codes.Code
	}{
		{"no conversation id", rpc.SendRequest{Text: "x"}, codes.InvalidArgument},
		{"empty message", rpc.SendRequest{ConversationID: "1"}, codes.InvalidArgument},
		{"unknown conversation", rpc.SendRequest{ConversationID: "404", Text: "x"}, codes.NotFound},
		{"missing media", rpc.SendRequest{ConversationID: "1", MediaPaths: []string{filepath.Join(t.TempDir(), "gone.png")}}, codes.InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.client.Send(ctx, tt.req)
			assert.Equal(t, tt.want, grpcstatus.Code(err))
		})
	}
	assert.Empty(t, h.backend.sent)
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"unauthenticated", fmt.Errorf("x: %w", auth.ErrUnauthenticated), codes.Unauthenticated},
		{"backend 401", &remote.Error{Status: 401}, codes.Unauthenticated},
		{"signed out", auth.ErrSignedOut, codes.FailedPrecondition},
		{"not found", fmt.Errorf("x: %w", chat.ErrConversationNotFound), codes.NotFound},
		{"empty", outbox.ErrEmptyMessage, codes.InvalidArgument},
		{"deadline", context.DeadlineExceeded, codes.DeadlineExceeded},
		{"backend 503", &remote.Error{Status: 503}, codes.Unavailable},
		{"backend code", &remote.Error{Status: 200, Code: "BLOCKED"}, codes.Internal},
		{"network", &net.OpError{Op: "dial", Err: errors.New("refused")}, codes.Unavailable},
		{"other", errors.New("boom"), codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, grpcstatus.Code(toStatus("op", tt.err)))
		})
	}
}
