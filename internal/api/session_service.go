package api

import (
	"context"
	"time"

	"github.com/matheus3301/parley/internal/auth"
	"github.com/matheus3301/parley/internal/rpc"
	"github.com/matheus3301/parley/internal/status"
	"github.com/matheus3301/parley/internal/store"
	intsync "github.com/matheus3301/parley/internal/sync"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// SessionService implements parley.v1.SessionService.
type SessionService struct {
	sessionName string
	startedAt   time.Time
	machine     *status.Machine
	authn       *auth.Authenticator
	creds       *auth.Credentials
	coordinator *auth.Coordinator
	db          *store.DB
	engine      *intsync.Engine
}

// SessionDeps groups what the session service reports on. Nil fields are
// left out of GetStatus.
type SessionDeps struct {
	Machine       *status.Machine
	Authenticator *auth.Authenticator
	Credentials   *auth.Credentials
	Coordinator   *auth.Coordinator
	DB            *store.DB
	Engine        *intsync.Engine
}

// NewSessionService creates a new session service.
func NewSessionService(sessionName string, deps SessionDeps) *SessionService {
	return &SessionService{
		sessionName: sessionName,
		startedAt:   time.Now(),
		machine:     deps.Machine,
		authn:       deps.Authenticator,
		creds:       deps.Credentials,
		coordinator: deps.Coordinator,
		db:          deps.DB,
		engine:      deps.Engine,
	}
}

func (s *SessionService) GetStatus(_ context.Context, _ *rpc.Empty) (*rpc.StatusReply, error) {
	resp := &rpc.StatusReply{
		Session:  s.sessionName,
		Status:   string(s.machine.Current()),
		Refresh:  auth.Idle.String(),
		UptimeMs: time.Since(s.startedAt).Milliseconds(),
	}

	if s.coordinator != nil {
		resp.Refresh = s.coordinator.State().String()
	}
	if s.creds != nil && s.creds.Present() {
		u := s.creds.User()
		resp.User = &u
		if exp := s.creds.Token().ExpiresAt; !exp.IsZero() {
			resp.TokenExpiresAtUnixMs = exp.UnixMilli()
		}
	}

	// Populate counts from the cache.
	if s.db != nil {
		if st, err := s.db.Stats(); err == nil {
			resp.Conversations = int(st.Conversations)
			resp.Messages = int(st.Messages)
			resp.PendingSends = int(st.PendingSends)
		}
	}
	if s.engine != nil {
		if last, err := s.engine.LastPull(); err == nil && !last.IsZero() {
			resp.LastPullUnixMs = last.UnixMilli()
		}
	}

	return resp, nil
}

func (s *SessionService) SignIn(ctx context.Context, req *rpc.SignInRequest) (*rpc.SignInReply, error) {
	if s.authn == nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "authenticator not initialized")
	}
	if req.Email == "" || req.Password == "" {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "email and password are required")
	}
	user, err := s.authn.SignIn(ctx, req.Email, req.Password)
	if err != nil {
		return nil, toStatus("sign in", err)
	}
	return &rpc.SignInReply{User: user}, nil
}

func (s *SessionService) SignOut(ctx context.Context, _ *rpc.Empty) (*rpc.Empty, error) {
	if s.authn == nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "authenticator not initialized")
	}
	if err := s.authn.SignOut(ctx); err != nil {
		return nil, toStatus("sign out", err)
	}
	return &rpc.Empty{}, nil
}
