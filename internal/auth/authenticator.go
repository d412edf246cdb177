package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/matheus3301/parley/internal/bus"
	"github.com/matheus3301/parley/internal/chat"
	"github.com/matheus3301/parley/internal/logging"
	"github.com/matheus3301/parley/internal/status"
	"go.uber.org/zap"
)

// AuthAPI is the subset of the backend used for session management.
type AuthAPI interface {
	Refresher
	SignIn(ctx context.Context, email, password string) (Token, chat.User, error)
	SignOut(ctx context.Context) error
}

// SignedInInfo is the payload of bus.KindSignedIn.
type SignedInInfo struct {
	User chat.User
}

// SignedOutInfo is the payload of bus.KindSignedOut.
type SignedOutInfo struct {
	Forced bool
	Reason string
}

// Authenticator owns the session lifecycle: explicit sign-in and sign-out,
// plus the forced sign-out that follows a failed token refresh.
type Authenticator struct {
	api     AuthAPI
	creds   *Credentials
	machine *status.Machine
	bus     *bus.Bus
	logger  *zap.Logger

	mu       sync.Mutex
	teardown []func()
}

func NewAuthenticator(api AuthAPI, creds *Credentials, m *status.Machine, b *bus.Bus, logger *zap.Logger) *Authenticator {
	return &Authenticator{
		api:     api,
		creds:   creds,
		machine: m,
		bus:     b,
		logger:  logging.OrNop(logger),
	}
}

// OnSignOut registers fn to run whenever the session ends, forced or not.
// Hooks run in registration order after credentials are cleared.
func (a *Authenticator) OnSignOut(fn func()) {
	a.mu.Lock()
	a.teardown = append(a.teardown, fn)
	a.mu.Unlock()
}

// Boot moves a freshly started daemon to SIGNED_OUT. Refresh cookies do not
// survive a restart, so every process starts without a session.
func (a *Authenticator) Boot() error {
	return a.machine.Transition(status.SignedOut)
}

// SignIn exchanges email and password for a session.
func (a *Authenticator) SignIn(ctx context.Context, email, password string) (chat.User, error) {
	if a.machine.SignedIn() {
		return chat.User{}, ErrAlreadySignedIn
	}
	if err := a.machine.Transition(status.SigningIn); err != nil {
		return chat.User{}, err
	}

	tok, user, err := a.api.SignIn(ctx, email, password)
	if err == nil && tok.Empty() {
		err = errors.New("backend returned an empty access token")
	}
	if err != nil {
		_ = a.machine.Transition(status.SignedOut)
		a.logger.Warn("sign-in failed", zap.String("email", email), zap.Error(err))
		return chat.User{}, fmt.Errorf("sign in: %w", err)
	}

	a.creds.SignIn(tok, user)
	if err := a.machine.Transition(status.Ready); err != nil {
		return chat.User{}, err
	}
	a.logger.Info("signed in", zap.String("user_id", string(user.ID)), zap.String("username", user.Username))
	a.bus.Emit(bus.KindSignedIn, SignedInInfo{User: user})
	return user, nil
}

// SignOut ends the session. The backend call is best effort; local state is
// always torn down.
func (a *Authenticator) SignOut(ctx context.Context) error {
	if !a.machine.SignedIn() {
		return ErrSignedOut
	}
	if err := a.api.SignOut(ctx); err != nil {
		a.logger.Warn("backend sign-out failed", zap.Error(err))
	}
	a.end(false, "signed out")
	return nil
}

func (a *Authenticator) end(forced bool, reason string) {
	a.creds.Clear()

	a.mu.Lock()
	hooks := append([]func(){}, a.teardown...)
	a.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}

	if err := a.machine.Transition(status.SignedOut); err != nil {
		a.logger.Error("sign-out transition", zap.Error(err))
	}
	a.bus.Emit(bus.KindSignedOut, SignedOutInfo{Forced: forced, Reason: reason})
}

// RefreshStarted implements Observer.
func (a *Authenticator) RefreshStarted() {
	if !a.machine.In(status.Ready) {
		return
	}
	if err := a.machine.Transition(status.Refreshing); err != nil {
		a.logger.Debug("refresh transition", zap.Error(err))
	}
}

// Refreshed implements Observer.
func (a *Authenticator) Refreshed(tok Token) {
	if a.machine.In(status.Refreshing) {
		_ = a.machine.Transition(status.Ready)
	}
	a.bus.Emit(bus.KindTokenRefresh, tok.ExpiresAt)
}

// ForcedSignOut implements Observer.
func (a *Authenticator) ForcedSignOut(reason error) {
	a.logger.Warn("forced sign-out", zap.Error(reason))
	a.end(true, reason.Error())
}
