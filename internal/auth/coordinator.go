package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/parley/internal/logging"
	"github.com/matheus3301/parley/internal/metrics"
	"go.uber.org/zap"
)

var errSessionChanged = errors.New("session ended during refresh")

// Refresher obtains a new access token from the backend using ambient
// session credentials (the HTTP-only refresh cookie).
type Refresher interface {
	RefreshAccessToken(ctx context.Context) (Token, error)
}

// Observer is told about refresh lifecycle transitions. ForcedSignOut is
// called after credentials are cleared and before waiters are released.
type Observer interface {
	RefreshStarted()
	Refreshed(Token)
	ForcedSignOut(reason error)
}

// RefreshState is the coordinator's state: Idle or Refreshing.
type RefreshState int

const (
	Idle RefreshState = iota
	Refreshing
)

func (s RefreshState) String() string {
	if s == Refreshing {
		return "refreshing"
	}
	return "idle"
}

// flight is one outstanding refresh shared by every caller that asks while
// it is in progress. token and err are written once, before done is closed.
// gen is the credentials generation the refresh was started under.
type flight struct {
	done    chan struct{}
	gen     uint64
	waiters int
	token   Token
	err     error
}

// Coordinator guarantees at most one refresh call is outstanding at any time.
//
// The in-flight marker is installed under mu before the refresh call starts
// and removed under mu together with publishing the result, so a caller can
// never observe "no refresh in flight" while one is still outstanding.
type Coordinator struct {
	refresher Refresher
	creds     *Credentials
	timeout   time.Duration
	observer  Observer
	logger    *zap.Logger
	metrics   *metrics.Metrics

	mu       sync.Mutex
	inflight *flight
}

// CoordinatorOptions configures a Coordinator. Zero values are valid.
type CoordinatorOptions struct {
	// Timeout bounds a single refresh call. Zero means no bound.
	Timeout  time.Duration
	Observer Observer
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

// NewCoordinator creates a coordinator writing refreshed tokens into creds.
func NewCoordinator(r Refresher, creds *Credentials, opts CoordinatorOptions) *Coordinator {
	return &Coordinator{
		refresher: r,
		creds:     creds,
		timeout:   opts.Timeout,
		observer:  opts.Observer,
		logger:    logging.OrNop(opts.Logger),
		metrics:   opts.Metrics,
	}
}

// SetObserver replaces the observer. Must be called before the first refresh.
func (c *Coordinator) SetObserver(o Observer) {
	c.mu.Lock()
	c.observer = o
	c.mu.Unlock()
}

// State reports whether a refresh is outstanding.
func (c *Coordinator) State() RefreshState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight != nil {
		return Refreshing
	}
	return Idle
}

// Waiting returns the number of callers waiting on the outstanding refresh.
func (c *Coordinator) Waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight == nil {
		return 0
	}
	return c.inflight.waiters
}

// EnsureFreshToken starts a refresh, or joins the one in flight, and waits
// for its outcome. Every caller of the same refresh gets the same token or
// the same error. On failure the error wraps ErrUnauthenticated and the
// session has already been signed out. A refresh that outlives the session
// it started under changes nothing and fails with ErrUnauthenticated.
//
// Cancelling ctx abandons the wait but not the shared refresh.
func (c *Coordinator) EnsureFreshToken(ctx context.Context) (Token, error) {
	c.mu.Lock()
	f := c.inflight
	leader := f == nil
	if leader {
		f = &flight{done: make(chan struct{}), gen: c.creds.Generation()}
		c.inflight = f
	}
	f.waiters++
	observer := c.observer
	c.mu.Unlock()

	if leader {
		if observer != nil {
			observer.RefreshStarted()
		}
		go c.run(f, observer)
	} else {
		c.metrics.RefreshJoined()
	}

	select {
	case <-f.done:
		return f.token, f.err
	case <-ctx.Done():
		c.mu.Lock()
		if c.inflight == f {
			f.waiters--
		}
		c.mu.Unlock()
		return Token{}, ctx.Err()
	}
}

func (c *Coordinator) run(f *flight, observer Observer) {
	ctx := context.Background()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	tok, err := c.refresher.RefreshAccessToken(ctx)
	if err == nil && tok.Empty() {
		err = errors.New("backend returned an empty access token")
	}

	applied := true
	switch {
	case err != nil:
		err = fmt.Errorf("%w: refresh access token: %v", ErrUnauthenticated, err)
		tok = Token{}
		if !c.creds.ClearIf(f.gen) {
			applied = false
			break
		}
		c.metrics.RefreshDone("error")
		c.logger.Warn("token refresh failed, signing out",
			zap.Error(err),
			zap.Duration("elapsed", time.Since(start)),
		)
		if observer != nil {
			observer.ForcedSignOut(err)
		}
	case !c.creds.SetTokenIf(f.gen, tok):
		applied = false
		err = fmt.Errorf("%w: %w", ErrUnauthenticated, errSessionChanged)
		tok = Token{}
	default:
		c.metrics.RefreshDone("ok")
		fields := []zap.Field{zap.Duration("elapsed", time.Since(start))}
		if !tok.ExpiresAt.IsZero() {
			fields = append(fields, zap.Time("expires_at", tok.ExpiresAt))
		}
		c.logger.Info("access token refreshed", fields...)
	}
	if !applied {
		c.metrics.RefreshDone("stale")
		c.logger.Info("session changed during token refresh, result dropped",
			zap.Duration("elapsed", time.Since(start)),
		)
	}

	c.mu.Lock()
	f.token, f.err = tok, err
	c.inflight = nil
	close(f.done)
	c.mu.Unlock()

	if applied && err == nil && observer != nil {
		observer.Refreshed(tok)
	}
}
