package remote

import (
	"context"
	"fmt"

	"github.com/matheus3301/parley/internal/auth"
	"github.com/matheus3301/parley/internal/logging"
	"github.com/matheus3301/parley/internal/metrics"
	"go.uber.org/zap"
)

// TokenSource supplies the current bearer token.
type TokenSource interface {
	Token() auth.Token
}

// TokenRefresher is the single-flight refresh coordinator.
type TokenRefresher interface {
	EnsureFreshToken(ctx context.Context) (auth.Token, error)
}

// GatewayOptions configures a Gateway.
type GatewayOptions struct {
	GraphQLPath string
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
}

// Gateway performs authenticated backend calls and transparently retries a
// call exactly once after an authentication failure.
type Gateway struct {
	transport   *Transport
	tokens      TokenSource
	refresher   TokenRefresher
	graphqlPath string
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

func NewGateway(t *Transport, tokens TokenSource, refresher TokenRefresher, opts GatewayOptions) *Gateway {
	path := opts.GraphQLPath
	if path == "" {
		path = "/graphql"
	}
	return &Gateway{
		transport:   t,
		tokens:      tokens,
		refresher:   refresher,
		graphqlPath: path,
		logger:      logging.OrNop(opts.Logger).Named("gateway"),
		metrics:     opts.Metrics,
	}
}

// Call issues req with the current token. If the backend rejects the token,
// Call waits for a fresh one and reissues req once. A second rejection is
// returned as is; it never starts another refresh.
func (g *Gateway) Call(ctx context.Context, req Request) (*Response, error) {
	resp, err := g.transport.Do(ctx, req, g.tokens.Token().Value)
	if !IsUnauthenticated(err) {
		g.metrics.GatewayRequest(outcome(err))
		return resp, err
	}

	g.logger.Debug("token rejected, refreshing", zap.String("path", req.Path))
	tok, rerr := g.refresher.EnsureFreshToken(ctx)
	if rerr != nil {
		g.metrics.GatewayRequest("refresh_failed")
		return nil, rerr
	}

	resp, err = g.transport.Do(ctx, req, tok.Value)
	if IsUnauthenticated(err) {
		g.metrics.GatewayRequest("rejected_after_refresh")
		g.logger.Warn("token rejected after refresh", zap.String("path", req.Path), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", auth.ErrUnauthenticated, err)
	}
	g.metrics.GatewayRequest("retried_" + outcome(err))
	return resp, err
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if _, ok := err.(*Error); ok {
		return "backend_error"
	}
	return "transport_error"
}
