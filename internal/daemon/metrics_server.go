package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/matheus3301/parley/internal/config"
	"github.com/matheus3301/parley/internal/metrics"
	"go.uber.org/zap"
)

// MetricsServer serves /metrics over HTTP. With no address configured it
// does nothing.
type MetricsServer struct {
	addr   string
	srv    *http.Server
	logger *zap.Logger
}

// NewMetricsServer builds the server for cfg.Metrics.Addr.
func NewMetricsServer(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &MetricsServer{
		addr:   cfg.Metrics.Addr,
		srv:    &http.Server{Addr: cfg.Metrics.Addr, Handler: mux},
		logger: logger,
	}
}

// Start binds the listener synchronously so a bad address fails startup,
// then serves in the background.
func (s *MetricsServer) Start() error {
	if s.addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen metrics: %w", err)
	}
	s.addr = ln.Addr().String()
	s.logger.Info("metrics server starting", zap.String("addr", s.addr))
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the configured address, or the bound one once started.
func (s *MetricsServer) Addr() string {
	return s.addr
}

func (s *MetricsServer) Stop(ctx context.Context) {
	if s.addr == "" {
		return
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Warn("metrics server shutdown", zap.Error(err))
	}
}
