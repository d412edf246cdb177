package daemon

import (
	"context"
	"time"

	"github.com/matheus3301/parley/internal/api"
	"github.com/matheus3301/parley/internal/auth"
	"github.com/matheus3301/parley/internal/backend"
	"github.com/matheus3301/parley/internal/bus"
	"github.com/matheus3301/parley/internal/chat"
	"github.com/matheus3301/parley/internal/config"
	"github.com/matheus3301/parley/internal/lock"
	"github.com/matheus3301/parley/internal/logging"
	"github.com/matheus3301/parley/internal/metrics"
	"github.com/matheus3301/parley/internal/outbox"
	"github.com/matheus3301/parley/internal/remote"
	"github.com/matheus3301/parley/internal/session"
	"github.com/matheus3301/parley/internal/status"
	"github.com/matheus3301/parley/internal/store"
	intsync "github.com/matheus3301/parley/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string         // optional override for testing; empty = use default
	Config      *config.Config // optional; nil = load ~/.parley/config.toml
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideMetrics,
			provideLock,
			provideStore,
			provideCredentials,
			provideTransport,
			provideAuthAPI,
			provideAuthenticator,
			provideCoordinator,
			provideGateway,
			provideChatAPI,
			provideChatStore,
			provideSyncEngine,
			provideOrchestrator,
			provideSessionService,
			provideChatService,
			provideMessageService,
			NewServer,
			NewMetricsServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, nil
	}
	cfg, err := config.LoadOrDefault(session.ConfigPath())
	if err != nil {
		return nil, err
	}
	config.ApplyEnv(cfg)
	return cfg, nil
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName, cfg.Log.Level)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideMetrics() *metrics.Metrics {
	return metrics.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStore depends on the lock so the cache is never opened by a
// second daemon.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.CacheDBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideCredentials() *auth.Credentials {
	return auth.NewCredentials()
}

func provideTransport(cfg *config.Config, logger *zap.Logger) *remote.Transport {
	return remote.NewTransport(remote.Options{
		BaseURL: cfg.Backend.URL,
		Timeout: cfg.Remote.Timeout.Duration,
		RPS:     cfg.Remote.RPS,
		Burst:   cfg.Remote.Burst,
		Logger:  logger,
	})
}

func provideAuthAPI(t *remote.Transport, creds *auth.Credentials, cfg *config.Config) *backend.AuthAPI {
	return backend.NewAuthAPI(t, creds, backend.Paths{
		SignIn:  cfg.Backend.SignInPath,
		SignOut: cfg.Backend.SignOutPath,
		Refresh: cfg.Backend.RefreshPath,
	})
}

func provideAuthenticator(a *backend.AuthAPI, creds *auth.Credentials, m *status.Machine, b *bus.Bus, logger *zap.Logger) *auth.Authenticator {
	return auth.NewAuthenticator(a, creds, m, b, logger)
}

func provideCoordinator(a *backend.AuthAPI, creds *auth.Credentials, authn *auth.Authenticator, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) *auth.Coordinator {
	return auth.NewCoordinator(a, creds, auth.CoordinatorOptions{
		Timeout:  cfg.Auth.RefreshTimeout.Duration,
		Observer: authn,
		Logger:   logger,
		Metrics:  m,
	})
}

func provideGateway(t *remote.Transport, creds *auth.Credentials, coord *auth.Coordinator, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) *remote.Gateway {
	return remote.NewGateway(t, creds, coord, remote.GatewayOptions{
		GraphQLPath: cfg.Backend.GraphQLPath,
		Logger:      logger,
		Metrics:     m,
	})
}

func provideChatAPI(g *remote.Gateway) *backend.ChatAPI {
	return backend.NewChatAPI(g)
}

func provideChatStore() *chat.Store {
	return chat.NewStore()
}

func provideSyncEngine(db *store.DB, st *chat.Store, c *backend.ChatAPI, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, st, c, b, logger)
}

func provideOrchestrator(st *chat.Store, c *backend.ChatAPI, db *store.DB, b *bus.Bus, creds *auth.Credentials, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) *outbox.Orchestrator {
	return outbox.New(st, c, db, b, creds, outbox.Options{
		Timeout: cfg.Outbox.SendTimeout.Duration,
		Logger:  logger,
		Metrics: m,
	})
}

func provideSessionService(p Params, m *status.Machine, authn *auth.Authenticator, creds *auth.Credentials, coord *auth.Coordinator, db *store.DB, engine *intsync.Engine) *api.SessionService {
	return api.NewSessionService(p.SessionName, api.SessionDeps{
		Machine:       m,
		Authenticator: authn,
		Credentials:   creds,
		Coordinator:   coord,
		DB:            db,
		Engine:        engine,
	})
}

func provideChatService(st *chat.Store, engine *intsync.Engine, m *status.Machine) *api.ChatService {
	return api.NewChatService(st, engine, m)
}

func provideMessageService(p Params, o *outbox.Orchestrator, m *status.Machine, b *bus.Bus) *api.MessageService {
	return api.NewMessageService(p.SessionName, o, m, b)
}

type lifecycleDeps struct {
	fx.In

	Server        *Server
	MetricsServer *MetricsServer
	Lock          *lock.Lock
	DB            *store.DB
	Store         *chat.Store
	Authenticator *auth.Authenticator
	Engine        *intsync.Engine
	Orchestrator  *outbox.Orchestrator
	Bus           *bus.Bus
	Logger        *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, d lifecycleDeps) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Session teardown: memory first, then the on-disk cache.
			d.Authenticator.OnSignOut(d.Store.Reset)
			d.Authenticator.OnSignOut(d.Engine.Wipe)

			if _, err := d.Engine.Warm(); err != nil {
				d.Logger.Warn("cache warm-up failed", zap.Error(err))
			}
			if _, err := d.Orchestrator.RecoverInterrupted(); err != nil {
				d.Logger.Warn("outbox recovery failed", zap.Error(err))
			}

			// Start sync engine (subscribes to message.* and conversation.* bus events).
			d.Engine.Start(ctx)
			signedIn, unsub := d.Bus.Subscribe(bus.KindSignedIn, 4)
			go pullOnSignIn(ctx, signedIn, unsub, d.Engine, d.Logger)

			// Start gRPC server in background.
			go func() {
				if err := d.Server.Start(); err != nil {
					d.Logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			if err := d.MetricsServer.Start(); err != nil {
				return err
			}

			// Refresh cookies do not survive a restart.
			return d.Authenticator.Boot()
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			d.Orchestrator.Close()
			d.Engine.Stop()
			d.Server.Stop(stopCtx)
			d.MetricsServer.Stop(stopCtx)
			if err := d.DB.Close(); err != nil {
				d.Logger.Warn("error closing store", zap.Error(err))
			}
			if err := d.Lock.Release(); err != nil {
				d.Logger.Warn("error releasing lock", zap.Error(err))
			}
			d.Logger.Info("daemon stopped")
			return nil
		},
	})
}

// pullOnSignIn replaces whatever the cache held with the signed-in user's
// conversations.
func pullOnSignIn(ctx context.Context, ch <-chan bus.Event, unsub func(), engine *intsync.Engine, logger *zap.Logger) {
	defer unsub()
	for {
		select {
		case <-ch:
			pullCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			if _, err := engine.Pull(pullCtx); err != nil {
				logger.Warn("initial pull failed", zap.Error(err))
			}
			cancel()
		case <-ctx.Done():
			return
		}
	}
}
