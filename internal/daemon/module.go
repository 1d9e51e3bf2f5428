package daemon

import (
	"context"

	"github.com/matheus3301/groupchat/internal/api"
	"github.com/matheus3301/groupchat/internal/config"
	"github.com/matheus3301/groupchat/internal/hub"
	"github.com/matheus3301/groupchat/internal/lock"
	"github.com/matheus3301/groupchat/internal/logging"
	"github.com/matheus3301/groupchat/internal/metrics"
	"github.com/matheus3301/groupchat/internal/session"
	"github.com/matheus3301/groupchat/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved server configuration passed to the fx module.
type Params struct {
	Config *config.Config
	// DataDir holds the lock file and database. Empty uses the configured
	// or default data directory.
	DataDir string
	// Logger overrides the logger built from Config.Log; used by tests.
	Logger *zap.Logger
}

// Module returns the fx module for the chat server, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	if p.Config == nil {
		p.Config = config.Default()
	}
	if p.DataDir == "" {
		p.DataDir = session.ResolveDataDir(p.Config.Daemon.DataDir)
	}
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideRegistry,
			provideMetrics,
			provideLock,
			provideStore,
			provideHub,
			provideMessageService,
			provideHandlers,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	if p.Logger != nil {
		return p.Logger, nil
	}
	path := p.Config.Log.Path
	if path == "" {
		path = session.LogPath("chatd")
	}
	return logging.New(logging.Options{
		Path:      path,
		Level:     p.Config.Log.Level,
		Component: "chatd",
		Console:   true,
	})
}

func provideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func provideMetrics(reg *prometheus.Registry) *metrics.Server {
	return metrics.NewServer(reg)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.DataDir); err != nil {
		return nil, err
	}
	logger.Info("acquiring data dir lock", zap.String("data_dir", p.DataDir))
	l, err := lock.Acquire(session.LockPath(p.DataDir))
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired", zap.String("path", l.Path()))
	return l, nil
}

// provideStore takes the lock so the database is never opened unguarded.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.DataDir)
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

func provideHub(m *metrics.Server, logger *zap.Logger) *hub.Hub {
	return hub.New(m, logger)
}

func provideMessageService(p Params, db *store.DB, h *hub.Hub, m *metrics.Server, logger *zap.Logger) *api.MessageService {
	return api.NewMessageService(db, h, api.Limits{
		RatePerSecond: p.Config.Daemon.RatePerSecond,
		Burst:         p.Config.Daemon.Burst,
	}, m, logger)
}

func provideHandlers(s *api.MessageService, h *hub.Hub, reg *prometheus.Registry, m *metrics.Server, logger *zap.Logger) *api.Handlers {
	return api.NewHandlers(s, h, reg, m, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, db *store.DB, h *hub.Hub, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			h.Close()
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("server stopped")
			return nil
		},
	})
}
