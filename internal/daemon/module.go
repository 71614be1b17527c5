package daemon

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/wppdash/internal/api"
	"github.com/matheus3301/wppdash/internal/bus"
	"github.com/matheus3301/wppdash/internal/call"
	"github.com/matheus3301/wppdash/internal/config"
	"github.com/matheus3301/wppdash/internal/lock"
	"github.com/matheus3301/wppdash/internal/logging"
	"github.com/matheus3301/wppdash/internal/notify"
	"github.com/matheus3301/wppdash/internal/profile"
	"github.com/matheus3301/wppdash/internal/provider"
	"github.com/matheus3301/wppdash/internal/reconcile"
	"github.com/matheus3301/wppdash/internal/registry"
	"github.com/matheus3301/wppdash/internal/store"
	"github.com/matheus3301/wppdash/internal/transport"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	Listen      string // optional override for testing; empty = use config
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideLock,
			provideStore,
			provideProviderClient,
			provideChannel,
			provideRegistry,
			provideReconciler,
			provideCallEngine,
			provideCoordinator,
			provideDispatcher,
			provideStream,
			provideHandler,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideConfig() (*config.Config, error) {
	return config.Load(profile.ConfigPath())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.ArchiveDBPath(p.ProfileName)
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
	logger.Info("archive initialized", zap.String("path", dbPath))
	return db, nil
}

func provideProviderClient(cfg *config.Config) provider.Client {
	return provider.NewHTTPClient(cfg.Provider.BaseURL, cfg.Provider.Token)
}

func provideChannel(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *transport.Channel {
	return transport.NewChannel(cfg.Provider.SocketURL, cfg.Provider.Token, b, logger)
}

func provideRegistry(client provider.Client, b *bus.Bus, logger *zap.Logger) *registry.Registry {
	return registry.New(client, b, logger)
}

func provideReconciler(client provider.Client, reg *registry.Registry, b *bus.Bus, db *store.DB, logger *zap.Logger) *reconcile.Reconciler {
	return reconcile.New(client, reg, b, db, logger)
}

func provideCallEngine(logger *zap.Logger) (*call.Engine, error) {
	return call.NewEngine(logger)
}

func provideCoordinator(channel *transport.Channel, engine *call.Engine, b *bus.Bus, logger *zap.Logger) *call.Coordinator {
	return call.New(channel, engine, engine, b, logger)
}

func provideDispatcher(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *notify.Dispatcher {
	return notify.New(b, logger, time.Duration(cfg.Notify.TimeoutMs)*time.Millisecond)
}

func provideStream(b *bus.Bus, logger *zap.Logger) *api.Stream {
	return api.NewStream(b, logger)
}

func provideHandler(reg *registry.Registry, rec *reconcile.Reconciler, calls *call.Coordinator, notices *notify.Dispatcher, stream *api.Stream, logger *zap.Logger) *api.Handler {
	return api.New(reg, rec, calls, notices, stream, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, channel *transport.Channel, reg *registry.Registry, rec *reconcile.Reconciler, calls *call.Coordinator, notices *notify.Dispatcher, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Bus subscribers first, so nothing published by the channel
			// is missed.
			reg.Start(context.Background())
			rec.Start(context.Background())
			calls.Start(context.Background())
			notices.Start(context.Background())
			channel.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			calls.End()
			srv.Stop(ctx)
			channel.Stop()
			notices.Stop()
			calls.Stop()
			rec.Stop()
			reg.Stop()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
