package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/parley-chat/parley/internal/api"
	"github.com/parley-chat/parley/internal/backend"
	"github.com/parley-chat/parley/internal/bus"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/lock"
	"github.com/parley-chat/parley/internal/logging"
	"github.com/parley-chat/parley/internal/profile"
	"github.com/parley-chat/parley/internal/ranking"
	"github.com/parley-chat/parley/internal/send"
	"github.com/parley-chat/parley/internal/status"
	"github.com/parley-chat/parley/internal/store"
	intsync "github.com/parley-chat/parley/internal/sync"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	SocketPath  string // optional override for testing; empty = use default
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
			provideStateMachine,
			provideLock,
			provideStore,
			provideGateway,
			provideFeed,
			provideSyncEngine,
			provideTracker,
			providePipeline,
			provideHandler,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideConfig(p Params, logger *zap.Logger) (*config.Config, error) {
	cfg, err := config.Load(context.Background(), profile.ConfigPath())
	if err != nil {
		return nil, err
	}
	logger.Info("config loaded",
		zap.String("backend_url", cfg.Backend.URL),
		zap.Bool("api_key_present", cfg.Backend.APIKey != ""))
	return cfg, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
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
	dbPath := profile.CacheDBPath(p.ProfileName)
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

func provideGateway(cfg *config.Config, logger *zap.Logger) (*backend.Client, error) {
	return backend.New(cfg.Backend, cfg.RequestTimeout(), logger)
}

func provideFeed(gw *backend.Client, b *bus.Bus, logger *zap.Logger) (*backend.Feed, error) {
	return backend.NewFeed(gw, b, logger)
}

func provideSyncEngine(db *store.DB, gw *backend.Client, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, gw, b, logger)
}

func provideTracker(b *bus.Bus, logger *zap.Logger) *ranking.Tracker {
	return ranking.NewTracker(b, logger)
}

func providePipeline(db *store.DB, gw *backend.Client, b *bus.Bus, logger *zap.Logger) *send.Pipeline {
	return send.NewPipeline(db, gw, b, logger)
}

func provideHandler(p Params, db *store.DB, gw *backend.Client, b *bus.Bus, tracker *ranking.Tracker, machine *status.Machine, logger *zap.Logger) *api.Handler {
	return api.NewHandler(p.ProfileName, db, gw, b, tracker, machine, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, gw *backend.Client, feed *backend.Feed, engine *intsync.Engine, tracker *ranking.Tracker, pipeline *send.Pipeline, machine *status.Machine, db *store.DB, b *bus.Bus, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Seed the ranking from cached activity, then track live events.
			convs, err := db.ListConversations()
			if err != nil {
				return err
			}
			tracker.Seed(convs)
			tracker.Start(context.Background())

			engine.Start(context.Background())
			pipeline.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("control API error", zap.Error(err))
				}
			}()

			if !gw.Authenticated() {
				logger.Info("no API key configured, backend access disabled")
				_ = machine.Transition(status.ConfigRequired)
				return nil
			}

			_ = machine.Transition(status.Connecting)
			go driveState(context.Background(), b, machine, db, tracker, logger)
			feed.Start(context.Background())

			return nil
		},
		OnStop: func(ctx context.Context) error {
			pipeline.Stop()
			engine.Stop()
			if gw.Authenticated() {
				feed.Stop()
			}
			tracker.Stop()
			srv.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// driveState maps feed connectivity and sync progress onto the state
// machine. Transitions that are invalid for the current state are dropped,
// duplicate feed.down events while already reconnecting included. A
// completed sync also re-seeds the ranking from the cache, since snapshot
// ingestion writes conversations without publishing activity events.
func driveState(ctx context.Context, b *bus.Bus, machine *status.Machine, db *store.DB, tracker *ranking.Tracker, logger *zap.Logger) {
	feedCh, unsubFeed := b.Subscribe("feed.", 64)
	defer unsubFeed()
	syncCh, unsubSync := b.Subscribe("sync.", 16)
	defer unsubSync()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-feedCh:
			switch evt.Kind {
			case bus.KindFeedUp:
				if err := machine.Transition(status.Syncing); err == nil {
					logger.Info("feed up, syncing")
				}
			case bus.KindFeedDown:
				if err := machine.Transition(status.Reconnecting); err == nil {
					logger.Warn("feed down, reconnecting")
				}
			}
		case evt := <-syncCh:
			if evt.Kind == bus.KindSyncCompleted {
				if convs, err := db.ListConversations(); err != nil {
					logger.Warn("failed to reload conversations after sync", zap.Error(err))
				} else {
					tracker.Seed(convs)
				}
				if err := machine.Transition(status.Ready); err == nil {
					logger.Info("ready")
				}
			}
		}
	}
}
