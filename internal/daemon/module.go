// Package daemon composes one per-user sync daemon out of the client engine
// and its supporting services, wired together with fx.
package daemon

import (
	"context"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/yagodka-im/yagodka-go/internal/bus"
	"github.com/yagodka-im/yagodka-go/internal/client"
	"github.com/yagodka-im/yagodka-go/internal/config"
	"github.com/yagodka-im/yagodka-go/internal/gateway"
	"github.com/yagodka-im/yagodka-go/internal/lock"
	"github.com/yagodka-im/yagodka-go/internal/logging"
	"github.com/yagodka-im/yagodka-go/internal/persist"
	"github.com/yagodka-im/yagodka-go/internal/session"
	"github.com/yagodka-im/yagodka-go/internal/store"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	UserID     string
	ConfigPath string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStore,
			provideLock,
			provideDB,
			providePersist,
			provideClient,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = session.ConfigPath()
	}
	cfg, err := config.Load(path)
	if os.IsNotExist(err) {
		return config.Default(), nil
	}
	return cfg, err
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.UserID), p.UserID, cfg.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStore(b *bus.Bus) *store.Store {
	return store.New(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.UserID); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("user", p.UserID))
	l, err := lock.Acquire(session.Dir(p.UserID))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideDB(p Params, _ *lock.Lock, logger *zap.Logger) (*persist.DB, error) {
	dbPath := session.StateDBPath(p.UserID)
	db, err := persist.Open(dbPath)
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
	logger.Info("state db opened", zap.String("path", dbPath))
	return db, nil
}

func providePersist(p Params, db *persist.DB, logger *zap.Logger) *persist.Gateway {
	return persist.NewGateway(db, p.UserID, logger)
}

func provideClient(p Params, cfg *config.Config, b *bus.Bus, st *store.Store, pg *persist.Gateway, logger *zap.Logger) *client.Client {
	return client.New(client.Options{
		URL:     cfg.GatewayURL,
		Token:   session.LoadToken(p.UserID),
		Bus:     b,
		Store:   st,
		Persist: pg,
		Logger:  logger,
		Backoff: gateway.Backoff{
			Base:       cfg.BackoffBase(),
			Max:        cfg.BackoffMax(),
			AttemptCap: cfg.Backoff.AttemptCap,
			Jitter:     0.15,
		},
		Heartbeat:    cfg.HeartbeatInterval(),
		BackoffFloor: cfg.BackoffFloor(),
		DrainMax:     cfg.Outbox.DrainMax,
		OutboxRetry:  cfg.OutboxRetryMin(),
	})
}

func registerLifecycle(lc fx.Lifecycle, c *client.Client, db *persist.DB, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			c.Connect()
			return nil
		},
		OnStop: func(_ context.Context) error {
			c.Dispose()
			if err := db.Close(); err != nil {
				logger.Warn("error closing state db", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
