// Package daemon composes the client-side pieces into a running process:
// one profile directory, one sqlite store, one relay channel.
package daemon

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"courier/internal/bus"
	"courier/internal/channel"
	"courier/internal/config"
	"courier/internal/directory"
	"courier/internal/lock"
	"courier/internal/logging"
	"courier/internal/outbox"
	"courier/internal/profiles"
	"courier/internal/responder"
	"courier/internal/status"
	"courier/internal/store"
	intsync "courier/internal/sync"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	RelayURL    string // optional override; empty = config or default
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
			provideLock,
			provideStore,
			provideDirectory,
			provideAdapter,
			provideResponder,
			provideController,
			provideSender,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() *config.Config {
	cfg, err := config.Load(profiles.ConfigPath())
	if err != nil {
		// Missing config is the common first-run case.
		return &config.Config{}
	}
	return cfg
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profiles.LogPath(p.ProfileName), p.ProfileName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profiles.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profiles.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := profiles.DBPath(p.ProfileName)
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

func provideDirectory(cfg *config.Config) *directory.Table {
	capacity := cfg.DirectoryCapacity
	if capacity <= 0 {
		capacity = directory.DefaultCapacity
	}
	return directory.New(capacity)
}

func provideAdapter(p Params, cfg *config.Config, b *bus.Bus, logger *zap.Logger) *channel.Adapter {
	url := p.RelayURL
	if url == "" {
		url = cfg.RelayURL
	}
	if url == "" {
		url = config.DefaultRelayURL
	}
	return channel.NewAdapter(url, b, logger)
}

func provideResponder(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *responder.Responder {
	opts := responder.DefaultOptions
	if cfg.Responder.MinDelayMS > 0 {
		opts.MinDelay = msDuration(cfg.Responder.MinDelayMS)
	}
	if cfg.Responder.MaxDelayMS > 0 {
		opts.MaxDelay = msDuration(cfg.Responder.MaxDelayMS)
	}
	if cfg.Responder.PerCharMS > 0 {
		opts.PerChar = msDuration(cfg.Responder.PerCharMS)
	}
	return responder.New(b, responder.NewCannedGenerator(), opts, logger)
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func provideController(db *store.DB, dir *directory.Table, b *bus.Bus, machine *status.Machine, adapter *channel.Adapter, r *responder.Responder, logger *zap.Logger) *intsync.Controller {
	return intsync.NewController(db, dir, b, machine, adapter, r, logger)
}

func provideSender(db *store.DB, controller *intsync.Controller, adapter *channel.Adapter, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, controller, adapter, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, db *store.DB, adapter *channel.Adapter, controller *intsync.Controller, sender *outbox.Sender, r *responder.Responder, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			controller.Start(context.Background())
			sender.Start(context.Background())
			adapter.Connect(context.Background())

			// Resume the most recently registered account, if any; a fresh
			// profile stays Unregistered until the user creates one.
			accounts, err := db.ListAccounts()
			if err != nil {
				return err
			}
			for i := len(accounts) - 1; i >= 0; i-- {
				if accounts[i].Registered {
					if err := controller.SwitchAccount(accounts[i].ID); err != nil {
						logger.Warn("account resume failed", zap.Error(err))
					}
					break
				}
			}
			logger.Info("daemon started")
			return nil
		},
		OnStop: func(_ context.Context) error {
			r.Stop()
			sender.Stop()
			controller.Stop()
			adapter.Disconnect()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
