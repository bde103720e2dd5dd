// Package app wires a record store, the cached profile repository and the
// mapping engine from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/rpattn/fieldmap/internal/config"
	"github.com/rpattn/fieldmap/internal/db"
	"github.com/rpattn/fieldmap/internal/mapping"
	"github.com/rpattn/fieldmap/internal/repository"
	"github.com/rpattn/fieldmap/internal/store/memory"
	"github.com/rpattn/fieldmap/internal/store/postgres"
	"github.com/rpattn/fieldmap/internal/store/sqlite"
)

// Store is what the application needs from a record store: the read side
// used by the repository and the write side used for fixture seeding.
type Store interface {
	repository.Store
	memory.Writer
}

// App holds the wired components.
type App struct {
	Store      Store
	Repository *repository.ProfileRepository
	Engine     *mapping.Engine

	closers []func()
}

// New builds the application described by cfg.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	slog.SetDefault(NewLogger(cfg.Log.Level))

	a := &App{}
	store, err := a.openStore(ctx, cfg.Store, cfg.Database)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = store

	if cfg.Store.SeedPath != "" {
		fixture, err := memory.LoadFixtureFile(cfg.Store.SeedPath)
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := fixture.Apply(ctx, store); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to seed store: %w", err)
		}
		slog.Info("store seeded", "fixture", cfg.Store.SeedPath, "profiles", len(fixture.Profiles))
	}

	a.Repository = repository.NewProfileRepository(store, repository.Options{
		CacheEnabled: cfg.Cache.Enabled,
		CacheTTL:     cfg.Cache.TTL,
	})
	a.Engine = mapping.NewEngine(a.Repository, mapping.WithDefaultMaxPasses(cfg.Mapping.MaxPasses))

	slog.Info("fieldmap ready", "driver", cfg.Store.Driver, "cache", cfg.Cache.Enabled, "cacheTTL", cfg.Cache.TTL)
	return a, nil
}

// Close releases the store.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) openStore(ctx context.Context, cfg config.StoreConfig, dbCfg db.Config) (Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		conn, err := db.NewConnection(ctx, dbCfg)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, conn.Close)
		if err := db.RunMigrations(conn.Pool); err != nil {
			return nil, err
		}
		return postgres.New(conn.Pool), nil

	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() {
			if err := store.Close(); err != nil {
				slog.Warn("failed to close sqlite store", "error", err)
			}
		})
		return store, nil

	case config.DriverMemory:
		if cfg.Path == "" {
			return memory.New(), nil
		}
		return memory.NewFromFile(cfg.Path)
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

// NewLogger returns a text logger writing to stderr at the named level.
func NewLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
