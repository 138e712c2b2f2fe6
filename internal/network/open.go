// ABOUTME: Opens the configured store backend and keyword tables for every binary
// ABOUTME: FIELDNET_DB_PATH overrides the SQLite path; table files can be hot-reloaded

package network

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/2389/fieldnet-gateway/internal/config"
	"github.com/2389/fieldnet-gateway/internal/harmony"
	"github.com/2389/fieldnet-gateway/internal/store"
	"github.com/2389/fieldnet-gateway/internal/store/postgres"
)

// OpenStore connects to the database named by cfg.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (store.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Driver {
	case config.DriverPostgres:
		s, err := postgres.New(ctx, cfg.DSN, cfg.QueryTimeout, logger)
		if err != nil {
			return nil, fmt.Errorf("initializing store: %w", err)
		}
		return s, nil
	case "", config.DriverSQLite, config.DriverSQLite3:
		path := cfg.Path
		if env := os.Getenv("FIELDNET_DB_PATH"); env != "" {
			path = env
		}
		driver := store.DriverModernc
		if cfg.Driver == config.DriverSQLite3 {
			driver = store.DriverMattn
		}
		s, err := store.NewSQLiteStore(path,
			store.WithDriver(driver),
			store.WithQueryTimeout(cfg.QueryTimeout),
			store.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("initializing store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// OpenTables loads the keyword tables named by cfg. When cfg.Watch is set the
// file is watched until ctx is done.
func OpenTables(ctx context.Context, cfg config.HarmonyConfig, logger *slog.Logger) (harmony.Provider, error) {
	src, err := harmony.NewSource(cfg.TablesPath, logger)
	if err != nil {
		return nil, fmt.Errorf("loading harmony tables: %w", err)
	}
	if cfg.Watch && cfg.TablesPath != "" {
		go func() {
			if err := src.Watch(ctx); err != nil && logger != nil {
				logger.Error("harmony table watcher stopped", "error", err)
			}
		}()
	}
	return src, nil
}
