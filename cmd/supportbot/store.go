package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/memohai/supportbot/internal/config"
	"github.com/memohai/supportbot/internal/db"
	"github.com/memohai/supportbot/internal/directory"
	"github.com/memohai/supportbot/internal/store"
	"github.com/memohai/supportbot/internal/store/badgerstore"
	"github.com/memohai/supportbot/internal/store/postgres"
	"github.com/memohai/supportbot/internal/store/sqlite"
	"github.com/memohai/supportbot/internal/support"
)

// openStore opens the record store selected by storage.driver.
func openStore(ctx context.Context, log *slog.Logger, cfg config.Config) (store.Store, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		pool, err := db.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		return postgres.New(pool), nil
	case config.DriverSQLite:
		path := cfg.Storage.Path
		if filepath.Ext(path) == "" {
			path += ".db"
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		st, err := sqlite.Open(ctx, path)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.DriverBadger:
		st, err := badgerstore.Open(cfg.Storage.Path, log)
		if err != nil {
			return nil, fmt.Errorf("%w (badger allows one process; stop serve or use the sqlite driver)", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Storage.Driver)
	}
}

// openService builds a support service for one-shot admin commands. The caller closes the store.
func openService(ctx context.Context, log *slog.Logger, cfg config.Config) (*support.Service, store.Store, error) {
	st, err := openStore(ctx, log, cfg)
	if err != nil {
		return nil, nil, err
	}
	dir, err := directory.New(log, cfg.Directory)
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	return support.NewService(log, st, dir), st, nil
}
