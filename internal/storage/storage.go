// Package storage opens the configured storage backend.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tjfontaine/interaction-scorer/internal/core/ports"
	"github.com/tjfontaine/interaction-scorer/internal/pkg/config"
	"github.com/tjfontaine/interaction-scorer/internal/storage/badgerstore"
	"github.com/tjfontaine/interaction-scorer/internal/storage/memory"
	"github.com/tjfontaine/interaction-scorer/internal/storage/sqldb"
)

// Snapshotter is implemented by stores that can write a consistent copy of
// themselves to a local file.
type Snapshotter interface {
	Snapshot(ctx context.Context, path string) error
}

// Open creates the store selected by cfg.Type.
func Open(cfg config.StorageConfig, logger *slog.Logger) (ports.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Type {
	case "", "sqlite":
		dsn := cfg.SQLite.Path
		if cfg.Database.DSN != "" {
			dsn = cfg.Database.DSN
		}
		if dsn == "" {
			dsn = "interactions.db"
		}
		return openSQL(sqldb.Config{Driver: "sqlite", DSN: dsn}, logger)

	case "postgres":
		if cfg.Database.DSN == "" {
			return nil, fmt.Errorf("storage.database.dsn is required for postgres")
		}
		return openSQL(sqldb.Config{Driver: "postgres", DSN: cfg.Database.DSN}, logger)

	case "memory":
		return memory.New(), nil

	case "badger":
		store, err := badgerstore.Open(badgerstore.Config{Dir: cfg.Badger.Dir, InMemory: cfg.Badger.InMemory}, logger)
		if err != nil {
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

func openSQL(cfg sqldb.Config, logger *slog.Logger) (ports.Store, error) {
	store, err := sqldb.New(cfg, sqldb.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	logger.Info("storage opened", slog.String("driver", cfg.Driver))
	return store, nil
}
