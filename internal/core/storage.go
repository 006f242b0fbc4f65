package core

import (
	"context"
	"fmt"
	"time"

	"rabtrack/internal/infra/persistence/memory"
	"rabtrack/internal/infra/persistence/postgres"
	"rabtrack/internal/infra/persistence/sqlite"
	"rabtrack/internal/infra/persistence/sqlstore"
	"rabtrack/pkg/domain"
)

// StorageDriver identifies a concrete document store implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / demos)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// StorageConfig selects and parameterises the document store.
type StorageConfig struct {
	Driver       StorageDriver
	SQLitePath   string
	PostgresDSN  string
	PollInterval time.Duration
}

// RemoteStore is a document store that may hold resources to release.
type RemoteStore interface {
	domain.DocumentStore
	Close() error
}

type memoryRemote struct{ *memory.Store }

func (memoryRemote) Close() error { return nil }

// OpenDocumentStore opens the backend named by cfg. An empty driver means
// sqlite.
func OpenDocumentStore(ctx context.Context, cfg StorageConfig) (RemoteStore, error) {
	var opts []sqlstore.Option
	if cfg.PollInterval > 0 {
		opts = append(opts, sqlstore.WithPollInterval(cfg.PollInterval))
	}
	driver := cfg.Driver
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memoryRemote{memory.NewStore()}, nil
	case StorageSQLite:
		st, err := sqlite.NewStore(ctx, cfg.SQLitePath, opts...)
		if err != nil {
			return nil, err
		}
		return st, nil
	case StoragePostgres:
		st, err := postgres.NewStore(ctx, cfg.PostgresDSN, opts...)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
