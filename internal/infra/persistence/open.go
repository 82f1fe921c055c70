// Package persistence selects the fit record backend named by configuration.
package persistence

import (
	"context"
	"fmt"

	"cellfit/internal/config"
	"cellfit/internal/fitstore"
	"cellfit/internal/infra/persistence/memory"
	"cellfit/internal/infra/persistence/postgres"
	"cellfit/internal/infra/persistence/sqlite"
)

// Driver names a fitstore backend.
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Open constructs the configured store. An empty driver means memory.
func Open(ctx context.Context, cfg config.Store) (fitstore.Store, error) {
	switch Driver(cfg.Driver) {
	case "", DriverMemory:
		return memory.NewStore(), nil
	case DriverSQLite:
		return sqlite.NewStore(ctx, cfg.SQLite.Path)
	case DriverPostgres:
		return postgres.NewStore(ctx, cfg.Postgres.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %s", cfg.Driver)
	}
}
