// Package persistence selects a concrete DataStore backend.
package persistence

import (
	"context"
	"fmt"
	"os"

	"studycore/internal/infra/persistence/memory"
	"studycore/internal/infra/persistence/postgres"
	"studycore/internal/infra/persistence/sqlite"
	"studycore/pkg/domain"
)

// Driver identifies a concrete storage implementation.
type Driver string

const (
	DriverMemory   Driver = "memory"   // in-memory only (tests / ephemeral)
	DriverSQLite   Driver = "sqlite"   // embedded sqlite file
	DriverPostgres Driver = "postgres" // PostgreSQL server
)

// Open selects a backend using environment variables. Defaults to memory
// when unset so a bare binary needs no external state.
//
//	STUDYCORE_STORAGE_DRIVER: memory|sqlite|postgres (default memory)
//	STUDYCORE_SQLITE_PATH: path to sqlite file (default ./studycore.db)
//	STUDYCORE_POSTGRES_DSN: postgres DSN when driver=postgres
func Open(ctx context.Context) (domain.DataStore, func() error, error) {
	driver := os.Getenv("STUDYCORE_STORAGE_DRIVER")
	if driver == "" {
		driver = string(DriverMemory)
	}
	return OpenDriver(ctx, Driver(driver))
}

// OpenDriver opens the named backend. The returned closer releases any
// underlying resources and is never nil.
func OpenDriver(ctx context.Context, driver Driver) (domain.DataStore, func() error, error) {
	switch driver {
	case DriverMemory:
		return memory.NewStore(), func() error { return nil }, nil
	case DriverSQLite:
		path := os.Getenv("STUDYCORE_SQLITE_PATH")
		st, err := sqlite.NewStore(path)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	case DriverPostgres:
		dsn := os.Getenv("STUDYCORE_POSTGRES_DSN")
		st, err := postgres.NewStore(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
