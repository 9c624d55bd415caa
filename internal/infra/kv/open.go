// Package kv selects the key-value backend the record store persists into.
package kv

import (
	"context"
	"fmt"

	"clinicdesk/internal/infra/kv/memory"
	"clinicdesk/internal/infra/kv/postgres"
	"clinicdesk/internal/infra/kv/sqlite"
	"clinicdesk/pkg/domain"
)

// Driver identifies a concrete key-value implementation.
type Driver string

const (
	DriverMemory   Driver = "memory"   // in-process only (tests / demo)
	DriverSQLite   Driver = "sqlite"   // embedded sqlite file
	DriverPostgres Driver = "postgres" // PostgreSQL server
)

// Options selects and configures a backend.
type Options struct {
	Driver      Driver
	SQLitePath  string
	PostgresDSN string
	// Origin labels the client when Driver is memory.
	Origin string
	// Shared lets several memory clients share one key space.
	Shared *memory.Backend
}

// Open constructs the backend named by opts.Driver. Defaults to sqlite.
func Open(ctx context.Context, opts Options) (domain.KV, error) {
	driver := opts.Driver
	if driver == "" {
		driver = DriverSQLite
	}
	switch driver {
	case DriverMemory:
		shared := opts.Shared
		if shared == nil {
			shared = memory.New()
		}
		return shared.Client(opts.Origin), nil
	case DriverSQLite:
		return sqlite.NewStore(opts.SQLitePath)
	case DriverPostgres:
		return postgres.NewStore(ctx, opts.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
