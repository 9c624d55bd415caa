// Package postgres keeps the record store in a PostgreSQL state table so
// several front-desk machines can share one database.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"clinicdesk/internal/infra/kv/sqlkv"
	"clinicdesk/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
)

var _ domain.KV = (*Store)(nil)

// DefaultDSN is used when no DSN is configured.
const DefaultDSN = "postgres://localhost/clinicdesk?sslmode=disable"

var (
	openMu sync.Mutex
	open   = sql.Open
)

// Store is a PostgreSQL-backed state table.
type Store struct {
	*sqlkv.Table
}

// NewStore connects to dsn, verifies the connection and ensures the state
// table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	openMu.Lock()
	db, err := open("pgx", dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	table, err := sqlkv.New(ctx, db, sqlkv.Postgres)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Table: table}, nil
}

// OverrideSQLOpen replaces the connection opener, returning a restore func.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := open
	open = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		open = prev
	}
}
