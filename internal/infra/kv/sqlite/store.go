// Package sqlite keeps the record store in an embedded SQLite file. It is the
// default backend for a single front-desk machine.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"clinicdesk/internal/infra/kv/sqlkv"
	"clinicdesk/pkg/domain"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

var _ domain.KV = (*Store)(nil)

// DefaultPath is used when no path is configured.
const DefaultPath = "clinicdesk.db"

// dsnPragmas make a second process wait on the file lock.
const dsnPragmas = "?_pragma=busy_timeout(5000)"

// Store is a SQLite file holding the state table.
type Store struct {
	*sqlkv.Table
	path string
}

// NewStore opens the database at path, creating parent directories and the
// state table as needed.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("sqlite: create %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", "file:"+path+dsnPragmas)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// one connection per process
	db.SetMaxOpenConns(1)
	table, err := sqlkv.New(context.Background(), db, sqlkv.SQLite)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Table: table, path: path}, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }
