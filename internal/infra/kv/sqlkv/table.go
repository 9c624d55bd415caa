// Package sqlkv implements domain.KV on a two-column SQL table. The sqlite
// and postgres backends differ only in their Dialect.
package sqlkv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"clinicdesk/pkg/domain"
)

// TableName is the table holding one row per collection key.
const TableName = "state"

// Dialect captures the SQL differences between engines.
type Dialect struct {
	Name        string
	PayloadType string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// TxWrites wraps each upsert in an explicit transaction.
	TxWrites bool
}

var (
	SQLite = Dialect{
		Name:        "sqlite",
		PayloadType: "BLOB",
		Placeholder: func(int) string { return "?" },
	}
	Postgres = Dialect{
		Name:        "postgres",
		PayloadType: "BYTEA",
		Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
		TxWrites:    true,
	}
)

var _ domain.KV = (*Table)(nil)

// Table is a key-value view over TableName.
type Table struct {
	db      *sql.DB
	dialect Dialect
	mu      sync.Mutex

	selectOne string
	upsert    string
	remove    string
	listKeys  string
}

// New creates TableName when missing and returns a Table over db. The
// caller keeps ownership of db until Close.
func New(ctx context.Context, db *sql.DB, d Dialect) (*Table, error) {
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\tbucket TEXT PRIMARY KEY,\n\tpayload %s NOT NULL\n)", TableName, d.PayloadType)
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("%s: create %s table: %w", d.Name, TableName, err)
	}
	p1, p2 := d.Placeholder(1), d.Placeholder(2)
	return &Table{
		db:        db,
		dialect:   d,
		selectOne: fmt.Sprintf("SELECT payload FROM %s WHERE bucket = %s", TableName, p1),
		upsert: fmt.Sprintf("INSERT INTO %s (bucket, payload) VALUES (%s, %s) "+
			"ON CONFLICT (bucket) DO UPDATE SET payload = excluded.payload", TableName, p1, p2),
		remove:   fmt.Sprintf("DELETE FROM %s WHERE bucket = %s", TableName, p1),
		listKeys: fmt.Sprintf("SELECT bucket FROM %s ORDER BY bucket", TableName),
	}, nil
}

// Dialect reports the engine this table speaks.
func (t *Table) Dialect() Dialect { return t.dialect }

// DB exposes the handle for integration hooks.
func (t *Table) DB() *sql.DB { return t.db }

// Get returns the payload under key; ok is false when the row is absent.
func (t *Table) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var payload []byte
	err := t.db.QueryRowContext(ctx, t.selectOne, key).Scan(&payload)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("%s: get %s: %w", t.dialect.Name, key, err)
	}
	return payload, true, nil
}

// Set replaces the payload under key.
func (t *Table) Set(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.dialect.TxWrites {
		if _, err := t.db.ExecContext(ctx, t.upsert, key, value); err != nil {
			return fmt.Errorf("%s: set %s: %w", t.dialect.Name, key, err)
		}
		return nil
	}
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", t.dialect.Name, err)
	}
	if _, err := tx.ExecContext(ctx, t.upsert, key, value); err != nil {
		return errors.Join(fmt.Errorf("%s: set %s: %w", t.dialect.Name, key, err), tx.Rollback())
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit %s: %w", t.dialect.Name, key, err)
	}
	return nil
}

// Delete drops key. Deleting an absent key is not an error.
func (t *Table) Delete(ctx context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.db.ExecContext(ctx, t.remove, key); err != nil {
		return fmt.Errorf("%s: delete %s: %w", t.dialect.Name, key, err)
	}
	return nil
}

// Keys lists stored keys in lexical order.
func (t *Table) Keys(ctx context.Context) ([]string, error) {
	rows, err := t.db.QueryContext(ctx, t.listKeys)
	if err != nil {
		return nil, fmt.Errorf("%s: list keys: %w", t.dialect.Name, err)
	}
	defer func() { _ = rows.Close() }()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("%s: scan key: %w", t.dialect.Name, err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Close closes the underlying handle.
func (t *Table) Close() error { return t.db.Close() }
