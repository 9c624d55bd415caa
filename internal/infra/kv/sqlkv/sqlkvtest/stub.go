// Package sqlkvtest registers a database/sql driver that understands the
// handful of statements issued against the state table, so the SQL
// backends can be tested without a server.
package sqlkvtest

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

var driverSeq atomic.Uint64

// Failure injection errors.
var (
	ErrPing   = errors.New("stub: ping refused")
	ErrExec   = errors.New("stub: exec refused")
	ErrBegin  = errors.New("stub: begin refused")
	ErrCommit = errors.New("stub: commit refused")
)

// StateDB is an in-memory state table plus a log of executed statements.
type StateDB struct {
	mu sync.Mutex

	Statements []string
	Rows       map[string][]byte

	FailPing   bool
	FailExec   bool
	FailBegin  bool
	FailCommit bool
}

// Open registers a fresh driver and returns a handle bound to it.
func Open() (*sql.DB, *StateDB) {
	state := &StateDB{Rows: map[string][]byte{}}
	name := fmt.Sprintf("clinicdesk-pgstub-%d", driverSeq.Add(1))
	sql.Register(name, stubDriver{state: state})
	db, err := sql.Open(name, "")
	if err != nil {
		panic(err)
	}
	return db, state
}

// Executed reports whether any statement contains fragment, case-insensitively.
func (s *StateDB) Executed(fragment string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	fragment = strings.ToLower(fragment)
	for _, stmt := range s.Statements {
		if strings.Contains(strings.ToLower(stmt), fragment) {
			return true
		}
	}
	return false
}

type stubDriver struct{ state *StateDB }

func (d stubDriver) Open(string) (driver.Conn, error) { return &conn{state: d.state}, nil }

type conn struct{ state *StateDB }

var (
	_ driver.ExecerContext  = (*conn)(nil)
	_ driver.QueryerContext = (*conn)(nil)
	_ driver.ConnBeginTx    = (*conn)(nil)
	_ driver.Pinger         = (*conn)(nil)
)

func (c *conn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("stub: prepare unsupported: %s", query)
}

func (c *conn) Close() error { return nil }

func (c *conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *conn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if c.state.FailBegin {
		return nil, ErrBegin
	}
	return tx{state: c.state}, nil
}

func (c *conn) Ping(context.Context) error {
	if c.state.FailPing {
		return ErrPing
	}
	return nil
}

func argString(args []driver.NamedValue, i int) string {
	if i >= len(args) {
		return ""
	}
	switch v := args[i].Value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	}
	return ""
}

func (c *conn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	s := c.state
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Statements = append(s.Statements, query)
	if s.FailExec {
		return nil, ErrExec
	}
	verb := strings.ToUpper(strings.Fields(query)[0])
	switch verb {
	case "CREATE":
		return driver.ResultNoRows, nil
	case "INSERT":
		if len(args) != 2 {
			return nil, fmt.Errorf("stub: insert wants 2 args, got %d", len(args))
		}
		payload, _ := args[1].Value.([]byte)
		s.Rows[argString(args, 0)] = slices.Clone(payload)
	case "DELETE":
		delete(s.Rows, argString(args, 0))
	default:
		return nil, fmt.Errorf("stub: unsupported statement: %s", query)
	}
	return driver.RowsAffected(1), nil
}

func (c *conn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	s := c.state
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Statements = append(s.Statements, query)
	fields := strings.Fields(strings.ToLower(query))
	if len(fields) < 2 || fields[0] != "select" {
		return nil, fmt.Errorf("stub: unsupported query: %s", query)
	}
	switch fields[1] {
	case "payload":
		out := &rows{columns: []string{"payload"}}
		if v, ok := s.Rows[argString(args, 0)]; ok {
			out.values = append(out.values, []driver.Value{slices.Clone(v)})
		}
		return out, nil
	case "bucket":
		keys := make([]string, 0, len(s.Rows))
		for k := range s.Rows {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		out := &rows{columns: []string{"bucket"}}
		for _, k := range keys {
			out.values = append(out.values, []driver.Value{k})
		}
		return out, nil
	}
	return nil, fmt.Errorf("stub: unsupported query: %s", query)
}

type tx struct{ state *StateDB }

func (t tx) Commit() error {
	if t.state.FailCommit {
		return ErrCommit
	}
	return nil
}

func (t tx) Rollback() error { return nil }

type rows struct {
	columns []string
	values  [][]driver.Value
	next    int
}

func (r *rows) Columns() []string { return r.columns }

func (r *rows) Close() error { return nil }

func (r *rows) Next(dest []driver.Value) error {
	if r.next >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.next])
	r.next++
	return nil
}
