package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

	"clinicdesk/internal/infra/kv/sqlkv/sqlkvtest"
)

func openStub(t *testing.T) (*Store, *sqlkvtest.StateDB) {
	t.Helper()
	db, state := sqlkvtest.Open()
	t.Cleanup(OverrideSQLOpen(func(driverName, _ string) (*sql.DB, error) {
		if driverName != "pgx" {
			t.Fatalf("unexpected driver %q", driverName)
		}
		return db, nil
	}))
	store, err := NewStore(context.Background(), "")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store, state
}

func TestNewStoreCreatesByteaStateTable(t *testing.T) {
	_, state := openStub(t)
	if !state.Executed("CREATE TABLE IF NOT EXISTS state") || !state.Executed("payload BYTEA") {
		t.Fatalf("expected state DDL, got %v", state.Statements)
	}
}

func TestStoreRoundTripUsesNumberedPlaceholders(t *testing.T) {
	ctx := context.Background()
	store, state := openStub(t)
	if err := store.Set(ctx, "patients", []byte(`[{"id":"p1"}]`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !state.Executed("VALUES ($1, $2)") {
		t.Fatalf("expected postgres placeholders, got %v", state.Statements)
	}
	v, ok, err := store.Get(ctx, "patients")
	if err != nil || !ok || string(v) != `[{"id":"p1"}]` {
		t.Fatalf("unexpected get %q %v %v", v, ok, err)
	}
	if err := store.Delete(ctx, "patients"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := state.Rows["patients"]; ok {
		t.Fatalf("expected row removed")
	}
}

func TestSetReportsCommitFailure(t *testing.T) {
	store, state := openStub(t)
	state.FailCommit = true
	err := store.Set(context.Background(), "patients", []byte(`[]`))
	if !errors.Is(err, sqlkvtest.ErrCommit) {
		t.Fatalf("expected commit failure, got %v", err)
	}
}

func TestNewStorePingFailure(t *testing.T) {
	db, state := sqlkvtest.Open()
	state.FailPing = true
	defer OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })()
	if _, err := NewStore(context.Background(), "postgres://unused"); !errors.Is(err, sqlkvtest.ErrPing) {
		t.Fatalf("expected ping failure, got %v", err)
	}
}

func TestLivePostgres(t *testing.T) {
	dsn := os.Getenv("CLINICDESK_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skipf("CLINICDESK_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	store, err := NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Set(ctx, "clinicdesk_test", []byte(`[]`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, ok, err := store.Get(ctx, "clinicdesk_test"); err != nil || !ok || string(v) != `[]` {
		t.Fatalf("get: %q %v %v", v, ok, err)
	}
	if err := store.Delete(ctx, "clinicdesk_test"); err != nil {
		t.Fatalf("delete: %v", err)
	}
}
