package sqlkv_test

import (
	"context"
	"errors"
	"testing"

	"clinicdesk/internal/infra/kv/sqlkv"
	"clinicdesk/internal/infra/kv/sqlkv/sqlkvtest"
)

func TestTableKeysAreSorted(t *testing.T) {
	ctx := context.Background()
	db, _ := sqlkvtest.Open()
	table, err := sqlkv.New(ctx, db, sqlkv.SQLite)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { _ = table.Close() })
	for _, k := range []string{"visits", "appointments", "patients"} {
		if err := table.Set(ctx, k, nil); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
	keys, err := table.Keys(ctx)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 3 || keys[0] != "appointments" || keys[2] != "visits" {
		t.Fatalf("unexpected keys %v", keys)
	}
	v, ok, err := table.Get(ctx, "patients")
	if err != nil || !ok || len(v) != 0 {
		t.Fatalf("expected empty payload stored for nil, got %q %v %v", v, ok, err)
	}
}

func TestTableMissingKey(t *testing.T) {
	db, _ := sqlkvtest.Open()
	table, err := sqlkv.New(context.Background(), db, sqlkv.Postgres)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok, err := table.Get(context.Background(), "patients"); err != nil || ok {
		t.Fatalf("expected absent key, got %v %v", ok, err)
	}
	if err := table.Delete(context.Background(), "patients"); err != nil {
		t.Fatalf("delete absent: %v", err)
	}
}

func TestTableSurfacesExecFailures(t *testing.T) {
	ctx := context.Background()
	db, state := sqlkvtest.Open()
	table, err := sqlkv.New(ctx, db, sqlkv.SQLite)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	state.FailExec = true
	if err := table.Set(ctx, "patients", []byte(`[]`)); !errors.Is(err, sqlkvtest.ErrExec) {
		t.Fatalf("expected exec failure, got %v", err)
	}

	db2, state2 := sqlkvtest.Open()
	state2.FailExec = true
	if _, err := sqlkv.New(ctx, db2, sqlkv.Postgres); !errors.Is(err, sqlkvtest.ErrExec) {
		t.Fatalf("expected ddl failure, got %v", err)
	}
}

func TestPostgresDialectRollsBackOnExecFailure(t *testing.T) {
	ctx := context.Background()
	db, state := sqlkvtest.Open()
	table, err := sqlkv.New(ctx, db, sqlkv.Postgres)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	state.FailExec = true
	if err := table.Set(ctx, "patients", []byte(`[]`)); !errors.Is(err, sqlkvtest.ErrExec) {
		t.Fatalf("expected exec failure, got %v", err)
	}
	state.FailExec = false
	state.FailBegin = true
	if err := table.Set(ctx, "patients", []byte(`[]`)); !errors.Is(err, sqlkvtest.ErrBegin) {
		t.Fatalf("expected begin failure, got %v", err)
	}
	if _, ok := state.Rows["patients"]; ok {
		t.Fatalf("expected nothing stored")
	}
}
