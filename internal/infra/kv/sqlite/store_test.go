package sqlite

import (
	"context"
	"path/filepath"
	"testing"
)

func TestSQLiteStorePersistAndReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	store, err := NewStore(path)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	if err := store.Set(ctx, "patients", []byte(`[{"id":"p1"}]`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Set(ctx, "patients", []byte(`[{"id":"p2"}]`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reloaded, err := NewStore(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	t.Cleanup(func() { _ = reloaded.Close() })
	v, ok, err := reloaded.Get(ctx, "patients")
	if err != nil || !ok {
		t.Fatalf("get: %v %v", ok, err)
	}
	if string(v) != `[{"id":"p2"}]` {
		t.Fatalf("expected last write, got %s", v)
	}
	if reloaded.Path() != path {
		t.Fatalf("unexpected path %s", reloaded.Path())
	}
}

func TestSQLiteStoreMissingKeyAndDelete(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if _, ok, err := store.Get(ctx, "visits"); err != nil || ok {
		t.Fatalf("expected missing key, got %v %v", ok, err)
	}
	_ = store.Set(ctx, "visits", []byte(`[]`))
	_ = store.Set(ctx, "appointments", []byte(`[]`))
	keys, err := store.Keys(ctx)
	if err != nil || len(keys) != 2 || keys[0] != "appointments" {
		t.Fatalf("unexpected keys %v %v", keys, err)
	}
	if err := store.Delete(ctx, "visits"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "visits"); ok {
		t.Fatalf("expected deleted key")
	}
	var table string
	if err := store.DB().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name = ?", "state").Scan(&table); err != nil {
		t.Fatalf("lookup state table: %v", err)
	}
}
