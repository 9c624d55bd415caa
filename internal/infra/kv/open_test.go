package kv

import (
	"context"
	"path/filepath"
	"testing"

	"clinicdesk/internal/infra/kv/memory"
	"clinicdesk/pkg/domain"
)

func TestOpenMemorySharesBackend(t *testing.T) {
	ctx := context.Background()
	shared := memory.New()
	a, err := Open(ctx, Options{Driver: DriverMemory, Origin: "a", Shared: shared})
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	b, err := Open(ctx, Options{Driver: DriverMemory, Origin: "b", Shared: shared})
	if err != nil {
		t.Fatalf("open b: %v", err)
	}
	if _, ok := a.(domain.Watchable); !ok {
		t.Fatalf("memory backend must be watchable")
	}
	_ = a.Set(ctx, "patients", []byte(`[]`))
	if _, ok, _ := b.Get(ctx, "patients"); !ok {
		t.Fatalf("expected shared key")
	}
}

func TestOpenSQLiteDefault(t *testing.T) {
	store, err := Open(context.Background(), Options{SQLitePath: filepath.Join(t.TempDir(), "clinic.db")})
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	_ = store.Close()
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Options{Driver: "etcd"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
