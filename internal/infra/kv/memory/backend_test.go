package memory

import (
	"context"
	"errors"
	"testing"

	"clinicdesk/pkg/domain"
)

func TestClientsShareKeysAndNotifyOthers(t *testing.T) {
	ctx := context.Background()
	backend := New()
	tabA := backend.Client("tab-a")
	tabB := backend.Client("tab-b")

	var seenA, seenB []domain.KeyChange
	cancelA := tabA.Watch(func(c domain.KeyChange) { seenA = append(seenA, c) })
	defer cancelA()
	cancelB := tabB.Watch(func(c domain.KeyChange) { seenB = append(seenB, c) })

	if err := tabA.Set(ctx, "patients", []byte(`[]`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if len(seenA) != 0 {
		t.Fatalf("writer must not observe its own change, got %v", seenA)
	}
	if len(seenB) != 1 || seenB[0].Key != "patients" || seenB[0].Origin != "tab-a" {
		t.Fatalf("unexpected notifications %v", seenB)
	}
	v, ok, err := tabB.Get(ctx, "patients")
	if err != nil || !ok || string(v) != "[]" {
		t.Fatalf("expected shared value, got %q %v %v", v, ok, err)
	}

	cancelB()
	if err := tabA.Delete(ctx, "patients"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(seenB) != 1 {
		t.Fatalf("cancelled watcher still notified")
	}
	if _, ok, _ := tabB.Get(ctx, "patients"); ok {
		t.Fatalf("expected key removed")
	}
}

func TestFailWrites(t *testing.T) {
	ctx := context.Background()
	backend := New()
	c := backend.Client("tab")
	quota := errors.New("quota exceeded")
	backend.FailWrites(quota)
	if err := c.Set(ctx, "visits", []byte(`[]`)); !errors.Is(err, quota) {
		t.Fatalf("expected quota error, got %v", err)
	}
	backend.FailWrites(nil)
	if err := c.Set(ctx, "visits", []byte(`[]`)); err != nil {
		t.Fatalf("set after restore: %v", err)
	}
	keys, _ := c.Keys(ctx)
	if len(keys) != 1 || keys[0] != "visits" {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	c := New().Client("tab")
	_ = c.Set(ctx, "k", []byte("abc"))
	v, _, _ := c.Get(ctx, "k")
	v[0] = 'z'
	again, _, _ := c.Get(ctx, "k")
	if string(again) != "abc" {
		t.Fatalf("stored value mutated: %s", again)
	}
}
