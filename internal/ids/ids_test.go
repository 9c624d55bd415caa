package ids

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestLegacyCollidesWithinSameMillisecond(t *testing.T) {
	frozen := time.UnixMilli(1700000000123)
	gen := Legacy{Now: func() time.Time { return frozen }}
	seen := make(map[string]int)
	for i := 0; i < 5; i++ {
		seen[gen.Next("RX")]++
	}
	if len(seen) != 1 {
		t.Fatalf("expected every legacy id to collide, got %v", seen)
	}
	if seen["RX-1700000000123"] != 5 {
		t.Fatalf("unexpected legacy format %v", seen)
	}
	if got := gen.Next(""); got != "1700000000123" {
		t.Fatalf("expected bare millis, got %s", got)
	}
}

func TestGeneratorUniqueWithinSameMillisecond(t *testing.T) {
	frozen := time.UnixMilli(1700000000123)
	gen := New(WithClock(func() time.Time { return frozen }), WithRandom(func() string { return "fixed" }))
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := gen.Next(PrefixPrescription)
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = struct{}{}
		if !strings.HasPrefix(id, "RX-1700000000123-") {
			t.Fatalf("unexpected format %s", id)
		}
	}
}

func TestGeneratorConcurrentUse(t *testing.T) {
	gen := New()
	var mu sync.Mutex
	seen := make(map[string]struct{})
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := gen.Next("")
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(seen) != 1600 {
		t.Fatalf("expected 1600 unique ids, got %d", len(seen))
	}
}

func TestGeneratorEmptyPrefix(t *testing.T) {
	id := New().Next("")
	if strings.HasPrefix(id, "-") || strings.Count(id, "-") != 2 {
		t.Fatalf("unexpected id %s", id)
	}
}
