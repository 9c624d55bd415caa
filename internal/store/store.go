// Package store mediates every read and write of the persisted collections.
// Each collection is one JSON array stored under its own key; writes replace
// the whole array.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"clinicdesk/internal/metrics"
	"clinicdesk/pkg/domain"
)

var emptyArray = []byte("[]")

// Store is the record store over a key-value backend.
type Store struct {
	kv  domain.KV
	log zerolog.Logger
	// mu serializes read-modify-write cycles issued through this Store. It
	// does not coordinate with other clients of the same backend.
	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for recovery and failure reports.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// New wraps kv.
func New(kv domain.KV, opts ...Option) *Store {
	s := &Store{kv: kv, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend returns the underlying key-value backend.
func (s *Store) Backend() domain.KV { return s.kv }

// Init creates every known collection that has never been written.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range domain.Collections() {
		_, ok, err := s.kv.Get(ctx, string(c))
		if err != nil {
			return fmt.Errorf("init %s: %w", c, err)
		}
		if ok {
			continue
		}
		if err := s.kv.Set(ctx, string(c), emptyArray); err != nil {
			return fmt.Errorf("init %s: %w: %w", c, domain.ErrWriteFailed, err)
		}
	}
	return nil
}

// readRaw loads the elements of collection c. Unreadable text resets the
// collection to empty; absence is reported as empty without writing.
func (s *Store) readRaw(ctx context.Context, c domain.Collection) ([]json.RawMessage, error) {
	data, ok, err := s.kv.Get(ctx, string(c))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", c, err)
	}
	if !ok {
		return nil, nil
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		s.recover(ctx, c, err)
		return nil, nil
	}
	return items, nil
}

func (s *Store) recover(ctx context.Context, c domain.Collection, cause error) {
	metrics.RecordRecovery(string(c))
	s.log.Warn().Err(cause).Str("collection", string(c)).Msg("unreadable collection reset to empty")
	if err := s.kv.Set(ctx, string(c), emptyArray); err != nil {
		s.log.Error().Err(err).Str("collection", string(c)).Msg("persist reset collection")
	}
}

func (s *Store) writeRaw(ctx context.Context, c domain.Collection, items []json.RawMessage) error {
	if items == nil {
		items = []json.RawMessage{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode %s: %w", c, err)
	}
	if err := s.kv.Set(ctx, string(c), data); err != nil {
		s.log.Error().Err(err).Str("collection", string(c)).Msg("write collection")
		return fmt.Errorf("write %s: %w: %w", c, domain.ErrWriteFailed, err)
	}
	return nil
}

// Reset replaces collection c with an empty array.
func (s *Store) Reset(ctx context.Context, c domain.Collection) error {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.writeRaw(ctx, c, nil)
	metrics.RecordStoreOperation(string(c), "reset", err, time.Since(start))
	return err
}

// Snapshot captures the raw JSON of every known collection. Unreadable
// collections are recovered and reported as empty.
func (s *Store) Snapshot(ctx context.Context) (map[domain.Collection]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.Collection]json.RawMessage, len(domain.Collections()))
	for _, c := range domain.Collections() {
		items, err := s.readRaw(ctx, c)
		if err != nil {
			return nil, err
		}
		if items == nil {
			items = []json.RawMessage{}
		}
		data, err := json.Marshal(items)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", c, err)
		}
		out[c] = data
	}
	return out, nil
}

// Import overwrites the named collections with the supplied arrays. Each
// payload must decode as a JSON array.
func (s *Store) Import(ctx context.Context, snapshot map[domain.Collection]json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range domain.Collections() {
		raw, ok := snapshot[c]
		if !ok {
			continue
		}
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return fmt.Errorf("import %s: %w", c, err)
		}
		if err := s.writeRaw(ctx, c, items); err != nil {
			return err
		}
	}
	return nil
}

// Collection is a typed view over one named collection.
type Collection[T domain.Record] struct {
	store *Store
	name  domain.Collection
}

// Open returns the typed view of collection name.
func Open[T domain.Record](s *Store, name domain.Collection) Collection[T] {
	return Collection[T]{store: s, name: name}
}

// Patients returns the patients collection.
func (s *Store) Patients() Collection[domain.Patient] {
	return Open[domain.Patient](s, domain.CollectionPatients)
}

// Appointments returns the appointments collection.
func (s *Store) Appointments() Collection[domain.Appointment] {
	return Open[domain.Appointment](s, domain.CollectionAppointments)
}

// Prescriptions returns the prescriptions collection.
func (s *Store) Prescriptions() Collection[domain.Prescription] {
	return Open[domain.Prescription](s, domain.CollectionPrescriptions)
}

// Visits returns the standalone visits collection.
func (s *Store) Visits() Collection[domain.Visit] {
	return Open[domain.Visit](s, domain.CollectionVisits)
}

// Name returns the collection name.
func (c Collection[T]) Name() domain.Collection { return c.name }

func (c Collection[T]) observe(op string, start time.Time, err error) {
	metrics.RecordStoreOperation(string(c.name), op, err, time.Since(start))
}

// read decodes the collection. Elements that fail to decode make the whole
// collection unreadable, which triggers the reset path.
func (c Collection[T]) read(ctx context.Context) ([]T, error) {
	raws, err := c.store.readRaw(ctx, c.name)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			c.store.recover(ctx, c.name, err)
			return []T{}, nil
		}
		out = append(out, item)
	}
	return out, nil
}

func (c Collection[T]) write(ctx context.Context, items []T) error {
	raws := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("encode %s item %s: %w", c.name, item.RecordID(), err)
		}
		raws = append(raws, data)
	}
	return c.store.writeRaw(ctx, c.name, raws)
}

// Read returns every entity in insertion order. It never reports a decode
// failure; unreadable data is reset to an empty collection instead.
func (c Collection[T]) Read(ctx context.Context) (items []T, err error) {
	defer func(start time.Time) { c.observe("read", start, err) }(time.Now())
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	return c.read(ctx)
}

// Write replaces the whole collection.
func (c Collection[T]) Write(ctx context.Context, items []T) (err error) {
	defer func(start time.Time) { c.observe("write", start, err) }(time.Now())
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	return c.write(ctx, items)
}

// Append adds item at the end of the collection. An item whose id is
// already present is rejected with domain.ErrDuplicateID.
func (c Collection[T]) Append(ctx context.Context, item T) (err error) {
	defer func(start time.Time) { c.observe("append", start, err) }(time.Now())
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	items, err := c.read(ctx)
	if err != nil {
		return err
	}
	if id := item.RecordID(); id != "" {
		for _, existing := range items {
			if existing.RecordID() == id {
				return fmt.Errorf("%s %s: %w", c.name, id, domain.ErrDuplicateID)
			}
		}
	}
	return c.write(ctx, append(items, item))
}

// Find returns the entity with the given id.
func (c Collection[T]) Find(ctx context.Context, id string) (T, bool, error) {
	var zero T
	items, err := c.Read(ctx)
	if err != nil {
		return zero, false, err
	}
	for _, item := range items {
		if item.RecordID() == id {
			return item, true, nil
		}
	}
	return zero, false, nil
}

// Update applies patch to the entity with the given id and persists the
// collection. It reports false when no such entity exists. A patch error
// aborts the write.
func (c Collection[T]) Update(ctx context.Context, id string, patch func(*T) error) (found bool, err error) {
	defer func(start time.Time) { c.observe("update", start, err) }(time.Now())
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	items, err := c.read(ctx)
	if err != nil {
		return false, err
	}
	for i := range items {
		if items[i].RecordID() != id {
			continue
		}
		updated := items[i]
		if err := patch(&updated); err != nil {
			return false, err
		}
		if updated.RecordID() != id {
			return false, fmt.Errorf("%s %s: patch must not change the id", c.name, id)
		}
		items[i] = updated
		if err := c.write(ctx, items); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// Remove deletes the entity with the given id, reporting whether it existed.
func (c Collection[T]) Remove(ctx context.Context, id string) (removed bool, err error) {
	defer func(start time.Time) { c.observe("remove", start, err) }(time.Now())
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	items, err := c.read(ctx)
	if err != nil {
		return false, err
	}
	kept := items[:0]
	for _, item := range items {
		if item.RecordID() == id {
			removed = true
			continue
		}
		kept = append(kept, item)
	}
	if !removed {
		return false, nil
	}
	if err := c.write(ctx, kept); err != nil {
		return false, err
	}
	return true, nil
}
