// Package memory provides an in-process key-value backend shared by several
// clients, mirroring how browser storage is shared by the tabs of one origin.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"clinicdesk/pkg/domain"
)

var (
	_ domain.KV        = (*Client)(nil)
	_ domain.Watchable = (*Client)(nil)
)

// Backend holds the shared key space. Obtain per-client handles via Client.
type Backend struct {
	mu       sync.RWMutex
	data     map[string][]byte
	watchers map[int]watcher
	nextID   int
	failErr  error
	nowFn    func() time.Time
}

type watcher struct {
	origin string
	fn     func(domain.KeyChange)
}

// New returns an empty shared backend.
func New() *Backend {
	return &Backend{
		data:     make(map[string][]byte),
		watchers: make(map[int]watcher),
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// Client returns a handle writing on behalf of origin. Changes made through
// it are announced to every other client's watchers, never its own.
func (b *Backend) Client(origin string) *Client {
	return &Client{backend: b, origin: origin}
}

// FailWrites makes every subsequent Set and Delete return err. Pass nil to
// restore normal behavior.
func (b *Backend) FailWrites(err error) {
	b.mu.Lock()
	b.failErr = err
	b.mu.Unlock()
}

func (b *Backend) get(key string) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.data[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

func (b *Backend) mutate(origin, key string, value []byte, remove bool) error {
	b.mu.Lock()
	if b.failErr != nil {
		err := b.failErr
		b.mu.Unlock()
		return err
	}
	if remove {
		delete(b.data, key)
	} else {
		b.data[key] = append([]byte(nil), value...)
	}
	change := domain.KeyChange{Key: key, Origin: origin, At: b.nowFn()}
	targets := make([]watcher, 0, len(b.watchers))
	ids := make([]int, 0, len(b.watchers))
	for id := range b.watchers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		w := b.watchers[id]
		if w.origin == origin {
			continue
		}
		targets = append(targets, w)
	}
	b.mu.Unlock()

	for _, w := range targets {
		w.fn(change)
	}
	return nil
}

// Client is one consumer's view of the shared backend.
type Client struct {
	backend *Backend
	origin  string
}

// Origin returns the identifier stamped on changes made by this client.
func (c *Client) Origin() string { return c.origin }

// Get returns the stored value for key.
func (c *Client) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := c.backend.get(key)
	return v, ok, nil
}

// Set stores value under key and notifies other clients.
func (c *Client) Set(_ context.Context, key string, value []byte) error {
	return c.backend.mutate(c.origin, key, value, false)
}

// Delete removes key and notifies other clients.
func (c *Client) Delete(_ context.Context, key string) error {
	return c.backend.mutate(c.origin, key, nil, true)
}

// Keys lists stored keys in sorted order.
func (c *Client) Keys(_ context.Context) ([]string, error) {
	c.backend.mu.RLock()
	defer c.backend.mu.RUnlock()
	out := make([]string, 0, len(c.backend.data))
	for k := range c.backend.data {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// Watch registers fn for changes made by other clients.
func (c *Client) Watch(fn func(domain.KeyChange)) func() {
	b := c.backend
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.watchers[id] = watcher{origin: c.origin, fn: fn}
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.watchers, id)
		b.mu.Unlock()
	}
}

// Close is a no-op; the shared backend outlives its clients.
func (c *Client) Close() error { return nil }
