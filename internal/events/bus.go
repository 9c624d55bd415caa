// Package events notifies read views that a collection changed. Same-tab
// delivery is synchronous and ordered by subscription; cross-tab delivery is
// bridged from backend key-change notifications and is eventually consistent.
package events

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"clinicdesk/internal/metrics"
	"clinicdesk/pkg/domain"
)

// Event is one notification. EntityID is empty for collection-wide changes.
type Event struct {
	Topic      domain.Topic         `json:"topic"`
	Collection domain.Collection    `json:"collection"`
	EntityID   string               `json:"entityId,omitempty"`
	Action     domain.Action        `json:"action,omitempty"`
	Origin     string               `json:"origin,omitempty"`
	Remote     bool                 `json:"remote"`
	Derived    bool                 `json:"derived,omitempty"`
	At         time.Time            `json:"at"`
	Payload    domain.ChangePayload `json:"payload"`
}

// FromChange builds the event announcing change.
func FromChange(change domain.Change, origin string, at time.Time) Event {
	ev := Event{
		Topic:      change.Topic(),
		Collection: change.Collection,
		EntityID:   change.EntityID,
		Action:     change.Action,
		Origin:     origin,
		Derived:    change.Derived(),
		At:         at,
	}
	if change.After != nil {
		if payload, err := domain.NewChangePayloadFromValue(change.After); err == nil {
			ev.Payload = payload
		}
	}
	return ev
}

// Handler reacts to an event.
type Handler func(Event)

type subscription struct {
	id      int
	handler Handler
}

// Bus fans events out to subscribers.
type Bus struct {
	mu     sync.RWMutex
	topics map[domain.Topic][]subscription
	all    []subscription
	nextID int
	origin string
	log    zerolog.Logger
	nowFn  func() time.Time
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used for handler failures.
func WithLogger(log zerolog.Logger) Option {
	return func(b *Bus) { b.log = log }
}

// WithOrigin labels events produced by this bus.
func WithOrigin(origin string) Option {
	return func(b *Bus) { b.origin = origin }
}

// NewBus constructs an empty bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		topics: make(map[domain.Topic][]subscription),
		log:    zerolog.Nop(),
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Origin returns the label stamped on locally produced events.
func (b *Bus) Origin() string { return b.origin }

// Subscribe registers h for topic. The returned function removes it.
func (b *Bus) Subscribe(topic domain.Topic, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.topics[topic] = append(b.topics[topic], subscription{id: id, handler: h})
	return func() { b.unsubscribe(topic, id, false) }
}

// SubscribeAll registers h for every topic.
func (b *Bus) SubscribeAll(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.all = append(b.all, subscription{id: id, handler: h})
	return func() { b.unsubscribe("", id, true) }
}

func (b *Bus) unsubscribe(topic domain.Topic, id int, all bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	remove := func(subs []subscription) []subscription {
		out := subs[:0]
		for _, s := range subs {
			if s.id != id {
				out = append(out, s)
			}
		}
		return out
	}
	if all {
		b.all = remove(b.all)
		return
	}
	b.topics[topic] = remove(b.topics[topic])
	if len(b.topics[topic]) == 0 {
		delete(b.topics, topic)
	}
}

// Subscribers reports how many handlers receive topic.
func (b *Bus) Subscribers(topic domain.Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic]) + len(b.all)
}

// Publish delivers ev synchronously to every matching handler in the order
// they subscribed. A panicking handler is logged and skipped.
func (b *Bus) Publish(_ context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = b.nowFn()
	}
	if ev.Origin == "" && !ev.Remote {
		ev.Origin = b.origin
	}
	b.mu.RLock()
	targets := make([]subscription, 0, len(b.topics[ev.Topic])+len(b.all))
	targets = append(targets, b.topics[ev.Topic]...)
	targets = append(targets, b.all...)
	b.mu.RUnlock()
	sort.SliceStable(targets, func(i, j int) bool { return targets[i].id < targets[j].id })

	scope := "local"
	if ev.Remote {
		scope = "remote"
	}
	metrics.RecordEvent(string(ev.Topic), scope)
	for _, s := range targets {
		b.deliver(s, ev)
	}
}

func (b *Bus) deliver(s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Str("topic", string(ev.Topic)).Msg("event handler panicked")
		}
	}()
	s.handler(ev)
}

// PublishChanges announces each change in order.
func (b *Bus) PublishChanges(ctx context.Context, changes []domain.Change) {
	now := b.nowFn()
	for _, c := range changes {
		b.Publish(ctx, FromChange(c, b.origin, now))
	}
}

// Bridge republishes key changes raised by other clients as
// collectionChanged events. Keys that are not collections are ignored.
func (b *Bus) Bridge(w domain.Watchable) (cancel func()) {
	return w.Watch(func(kc domain.KeyChange) {
		c, err := domain.ParseCollection(kc.Key)
		if err != nil {
			return
		}
		b.Publish(context.Background(), Event{
			Topic:      domain.TopicCollectionChanged,
			Collection: c,
			Origin:     kc.Origin,
			Remote:     true,
			At:         kc.At,
		})
	})
}
