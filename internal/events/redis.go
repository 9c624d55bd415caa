package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"clinicdesk/pkg/domain"
)

// DefaultChannel is the pub/sub channel carrying key-change notifications.
const DefaultChannel = "clinicdesk:changes"

var _ domain.Watchable = (*RedisBridge)(nil)

// Announcer broadcasts that a key changed.
type Announcer interface {
	Announce(ctx context.Context, change domain.KeyChange) error
}

// RedisBridge carries key-change notifications between processes sharing a
// persistent backend, standing in for the browser's cross-tab storage event.
type RedisBridge struct {
	client  redis.UniversalClient
	channel string
	origin  string
	log     zerolog.Logger
}

// NewRedisBridge constructs a bridge publishing on channel (DefaultChannel
// when empty). Messages stamped with origin are not delivered back.
func NewRedisBridge(client redis.UniversalClient, channel, origin string, log zerolog.Logger) *RedisBridge {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBridge{client: client, channel: channel, origin: origin, log: log}
}

// Announce publishes change.
func (r *RedisBridge) Announce(ctx context.Context, change domain.KeyChange) error {
	if change.Origin == "" {
		change.Origin = r.origin
	}
	data, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, data).Err()
}

// subscribeTimeout bounds the wait for the server's subscribe confirmation.
const subscribeTimeout = 5 * time.Second

// Watch subscribes fn to changes announced by other origins. It returns once
// the server has confirmed the subscription, so announcements made after
// Watch returns are delivered.
func (r *RedisBridge) Watch(fn func(domain.KeyChange)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	sub := r.client.Subscribe(ctx, r.channel)
	confirmCtx, confirmCancel := context.WithTimeout(ctx, subscribeTimeout)
	if _, err := sub.Receive(confirmCtx); err != nil {
		r.log.Warn().Err(err).Str("channel", r.channel).Msg("subscribe not confirmed")
	}
	confirmCancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range sub.Channel() {
			var change domain.KeyChange
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				r.log.Warn().Err(err).Str("channel", r.channel).Msg("drop malformed key change")
				continue
			}
			if change.Origin == r.origin {
				continue
			}
			fn(change)
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			_ = sub.Close()
			<-done
		})
	}
}

// AnnouncingKV wraps a backend so every successful write is announced to
// other clients. Announcement failures are logged, never returned: the
// write itself already succeeded.
type AnnouncingKV struct {
	domain.KV
	announcer Announcer
	origin    string
	log       zerolog.Logger
	nowFn     func() time.Time
}

// NewAnnouncingKV decorates kv.
func NewAnnouncingKV(kv domain.KV, announcer Announcer, origin string, log zerolog.Logger) *AnnouncingKV {
	return &AnnouncingKV{
		KV:        kv,
		announcer: announcer,
		origin:    origin,
		log:       log,
		nowFn:     func() time.Time { return time.Now().UTC() },
	}
}

// Set writes through and announces the key.
func (a *AnnouncingKV) Set(ctx context.Context, key string, value []byte) error {
	if err := a.KV.Set(ctx, key, value); err != nil {
		return err
	}
	a.announce(ctx, key)
	return nil
}

// Delete removes through and announces the key.
func (a *AnnouncingKV) Delete(ctx context.Context, key string) error {
	if err := a.KV.Delete(ctx, key); err != nil {
		return err
	}
	a.announce(ctx, key)
	return nil
}

func (a *AnnouncingKV) announce(ctx context.Context, key string) {
	change := domain.KeyChange{Key: key, Origin: a.origin, At: a.nowFn()}
	if err := a.announcer.Announce(ctx, change); err != nil {
		a.log.Warn().Err(err).Str("key", key).Msg("announce key change")
	}
}
