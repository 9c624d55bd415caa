package domain

import (
	"context"
	"time"
)

// KV is the client-scoped key-value storage every backend provides. Values
// are opaque serialized text; the record store owns the encoding.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// KeyChange is the native "a persisted key changed" notification raised for
// other clients sharing the same storage.
type KeyChange struct {
	Key    string    `json:"key"`
	Origin string    `json:"origin"`
	At     time.Time `json:"at"`
}

// Watchable is implemented by backends able to notify other clients of
// key changes.
type Watchable interface {
	Watch(fn func(KeyChange)) (cancel func())
}
