// Package ephemeral holds the keyed staging store that absorbs activity
// writes between flushes.
package ephemeral

import (
	"context"
	"time"
)

// Store is a keyed store with atomic hash, list and marker operations
type Store interface {
	// HIncrBy atomically adds delta to a hash field and returns the new value
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)
	// HIncrByMany adds every value to its field in one round trip
	HIncrByMany(ctx context.Context, key string, values map[string]int64) error
	HGet(ctx context.Context, key, field string) (int64, bool, error)
	// HDrain reads and deletes a whole hash atomically. Increments that
	// land after the drain start a fresh hash.
	HDrain(ctx context.Context, key string) (map[string]int64, error)

	// SetNX stores value only when key is absent. A zero ttl never expires.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, bool, error)
	// GetDel returns the value and removes the key atomically
	GetDel(ctx context.Context, key string) (string, bool, error)

	// PushTrim prepends value and keeps only the newest maxLen items
	PushTrim(ctx context.Context, key, value string, maxLen int64, ttl time.Duration) error
	LRange(ctx context.Context, key string) ([]string, error)

	KeysWithPrefix(ctx context.Context, prefix string) ([]string, error)
	Ping(ctx context.Context) error
}
