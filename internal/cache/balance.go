// Package cache provides the read-through balance cache.
package cache

import (
	"context"
	"time"

	"github.com/rongwang/guild-ledger/internal/metrics"
	"github.com/rongwang/guild-ledger/internal/models"
)

// maxBalanceEntries bounds memory held by the balance cache
const maxBalanceEntries = 100_000

// BalanceLoader reads an authoritative balance
type BalanceLoader func(ctx context.Context, subject string) (models.Balance, error)

// BalanceCache serves balances for a short TTL. After a write the entry is
// refreshed with a shorter TTL so readers converge quickly.
type BalanceCache struct {
	entries  *LRUCache[models.Balance]
	writeTTL time.Duration
}

// NewBalanceCache creates a cache with a default and a post-write TTL
func NewBalanceCache(ttl, writeTTL time.Duration) *BalanceCache {
	return &BalanceCache{
		entries:  NewLRUCache[models.Balance](maxBalanceEntries, ttl),
		writeTTL: writeTTL,
	}
}

// Get returns the cached balance or loads and caches it
func (c *BalanceCache) Get(ctx context.Context, subject string, load BalanceLoader) (models.Balance, error) {
	if b, ok := c.entries.Get(subject); ok {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return b, nil
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()

	b, err := load(ctx, subject)
	if err != nil {
		return models.Balance{}, err
	}
	// A Refresh that landed while loading holds a newer balance than b.
	b, _ = c.entries.SetIfAbsent(subject, b)
	return b, nil
}

// Refresh stores a freshly committed balance with the post-write TTL
func (c *BalanceCache) Refresh(b models.Balance) {
	c.entries.SetWithTTL(b.Subject, b, c.writeTTL)
}

// Invalidate drops a subject
func (c *BalanceCache) Invalidate(subject string) {
	c.entries.Delete(subject)
}

// CleanExpired lets a Manager sweep the cache
func (c *BalanceCache) CleanExpired() int {
	return c.entries.CleanExpired()
}

// Size returns the number of cached subjects
func (c *BalanceCache) Size() int {
	return c.entries.Size()
}

// SetClock replaces the clock used for expiry
func (c *BalanceCache) SetClock(now func() time.Time) {
	c.entries.SetClock(now)
}
