// Package cache is the two-tier extraction cache: an in-process L1 in front
// of the persistent L2 table.
package cache

import (
	"context"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/store"
)

// Tier identifies which cache level answered a lookup.
type Tier string

const (
	TierNone Tier = ""
	TierL1   Tier = "L1"
	TierL2   Tier = "L2"
)

// keyVersion is bumped when the cached value format changes.
const keyVersion = "v1"

// Key scopes a content fingerprint to a tenant.
func Key(tenantID, fingerprint string) string {
	return keyVersion + ":" + tenantID + ":" + fingerprint
}

// Stats are cumulative lookup counters.
type Stats struct {
	L1Hits   int64 `json:"l1_hits"`
	L2Hits   int64 `json:"l2_hits"`
	Misses   int64 `json:"misses"`
	Sets     int64 `json:"sets"`
	L2Errors int64 `json:"l2_errors"`
}

// MultiTier checks L1 then L2 and promotes L2 hits into L1. Entries expire
// by TTL only.
type MultiTier struct {
	l1    *gocache.Cache
	l2    store.CacheStore
	l1TTL time.Duration
	l2TTL time.Duration

	l1Hits, l2Hits, misses, sets, l2Errors atomic.Int64
}

// New creates a MultiTier cache. l2 may be nil for an in-process only cache.
func New(l2 store.CacheStore, l1TTL, l2TTL time.Duration) *MultiTier {
	if l1TTL <= 0 {
		l1TTL = 5 * time.Minute
	}
	if l2TTL <= 0 {
		l2TTL = 24 * time.Hour
	}
	return &MultiTier{
		l1:    gocache.New(l1TTL, 2*l1TTL),
		l2:    l2,
		l1TTL: l1TTL,
		l2TTL: l2TTL,
	}
}

// Get looks up a tenant-scoped fingerprint. L2 read errors count as misses.
func (c *MultiTier) Get(ctx context.Context, tenantID, fingerprint string) ([]byte, Tier, bool) {
	key := Key(tenantID, fingerprint)

	if v, ok := c.l1.Get(key); ok {
		c.l1Hits.Add(1)
		return v.([]byte), TierL1, true
	}

	if c.l2 != nil {
		val, err := c.l2.GetCacheEntry(ctx, key)
		if err != nil {
			c.l2Errors.Add(1)
			zap.L().Warn("cache: L2 read failed", zap.String("key", key), zap.Error(err))
		} else if val != nil {
			c.l2Hits.Add(1)
			c.l1.Set(key, val, c.l1TTL)
			return val, TierL2, true
		}
	}

	c.misses.Add(1)
	return nil, TierNone, false
}

// Set writes both tiers. The L2 write is an idempotent upsert, so
// concurrent writers of the same fingerprint are safe.
func (c *MultiTier) Set(ctx context.Context, tenantID, fingerprint string, value []byte) error {
	key := Key(tenantID, fingerprint)
	c.sets.Add(1)
	c.l1.Set(key, value, c.l1TTL)

	if c.l2 == nil {
		return nil
	}
	if err := c.l2.SetCacheEntry(ctx, key, value, c.l2TTL); err != nil {
		c.l2Errors.Add(1)
		return eris.Wrap(err, "cache: write L2")
	}
	return nil
}

// Stats returns a snapshot of the counters.
func (c *MultiTier) Stats() Stats {
	return Stats{
		L1Hits:   c.l1Hits.Load(),
		L2Hits:   c.l2Hits.Load(),
		Misses:   c.misses.Load(),
		Sets:     c.sets.Load(),
		L2Errors: c.l2Errors.Load(),
	}
}

// Prune drops expired entries from both tiers and returns the number of L2
// rows removed. It runs from maintenance jobs, never on the request path.
func (c *MultiTier) Prune(ctx context.Context) (int, error) {
	c.l1.DeleteExpired()
	if c.l2 == nil {
		return 0, nil
	}
	n, err := c.l2.DeleteExpiredCache(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "cache: prune L2")
	}
	zap.L().Info("cache: pruned expired entries", zap.Int("removed", n))
	return n, nil
}
