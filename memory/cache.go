package memory

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/monikatyab/anaya-m2m/core"
)

// DefaultProfileTTL bounds how stale a cached profile can get. Profiles
// only change on session close, so minutes of staleness cost nothing
// visible; writes invalidate eagerly anyway.
const DefaultProfileTTL = 5 * time.Minute

// CachedLongTerm wraps a LongTerm store with a ristretto read cache.
// The planner reads the profile on every turn while writes happen only
// when sessions close, so the hot path stays off the backing store.
// Cached values are deep-copied on both fill and hit: callers can never
// mutate the cache's copy, and the cache never aliases a caller's.
type CachedLongTerm struct {
	inner LongTerm
	cache *ristretto.Cache
	ttl   time.Duration
}

// NewCachedLongTerm wraps inner. ttl <= 0 selects DefaultProfileTTL.
func NewCachedLongTerm(inner LongTerm, ttl time.Duration) (*CachedLongTerm, error) {
	if ttl <= 0 {
		ttl = DefaultProfileTTL
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000,
		MaxCost:     10_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &CachedLongTerm{inner: inner, cache: cache, ttl: ttl}, nil
}

// ProfileFor returns the cached profile when present, otherwise reads
// through and fills the cache.
func (c *CachedLongTerm) ProfileFor(ctx context.Context, userID string) (*UserProfile, error) {
	if v, ok := c.cache.Get(userID); ok {
		if p, ok := v.(*UserProfile); ok {
			return p.Clone(), nil
		}
	}
	p, err := c.inner.ProfileFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.cache.SetWithTTL(userID, p.Clone(), 1, c.ttl)
	return p, nil
}

// Update writes through to the backing store and invalidates the
// user's cache entry so the next read observes the merge.
func (c *CachedLongTerm) Update(ctx context.Context, userID string, turns []core.Turn) error {
	if err := c.inner.Update(ctx, userID, turns); err != nil {
		return err
	}
	c.cache.Del(userID)
	return nil
}

// Wait blocks until buffered cache writes are applied. Tests use it to
// make fills deterministic.
func (c *CachedLongTerm) Wait() {
	c.cache.Wait()
}

// Close releases the cache's internal goroutines.
func (c *CachedLongTerm) Close() {
	c.cache.Close()
}
