package redis

import (
	"context"
	"errors"
	"time"

	"github.com/alem-hub/learner-progress/internal/application/query"
)

// DefaultOverviewTTL bounds how stale a cached overview can get if an
// invalidation is lost.
const DefaultOverviewTTL = 2 * time.Minute

// versionTTL keeps a learner's version key well past the life of any
// overview stored under it. An expired version restarts at 0, and by then
// every overview written under 0 has expired too.
const versionTTL = 24 * time.Hour

// OverviewCache implements query.OverviewCache. Overviews live under
// progress:overview:<learner>:<version>; Invalidate increments the version,
// so writes computed before it land on a key nobody reads.
type OverviewCache struct {
	cache *Cache
	ttl   time.Duration
}

// NewOverviewCache creates a new OverviewCache.
func NewOverviewCache(cache *Cache, ttl time.Duration) *OverviewCache {
	if ttl <= 0 {
		ttl = DefaultOverviewTTL
	}
	return &OverviewCache{cache: cache, ttl: ttl}
}

// Get returns the learner's current version and the overview stored under
// it. A miss is a nil overview, not an error.
func (o *OverviewCache) Get(ctx context.Context, learnerID string) (*query.GetOverviewResult, int64, error) {
	version, err := o.cache.Counter(ctx, OverviewVersionKey(learnerID))
	if err != nil {
		return nil, 0, err
	}
	var overview query.GetOverviewResult
	err = o.cache.Get(ctx, OverviewKey(learnerID, version), &overview)
	if errors.Is(err, ErrCacheMiss) {
		return nil, version, nil
	}
	if err != nil {
		return nil, version, err
	}
	return &overview, version, nil
}

// Set stores the overview under version with the configured TTL.
func (o *OverviewCache) Set(ctx context.Context, learnerID string, version int64, overview *query.GetOverviewResult) error {
	if overview == nil {
		return nil
	}
	return o.cache.Set(ctx, OverviewKey(learnerID, version), overview, o.ttl)
}

// Invalidate moves the learner to a new version.
func (o *OverviewCache) Invalidate(ctx context.Context, learnerID string) error {
	_, err := o.cache.Incr(ctx, OverviewVersionKey(learnerID), max(versionTTL, 2*o.ttl))
	return err
}
