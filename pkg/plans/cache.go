package plans

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/doorwayhq/doorway/pkg/observability"
)

// CachedStore decorates a Store with a TTL'd LRU of per-plan feature sets.
// Plan features change on the order of deployments, not requests, so a short
// TTL keeps staleness bounded while absorbing the checker's read volume.
// Concurrent misses for the same plan collapse into one underlying query.
type CachedStore struct {
	store   Store
	cache   *lru.LRU[string, FeatureSet]
	group   singleflight.Group
	metrics *observability.Metrics
}

// NewCachedStore wraps store with a cache of up to size plans expiring after
// ttl. metrics may be nil.
func NewCachedStore(store Store, size int, ttl time.Duration, metrics *observability.Metrics) *CachedStore {
	if size <= 0 {
		size = 64
	}
	if ttl <= 0 {
		ttl = time.Minute
	}

	return &CachedStore{
		store:   store,
		cache:   lru.NewLRU[string, FeatureSet](size, nil, ttl),
		metrics: metrics,
	}
}

// IsFeatureEnabled tests featureKey against the plan's cached feature set.
func (c *CachedStore) IsFeatureEnabled(ctx context.Context, planName, featureKey string) (bool, error) {
	set, err := c.EnabledFeatures(ctx, planName)
	if err != nil {
		return false, err
	}
	return set.Enabled(featureKey), nil
}

// EnabledFeatures returns the plan's feature set, loading it through
// singleflight on a miss.
func (c *CachedStore) EnabledFeatures(ctx context.Context, planName string) (FeatureSet, error) {
	if set, ok := c.cache.Get(planName); ok {
		c.recordHit()
		return set, nil
	}
	c.recordMiss()

	v, err, _ := c.group.Do(planName, func() (interface{}, error) {
		// A concurrent flight may have filled the cache while this caller
		// queued behind it.
		if set, ok := c.cache.Get(planName); ok {
			return set, nil
		}

		set, err := c.store.EnabledFeatures(ctx, planName)
		if err != nil {
			return nil, err
		}

		c.cache.Add(planName, set)
		return set, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(FeatureSet), nil
}

// Invalidate drops the cached set for planName, forcing the next read
// through to the store. Called after plan feature writes.
func (c *CachedStore) Invalidate(planName string) {
	c.cache.Remove(planName)
}

// Purge drops every cached plan.
func (c *CachedStore) Purge() {
	c.cache.Purge()
}

func (c *CachedStore) recordHit() {
	if c.metrics != nil {
		c.metrics.PlanCacheHitsTotal.Inc()
	}
}

func (c *CachedStore) recordMiss() {
	if c.metrics != nil {
		c.metrics.PlanCacheMissesTotal.Inc()
	}
}
