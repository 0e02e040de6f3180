package policy

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"docvault.org/internal/obs"
)

const (
	defaultTTL     = 5 * time.Second
	defaultGrace   = 30 * time.Second
	defaultMaxOrgs = 1024
)

// Cache is the per-tenant, time-bounded cache of enabled rules. The
// TTL is short enough that a freshly disabled policy takes effect
// within one window, coarse enough that the store is not hit on every
// request. On a store failure the previous snapshot is served while
// inside the grace window; past it the cache fails closed with an
// empty set, which the evaluator's default deny turns into denial.
type Cache struct {
	store Store
	ttl   time.Duration
	grace time.Duration
	now   func() time.Time

	snapshots *lru.Cache[string, snapshot]
}

type snapshot struct {
	policies  []Policy
	fetchedAt time.Time
}

// CacheOption configures Cache.
type CacheOption func(*Cache)

// WithTTL sets the snapshot freshness window.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithGrace sets how long a stale snapshot may substitute for an
// unreachable store.
func WithGrace(grace time.Duration) CacheOption {
	return func(c *Cache) {
		if grace > 0 {
			c.grace = grace
		}
	}
}

// WithCacheClock overrides the time source (useful for tests).
func WithCacheClock(fn func() time.Time) CacheOption {
	return func(c *Cache) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCache builds a Cache over the given store. The snapshot map is a
// bounded LRU so an abusive tenant id stream cannot grow it without
// limit.
func NewCache(store Store, opts ...CacheOption) *Cache {
	c := &Cache{
		store: store,
		ttl:   defaultTTL,
		grace: defaultGrace,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	snapshots, err := lru.New[string, snapshot](defaultMaxOrgs)
	if err != nil {
		// Only reachable with a non-positive size constant.
		panic(err)
	}
	c.snapshots = snapshots
	return c
}

// Effective returns the tenant's enabled rule set, ordered by
// priority. The returned slice is shared between callers and must be
// treated as read-only.
func (c *Cache) Effective(ctx context.Context, tenant string) []Policy {
	now := c.now()

	snap, cached := c.snapshots.Get(tenant)
	if cached && now.Sub(snap.fetchedAt) < c.ttl {
		obs.PolicyCacheLookups.WithLabelValues("hit").Inc()
		return snap.policies
	}

	policies, err := c.store.ListEnabled(ctx, tenant)
	if err == nil {
		c.snapshots.Add(tenant, snapshot{policies: policies, fetchedAt: now})
		obs.PolicyCacheLookups.WithLabelValues("miss").Inc()
		return policies
	}

	if cached && now.Sub(snap.fetchedAt) < c.ttl+c.grace {
		obs.PolicyCacheLookups.WithLabelValues("stale").Inc()
		obs.Logger().WithError(err).WithField("tenant", tenant).
			Warn("policy store unavailable, serving stale snapshot")
		return snap.policies
	}

	obs.PolicyCacheLookups.WithLabelValues("failclosed").Inc()
	obs.Logger().WithError(err).WithField("tenant", tenant).
		Error("policy store unavailable and no usable snapshot, failing closed")
	return nil
}
