package policy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu       sync.Mutex
	byTenant map[string][]Policy
	err      error
	calls    int
}

func (f *fakeStore) ListEnabled(_ context.Context, tenant string) ([]Policy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.byTenant[tenant], nil
}

func (f *fakeStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeStore) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeStore) set(tenant string, policies []Policy) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byTenant[tenant] = policies
}

func newFakeStore() *fakeStore {
	return &fakeStore{byTenant: map[string][]Policy{}}
}

func TestCacheServesFreshSnapshotWithoutStoreRoundTrip(t *testing.T) {
	store := newFakeStore()
	store.set("org-7", []Policy{{ID: 1, Effect: EffectAllow, Priority: 1, Expression: allowAll()}})

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cache := NewCache(store, WithTTL(5*time.Second), WithCacheClock(func() time.Time { return now }))
	ctx := context.Background()

	first := cache.Effective(ctx, "org-7")
	require.Len(t, first, 1)
	assert.Equal(t, 1, store.callCount())

	// Inside the TTL the store is not consulted again.
	now = now.Add(2 * time.Second)
	second := cache.Effective(ctx, "org-7")
	require.Len(t, second, 1)
	assert.Equal(t, 1, store.callCount())
}

func TestCacheStalenessBoundedByTTL(t *testing.T) {
	store := newFakeStore()
	store.set("org-7", []Policy{{ID: 1, Effect: EffectAllow, Priority: 1, Expression: allowAll()}})

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cache := NewCache(store, WithTTL(5*time.Second), WithCacheClock(func() time.Time { return now }))
	ctx := context.Background()

	require.Len(t, cache.Effective(ctx, "org-7"), 1)

	// The policy gets disabled upstream; the cached snapshot keeps it
	// visible until the TTL elapses, not instantly and not forever.
	store.set("org-7", nil)
	now = now.Add(4 * time.Second)
	assert.Len(t, cache.Effective(ctx, "org-7"), 1)

	now = now.Add(2 * time.Second)
	assert.Empty(t, cache.Effective(ctx, "org-7"))
}

func TestCacheTenantIsolation(t *testing.T) {
	store := newFakeStore()
	store.set("org-7", []Policy{{ID: 1, Organization: "org-7", Effect: EffectAllow, Priority: 1, Expression: allowAll()}})
	store.set("org-9", []Policy{{ID: 2, Organization: "org-9", Effect: EffectDeny, Priority: 1, Expression: allowAll()}})

	cache := NewCache(store)
	ctx := context.Background()

	seven := cache.Effective(ctx, "org-7")
	nine := cache.Effective(ctx, "org-9")
	require.Len(t, seven, 1)
	require.Len(t, nine, 1)
	assert.Equal(t, int64(1), seven[0].ID)
	assert.Equal(t, int64(2), nine[0].ID)
}

func TestCacheServesStaleSnapshotInsideGraceWindow(t *testing.T) {
	store := newFakeStore()
	store.set("org-7", []Policy{{ID: 1, Effect: EffectAllow, Priority: 1, Expression: allowAll()}})

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cache := NewCache(store,
		WithTTL(5*time.Second),
		WithGrace(30*time.Second),
		WithCacheClock(func() time.Time { return now }),
	)
	ctx := context.Background()

	require.Len(t, cache.Effective(ctx, "org-7"), 1)

	store.setErr(errors.New("connection refused"))

	// TTL expired but within grace: the previous snapshot substitutes.
	now = now.Add(10 * time.Second)
	assert.Len(t, cache.Effective(ctx, "org-7"), 1)

	// Past the grace window: fail closed with an empty set.
	now = now.Add(30 * time.Second)
	assert.Empty(t, cache.Effective(ctx, "org-7"))
}

func TestCacheFailsClosedWithNoSnapshot(t *testing.T) {
	store := newFakeStore()
	store.setErr(errors.New("connection refused"))

	cache := NewCache(store)
	assert.Empty(t, cache.Effective(context.Background(), "org-7"))
}
