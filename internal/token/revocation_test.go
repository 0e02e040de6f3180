package token

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRevocations(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryRevocations(time.Hour, WithRevocationClock(func() time.Time { return now }))
	defer store.Stop()
	ctx := context.Background()

	revoked, err := store.IsRevoked(ctx, "tok-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, store.Revoke(ctx, "tok-1", 15*time.Minute))
	revoked, err = store.IsRevoked(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	// Revoking again is a no-op observable only through IsRevoked.
	require.NoError(t, store.Revoke(ctx, "tok-1", 15*time.Minute))
	revoked, err = store.IsRevoked(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	// A second revocation never shortens an existing deadline.
	require.NoError(t, store.Revoke(ctx, "tok-1", time.Second))
	now = now.Add(10 * time.Minute)
	revoked, err = store.IsRevoked(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	// Entries die no later than the token itself would have expired.
	now = now.Add(6 * time.Minute)
	revoked, err = store.IsRevoked(ctx, "tok-1")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestMemoryRevocationsSweeper(t *testing.T) {
	now := time.Now()
	store := NewMemoryRevocations(10*time.Millisecond, WithRevocationClock(func() time.Time { return now }))
	defer store.Stop()
	ctx := context.Background()

	require.NoError(t, store.Revoke(ctx, "tok-a", time.Minute))
	require.NoError(t, store.Revoke(ctx, "tok-b", time.Minute))
	assert.Equal(t, 2, store.size())

	now = now.Add(2 * time.Minute)
	assert.Eventually(t, func() bool { return store.size() == 0 },
		time.Second, 10*time.Millisecond)
}

func TestMemoryRevocationsStoresDigestsOnly(t *testing.T) {
	store := NewMemoryRevocations(time.Hour)
	defer store.Stop()

	raw := "header.payload.signature"
	require.NoError(t, store.Revoke(context.Background(), raw, time.Minute))

	store.mu.RLock()
	defer store.mu.RUnlock()
	_, rawPresent := store.entries[raw]
	_, digestPresent := store.entries[Digest(raw)]
	assert.False(t, rawPresent)
	assert.True(t, digestPresent)
}

func TestRedisRevocations(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisRevocations(client)
	ctx := context.Background()

	revoked, err := store.IsRevoked(ctx, "tok-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, store.Revoke(ctx, "tok-1", 15*time.Minute))
	revoked, err = store.IsRevoked(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	// Raw tokens never appear as keys.
	assert.False(t, mr.Exists("revoked:tok-1"))
	assert.True(t, mr.Exists("revoked:"+Digest("tok-1")))

	// Entries self-expire with the key TTL.
	mr.FastForward(16 * time.Minute)
	revoked, err = store.IsRevoked(ctx, "tok-1")
	require.NoError(t, err)
	assert.False(t, revoked)
}
