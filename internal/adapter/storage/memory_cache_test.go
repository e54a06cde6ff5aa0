package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_Idempotency(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()

	ok, err := cache.SetIdempotency(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cache.SetIdempotency(ctx, "req-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.ReleaseIdempotency(ctx, "req-1"))
	ok, err = cache.SetIdempotency(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryCache_IdempotencyAndStateDoNotCollide(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()

	ok, err := cache.SetIdempotency(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	_, found, err := cache.Take(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryCache_TakeIsOneShot(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()

	require.NoError(t, cache.Put(ctx, "disconnect:1", []byte("yes"), time.Minute))

	v, ok, err := cache.Take(ctx, "disconnect:1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("yes"), v)

	_, ok, err = cache.Take(ctx, "disconnect:1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	require.NoError(t, cache.Put(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, cache.Put(ctx, "b", []byte("2"), time.Hour))

	now = now.Add(time.Minute)
	_, ok, err := cache.Take(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok, "expired exactly at ttl")

	require.NoError(t, cache.Put(ctx, "c", []byte("3"), time.Second))
	assert.Equal(t, 1, cache.Sweep(now.Add(2*time.Second)))

	v, ok, err := cache.Take(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("2"), v)
}
