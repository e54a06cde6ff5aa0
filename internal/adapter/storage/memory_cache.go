package storage

import (
	"context"
	"sync"
	"time"

	"github.com/dukkani/dukkani/internal/port"
)

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e cacheEntry) live(now time.Time) bool {
	return e.expiresAt.IsZero() || now.Before(e.expiresAt)
}

// MemoryCache is the single-process stand-in for RedisAdapter.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

var (
	_ port.IdempotencyGuard = (*MemoryCache)(nil)
	_ port.ExpiringStore    = (*MemoryCache)(nil)
)

func (c *MemoryCache) SetIdempotency(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key = idempotencyKeyPrefix + key
	now := c.now()
	if e, ok := c.entries[key]; ok && e.live(now) {
		return false, nil
	}
	c.entries[key] = cacheEntry{value: []byte("1"), expiresAt: now.Add(idempotencyKeyTTL)}
	return true, nil
}

func (c *MemoryCache) ReleaseIdempotency(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, idempotencyKeyPrefix+key)
	return nil
}

func (c *MemoryCache) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e := cacheEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.entries[stateKeyPrefix+key] = e
	return nil
}

func (c *MemoryCache) Take(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key = stateKeyPrefix + key
	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	delete(c.entries, key)
	if !e.live(c.now()) {
		return nil, false, nil
	}
	return e.value, true, nil
}

// Sweep drops expired entries.
func (c *MemoryCache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		if !e.live(now) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}
