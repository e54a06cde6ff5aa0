package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dukkani/dukkani/internal/port"
	"github.com/dukkani/dukkani/internal/ratelimit"
)

const (
	idempotencyKeyPrefix = "idempotency:"
	rateLimitKeyPrefix   = "ratelimit:"
	stateKeyPrefix       = "state:"
	idempotencyKeyTTL    = 24 * time.Hour
)

// fixedWindowScript increments the counter and starts its window on the
// first hit. Returns {count, remaining window in ms}.
var fixedWindowScript = redis.NewScript(`
local key = KEYS[1]
local window = tonumber(ARGV[1])

local count = redis.call('INCR', key)
if count == 1 then
	redis.call('PEXPIRE', key, window)
end

local ttl = redis.call('PTTL', key)
if ttl < 0 then
	redis.call('PEXPIRE', key, window)
	ttl = window
end

return {count, ttl}
`)

type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

var (
	_ port.IdempotencyGuard = (*RedisAdapter)(nil)
	_ port.ExpiringStore    = (*RedisAdapter)(nil)
	_ ratelimit.Store       = (*RedisAdapter)(nil)
)

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, idempotencyKeyPrefix+key).Err()
}

// Increment implements ratelimit.Store. The window is anchored by the
// Redis key expiry, so now only converts the remaining TTL into a reset time.
func (r *RedisAdapter) Increment(ctx context.Context, key string, window time.Duration, now time.Time) (int, time.Time, error) {
	res, err := fixedWindowScript.Run(ctx, r.client, []string{rateLimitKeyPrefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, time.Time{}, err
	}
	if len(res) != 2 {
		return 0, time.Time{}, fmt.Errorf("unexpected script reply: %v", res)
	}

	return int(res[0]), now.Add(time.Duration(res[1]) * time.Millisecond), nil
}

func (r *RedisAdapter) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, stateKeyPrefix+key, value, ttl).Err()
}

// Take uses GETDEL so two readers never both observe the same value.
func (r *RedisAdapter) Take(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := r.client.GetDel(ctx, stateKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	return value, true, nil
}

func (r *RedisAdapter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
