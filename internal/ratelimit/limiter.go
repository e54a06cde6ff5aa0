// Package ratelimit implements fixed-window request counting per identity.
//
// A Limiter counts hits for a key inside a window that starts at the first
// hit. Once the window has passed, the next hit starts a new window with a
// count of one. Counters live in a Store: MemoryStore keeps them in process
// memory, the Redis adapter shares them between instances. The Check
// contract is the same for both.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Store increments the counter for key, starting a fresh window of the
// given length when none is live at now.
type Store interface {
	Increment(ctx context.Context, key string, window time.Duration, now time.Time) (count int, resetAt time.Time, err error)
}

type Result struct {
	Allowed           bool
	Limit             int
	Remaining         int
	ResetAt           time.Time
	RetryAfterSeconds int
}

// Err returns a *LimitExceededError when the request was rejected.
func (r Result) Err() error {
	if r.Allowed {
		return nil
	}
	return &LimitExceededError{
		Remaining:         r.Remaining,
		ResetAt:           r.ResetAt,
		RetryAfterSeconds: r.RetryAfterSeconds,
	}
}

type LimitExceededError struct {
	Remaining         int
	ResetAt           time.Time
	RetryAfterSeconds int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded: try again in %d seconds", e.RetryAfterSeconds)
}

func (e *LimitExceededError) Is(target error) bool {
	_, ok := target.(*LimitExceededError)
	return ok
}

type Limiter struct {
	name   string
	max    int
	window time.Duration
	store  Store
	now    func() time.Time
}

func NewLimiter(name string, max int, window time.Duration, store Store) *Limiter {
	return &Limiter{
		name:   name,
		max:    max,
		window: window,
		store:  store,
		now:    time.Now,
	}
}

// WithClock replaces the time source.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

func (l *Limiter) Name() string          { return l.name }
func (l *Limiter) Max() int              { return l.max }
func (l *Limiter) Window() time.Duration { return l.window }

// Check records one hit for identifier. The error return only reports a
// failing store; an exhausted quota is reported through Result.Allowed.
func (l *Limiter) Check(ctx context.Context, identifier string) (Result, error) {
	now := l.now()
	count, resetAt, err := l.store.Increment(ctx, l.key(identifier), l.window, now)
	if err != nil {
		return Result{}, fmt.Errorf("rate limit %s: %w", l.name, err)
	}

	if count > l.max {
		return Result{
			Allowed:           false,
			Limit:             l.max,
			Remaining:         0,
			ResetAt:           resetAt,
			RetryAfterSeconds: retryAfter(resetAt.Sub(now)),
		}, nil
	}

	return Result{
		Allowed:   true,
		Limit:     l.max,
		Remaining: l.max - count,
		ResetAt:   resetAt,
	}, nil
}

func (l *Limiter) key(identifier string) string {
	return l.name + ":" + identifier
}

func retryAfter(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
