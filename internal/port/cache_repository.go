package port

import (
	"context"
	"time"
)

type IdempotencyGuard interface {
	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency removes the key so a failed request may be retried.
	ReleaseIdempotency(ctx context.Context, key string) error
}

// ExpiringStore holds short-lived values such as pending chat confirmations.
type ExpiringStore interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Take returns the live value for key and deletes it in the same step.
	// ok is false when the key is absent or expired.
	Take(ctx context.Context, key string) (value []byte, ok bool, err error)
}
