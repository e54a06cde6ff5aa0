package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/dukkani/dukkani/internal/port"
)

var stateBucket = []byte("state")

// BoltAdapter keeps expiring state in a local bbolt file. Each value is
// stored behind an 8 byte expiry header (unix nanoseconds, 0 = never).
type BoltAdapter struct {
	db  *bolt.DB
	now func() time.Time
}

func OpenBoltAdapter(path string) (*BoltAdapter, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(stateBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	return &BoltAdapter{db: db, now: time.Now}, nil
}

var _ port.ExpiringStore = (*BoltAdapter)(nil)

func (b *BoltAdapter) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var expiresAt int64
	if ttl > 0 {
		expiresAt = b.now().Add(ttl).UnixNano()
	}
	record := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(record, uint64(expiresAt))
	copy(record[8:], value)

	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(stateBucket).Put([]byte(key), record)
	})
}

func (b *BoltAdapter) Take(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var (
		value []byte
		ok    bool
	)
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(stateBucket)
		record := bucket.Get([]byte(key))
		if record == nil {
			return nil
		}
		if len(record) < 8 {
			return bucket.Delete([]byte(key))
		}

		expiresAt := int64(binary.BigEndian.Uint64(record[:8]))
		if expiresAt == 0 || b.now().UnixNano() < expiresAt {
			// record is only valid for the life of the transaction
			value = append([]byte(nil), record[8:]...)
			ok = true
		}
		return bucket.Delete([]byte(key))
	})
	if err != nil {
		return nil, false, err
	}

	return value, ok, nil
}

// Sweep removes every record expired at now and returns how many were
// dropped. It satisfies ratelimit.Sweepable so the same sweeper loop can
// keep the file small.
func (b *BoltAdapter) Sweep(now time.Time) int {
	cutoff := now.UnixNano()
	removed := 0
	_ = b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(stateBucket)
		var stale [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			if len(v) < 8 {
				stale = append(stale, append([]byte(nil), k...))
				return nil
			}
			if exp := int64(binary.BigEndian.Uint64(v[:8])); exp != 0 && cutoff >= exp {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})

	return removed
}

func (b *BoltAdapter) Close() error {
	return b.db.Close()
}
