// Package locks serializes per-phone work across worker goroutines and
// processes with Redis lease locks. Two files sent back-to-back would
// otherwise race on the pending-action slot and folder-map read-modify-write.
package locks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockScript releases a lease only if the caller still owns it, so a lock
// that expired and was re-acquired by someone else is never released by the
// old holder.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out per-key leases.
type Locker struct {
	rdb *redis.Client
}

// New creates a Locker from a Redis URL.
func New(redisURL string) (*Locker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return &Locker{rdb: redis.NewClient(opts)}, nil
}

// NewWithClient wraps an existing client. Used by tests with miniredis-style
// fakes.
func NewWithClient(rdb *redis.Client) *Locker {
	return &Locker{rdb: rdb}
}

// Lease is an acquired lock; Release returns it.
type Lease struct {
	locker *Locker
	key    string
	token  string
}

// Acquire blocks until the key's lease is free or ctx is done. The ttl bounds
// how long a crashed holder can wedge the key.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	token := uuid.New().String()
	fullKey := "lock:" + key

	for {
		ok, err := l.rdb.SetNX(ctx, fullKey, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			return &Lease{locker: l, key: fullKey, token: token}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("gave up waiting for lock %s: %w", key, ctx.Err())
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// WithLease runs fn while holding the key's lease. Callers that only need
// scoped mutual exclusion use this instead of pairing Acquire and Release.
func (l *Locker) WithLease(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	lease, err := l.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}
	defer lease.Release(ctx)
	return fn(ctx)
}

// Release frees the lease if still held.
func (le *Lease) Release(ctx context.Context) {
	// Best effort: an expired lease is already gone.
	_ = unlockScript.Run(ctx, le.locker.rdb, []string{le.key}, le.token).Err()
}

// Close closes the underlying Redis connection.
func (l *Locker) Close() error {
	return l.rdb.Close()
}
