package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lock acquisition parameters.
const (
	// lockKeyPrefix namespaces lock keys away from plain cache entries.
	lockKeyPrefix = "lock:"
	// lockRetryInterval is the poll period of a blocking acquisition.
	lockRetryInterval = 100 * time.Millisecond
	// DefaultLockTTL is the absolute auto-release deadline. A crashed
	// holder cannot starve other workers past this point.
	DefaultLockTTL = 5 * time.Minute
)

// ErrLockHeld indicates a non-blocking acquisition found the lock taken.
var ErrLockHeld = errors.New("cache: lock already held")

// releaseScript deletes the lock only when the caller still holds it, so
// a release racing an auto-expired, re-acquired lock is a no-op.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Lock is one named mutual-exclusion lock. The token fences releases:
// only the goroutine that acquired the lock can release it.
type Lock struct {
	cache *Cache
	key   string
	token string
	ttl   time.Duration
}

// NewLock prepares a lock handle for name. A non-positive TTL selects
// DefaultLockTTL. The lock is not yet acquired.
func (c *Cache) NewLock(name string, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}

	return &Lock{
		cache: c,
		key:   lockKeyPrefix + name,
		token: uuid.NewString(),
		ttl:   ttl,
	}
}

// TryAcquire attempts a non-blocking acquisition. Returns ErrLockHeld
// when another holder owns the lock.
func (l *Lock) TryAcquire(ctx context.Context) error {
	ok, err := l.cache.rdb.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("cache: acquire %q: %w", l.key, err)
	}

	if !ok {
		return fmt.Errorf("%w: %q", ErrLockHeld, l.key)
	}

	return nil
}

// Acquire blocks until the lock is obtained or the context ends.
func (l *Lock) Acquire(ctx context.Context) error {
	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()

	for {
		err := l.TryAcquire(ctx)
		if err == nil {
			return nil
		}

		if !errors.Is(err, ErrLockHeld) {
			return err
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("cache: acquire %q: %w", l.key, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Release frees the lock. Idempotent: releasing a lock that expired or
// was already released is not an error.
func (l *Lock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.cache.rdb, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("cache: release %q: %w", l.key, err)
	}

	return nil
}
