package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// countSuffix extends a buffer key into its event-counter key.
const countSuffix = "_count"

// Buffer is an append-only list under a well-known key with a companion
// counter. The billing flusher drains it in batches; the counter lets
// the flusher wake early when a threshold of pending events accumulates.
type Buffer struct {
	cache *Cache
	key   string
}

// NewBuffer prepares a buffer handle for key.
func (c *Cache) NewBuffer(key string) *Buffer {
	return &Buffer{cache: c, key: key}
}

// Append pushes payloads onto the buffer and bumps the counter, both in
// one pipeline so a reader never observes the list ahead of the counter.
func (b *Buffer) Append(ctx context.Context, payloads ...string) error {
	if len(payloads) == 0 {
		return nil
	}

	values := make([]any, len(payloads))
	for i, p := range payloads {
		values[i] = p
	}

	_, err := b.cache.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, b.key, values...)
		pipe.IncrBy(ctx, b.key+countSuffix, int64(len(payloads)))

		return nil
	})
	if err != nil {
		return fmt.Errorf("cache: buffer append %q: %w", b.key, err)
	}

	return nil
}

// Drain pops up to max payloads from the head of the buffer and decrements
// the counter by the number actually removed. An empty buffer returns nil.
func (b *Buffer) Drain(ctx context.Context, max int) ([]string, error) {
	if max <= 0 {
		return nil, nil
	}

	payloads, err := b.cache.rdb.LPopCount(ctx, b.key, max).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("cache: buffer drain %q: %w", b.key, err)
	}

	if len(payloads) > 0 {
		if err := b.cache.rdb.DecrBy(ctx, b.key+countSuffix, int64(len(payloads))).Err(); err != nil {
			return nil, fmt.Errorf("cache: buffer drain %q: %w", b.key, err)
		}
	}

	return payloads, nil
}

// Count reads the pending-event counter. A missing counter reads as zero.
func (b *Buffer) Count(ctx context.Context) (int, error) {
	count, err := b.cache.rdb.Get(ctx, b.key+countSuffix).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("cache: buffer count %q: %w", b.key, err)
	}

	return count, nil
}
