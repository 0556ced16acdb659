// Package cache is the process-shared key-value, lock and buffer layer on
// Redis. It dedupes identical document loads, fences per-table index jobs
// and buffers usage events between request teardown and the durable flush.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound indicates the key holds no value.
var ErrNotFound = errors.New("cache: key not found")

// Cache wraps one Redis connection pool. Safe for concurrent use; one
// instance is shared process-wide with an init+shutdown pair around it.
type Cache struct {
	rdb *redis.Client
}

// New wraps an existing Redis client.
func New(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

// Connect dials Redis and verifies the connection with a ping.
func Connect(ctx context.Context, addr, password string, db int) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: connect %s: %w", addr, err)
	}

	return &Cache{rdb: rdb}, nil
}

// Client exposes the underlying Redis client for collaborators that need
// primitives the Cache does not wrap, such as pub/sub subscriptions.
func (c *Cache) Client() *redis.Client {
	return c.rdb
}

// Close releases the connection pool.
func (c *Cache) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("cache: close: %w", err)
	}

	return nil
}

// Set stores value under key with a per-key TTL. A non-positive TTL
// stores the key without expiry.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}

	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %q: %w", key, err)
	}

	return nil
}

// Get loads the value under key, or ErrNotFound.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	value, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%w: %q", ErrNotFound, key)
	}

	if err != nil {
		return "", fmt.Errorf("cache: get %q: %w", key, err)
	}

	return value, nil
}

// Delete removes the key. Deleting an absent key is not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache: delete %q: %w", key, err)
	}

	return nil
}

// Expire resets the TTL of an existing key.
func (c *Cache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("cache: expire %q: %w", key, err)
	}

	return nil
}

// Publish sends payload to subscribers of the named channel.
func (c *Cache) Publish(ctx context.Context, channel, payload string) error {
	if err := c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("cache: publish %q: %w", channel, err)
	}

	return nil
}
