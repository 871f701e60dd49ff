package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Client wraps redis for read-through caching and idempotency keys.
// Cached namespaces carry a version counter; invalidating a namespace
// bumps the counter so stale keys simply expire.
type Client struct {
	rdb      *redis.Client
	cacheTTL time.Duration
}

// NewClient creates a redis client and verifies the connection.
func NewClient(addr, password string, db int, cacheTTL time.Duration) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb, cacheTTL: cacheTTL}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) versionedKey(ctx context.Context, namespace, key string) (string, error) {
	version, err := c.rdb.Get(ctx, "cachever:"+namespace).Result()
	if err == redis.Nil {
		version = "0"
	} else if err != nil {
		return "", err
	}
	return fmt.Sprintf("cache:%s:v%s:%s", namespace, version, key), nil
}

// Get unmarshals a cached value into dest; the bool reports a hit.
func (c *Client) Get(ctx context.Context, namespace, key string, dest interface{}) (bool, error) {
	full, err := c.versionedKey(ctx, namespace, key)
	if err != nil {
		return false, err
	}

	raw, err := c.rdb.Get(ctx, full).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("failed to decode cached value: %w", err)
	}
	return true, nil
}

// Set stores a value in the namespace under the configured TTL.
func (c *Client) Set(ctx context.Context, namespace, key string, value interface{}) error {
	full, err := c.versionedKey(ctx, namespace, key)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value: %w", err)
	}
	return c.rdb.Set(ctx, full, raw, c.cacheTTL).Err()
}

// Invalidate bumps the namespace version; existing entries become
// unreachable and expire on their own TTL.
func (c *Client) Invalidate(ctx context.Context, namespace string) error {
	return c.rdb.Incr(ctx, "cachever:"+namespace).Err()
}

// ClaimIdempotencyKey atomically claims key for ttl. It returns false when
// the key was already claimed by an earlier request.
func (c *Client) ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, "idempotency:"+key, "1", ttl).Result()
}

// ReleaseIdempotencyKey frees a claimed key so the same key can be retried
// after a failed request.
func (c *Client) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, "idempotency:"+key).Err()
}
