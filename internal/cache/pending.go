// Package cache provides a Redis-backed cache for per-pipeline pending
// decision lists. The service reads through it on the hot polling path and
// invalidates on every mutation; Postgres stays the source of truth.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pipeboard/api/internal/decision"
)

// DefaultTTL bounds staleness when an invalidation is missed (e.g. a crash
// between the database write and the cache delete).
const DefaultTTL = 30 * time.Second

// PendingCache stores pending decision lists keyed by pipeline id.
type PendingCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewPendingCache connects to Redis and verifies the connection.
func NewPendingCache(redisURL string) (*PendingCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewPendingCacheWithClient(client), nil
}

// NewPendingCacheWithClient wraps an existing Redis client, mainly for tests.
func NewPendingCacheWithClient(client *redis.Client) *PendingCache {
	return &PendingCache{
		client: client,
		prefix: "pending:",
		ttl:    DefaultTTL,
	}
}

func (c *PendingCache) key(pipelineID string) string {
	return c.prefix + pipelineID
}

// GetPending returns the cached list and whether the key was present. An
// absent key is not an error; callers fall through to the database.
func (c *PendingCache) GetPending(ctx context.Context, pipelineID string) ([]decision.Decision, bool, error) {
	payload, err := c.client.Get(ctx, c.key(pipelineID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get pending cache: %w", err)
	}

	var items []decision.Decision
	if err := json.Unmarshal([]byte(payload), &items); err != nil {
		return nil, false, fmt.Errorf("decode pending cache: %w", err)
	}
	return items, true, nil
}

// SetPending replaces the cached list for a pipeline.
func (c *PendingCache) SetPending(ctx context.Context, pipelineID string, items []decision.Decision) error {
	payload, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode pending cache: %w", err)
	}
	if err := c.client.Set(ctx, c.key(pipelineID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("set pending cache: %w", err)
	}
	return nil
}

// Invalidate drops the cached list after a mutation so the next read sees
// the authority's state.
func (c *PendingCache) Invalidate(ctx context.Context, pipelineID string) error {
	if err := c.client.Del(ctx, c.key(pipelineID)).Err(); err != nil {
		return fmt.Errorf("invalidate pending cache: %w", err)
	}
	return nil
}

// Ping checks if Redis is reachable.
func (c *PendingCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *PendingCache) Close() error {
	return c.client.Close()
}
