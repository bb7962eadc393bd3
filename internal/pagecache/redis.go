// Package pagecache provides a Redis read-through cache for published page
// snapshots.
package pagecache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"folio/api/internal/vcs"

	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 24 * time.Hour

// RedisCache stores materialized page content keyed by project, page and
// commit id. Snapshots of shared commits never change, so entries only
// expire to bound memory.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ vcs.SnapshotCache = (*RedisCache)(nil)

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisCacheWithClient(client, ttl), nil
}

// NewRedisCacheWithClient wraps an existing client.
func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{
		client: client,
		prefix: "folio:page:",
		ttl:    ttl,
	}
}

func (c *RedisCache) key(projectID string, page int, commitID int64) string {
	return c.prefix + projectID + ":" + strconv.Itoa(page) + ":" + strconv.FormatInt(commitID, 10)
}

func (c *RedisCache) GetSnapshot(ctx context.Context, projectID string, page int, commitID int64) (string, bool, error) {
	content, err := c.client.Get(ctx, c.key(projectID, page, commitID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read cached page: %w", err)
	}
	return content, true, nil
}

func (c *RedisCache) SetSnapshot(ctx context.Context, projectID string, page int, commitID int64, content string) error {
	if err := c.client.Set(ctx, c.key(projectID, page, commitID), content, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache page: %w", err)
	}
	return nil
}

// Ping checks if Redis is reachable.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
