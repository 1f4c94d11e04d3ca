package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379" or "redis://:password@host:6379/0")
	URL string
}

// RedisCache implements ResponseCache using Redis for distributed storage.
// This is suitable for multi-instance deployments behind a load balancer.
// Expiry is delegated to Redis key TTLs.
type RedisCache struct {
	client *redis.Client

	mu     sync.Mutex
	ready  bool
	closed bool
}

// NewRedisCache creates a Redis-based cache. The connection is verified by Init.
func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

// Init pings Redis.
func (c *RedisCache) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ready {
		return nil
	}
	if c.closed {
		return fmt.Errorf("redis cache is closed")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	c.ready = true
	slog.Info("redis cache connected", "addr", c.client.Options().Addr, "prefix", KeyPrefix)
	return nil
}

// Get retrieves the text stored under fingerprint.
func (c *RedisCache) Get(ctx context.Context, fingerprint string) (string, bool, error) {
	data, err := c.client.Get(ctx, Key(fingerprint)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get cache entry from redis: %w", err)
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return "", false, fmt.Errorf("failed to parse cache entry from redis: %w", err)
	}
	return e.Text, true, nil
}

// Set stores text under fingerprint with the given ttl.
func (c *RedisCache) Set(ctx context.Context, fingerprint, text string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(entry{Text: text, WrittenAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	if err := c.client.Set(ctx, Key(fingerprint), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache entry in redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.client.Close()
}
