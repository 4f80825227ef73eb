package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "desertyard:digest:"

type Config struct {
	Host         string
	Port         string
	Password     string
	DB           int
	TTL          time.Duration
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DigestCache implements port.DigestCache using Redis
type DigestCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewDigestCache connects to Redis and verifies the connection
func NewDigestCache(ctx context.Context, cfg Config) (*DigestCache, error) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 10
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 3 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 3 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   3,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewDigestCacheWithClient(client, cfg.TTL), nil
}

// NewDigestCacheWithClient wraps an existing client
func NewDigestCacheWithClient(client redis.UniversalClient, ttl time.Duration) *DigestCache {
	return &DigestCache{client: client, ttl: ttl}
}

// LastDigest returns the digest of the last stored snapshot for sourceID
func (c *DigestCache) LastDigest(ctx context.Context, sourceID string) (string, bool, error) {
	val, err := c.client.Get(ctx, DigestKey(sourceID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get digest from cache: %w", err)
	}
	return val, true, nil
}

// RememberDigest stores digest with the configured TTL (0 means no expiry)
func (c *DigestCache) RememberDigest(ctx context.Context, sourceID, digest string) error {
	if err := c.client.Set(ctx, DigestKey(sourceID), digest, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set digest in cache: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (c *DigestCache) Close() error {
	return c.client.Close()
}

// DigestKey builds the cache key for a source
func DigestKey(sourceID string) string {
	return keyPrefix + sourceID
}
