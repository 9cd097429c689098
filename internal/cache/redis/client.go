// Package redis backs the coordination primitives with go-redis/v9: the
// per-venue method locks and the sliding-window rate limiter both live in
// one keyspace shared by every running mode.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

// Client wraps a go-redis Client shared by the lock manager and the rate
// limiter.
type Client struct {
	rdb *redis.Client
}

// New connects to Redis and verifies connectivity with a ping. Lock and
// rate-limit state is ephemeral, so a fresh instance is acceptable after a
// Redis restart.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}

	opts := &redis.Options{
		Addr:       addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
		ClientName: "arbot",
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	rdb := redis.NewClient(opts)

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying returns the raw *redis.Client for the lock and limiter
// implementations in this package's siblings.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
