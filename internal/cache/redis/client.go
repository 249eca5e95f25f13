// Package redis implements the engine's cross-process collaborators on
// go-redis/v9: the write lock, the API rate limiter and the event bus.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// defaultNamespace prefixes every key and channel this package touches.
const defaultNamespace = "polyoracle"

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	// Namespace prefixes keys so several deployments can share a server.
	Namespace string
}

// Client wraps a go-redis Client and provides connectivity helpers.
type Client struct {
	rdb       *redis.Client
	namespace string
}

// New creates a new Redis Client, pings it to verify connectivity, and returns
// the wrapper. It returns an error if the connection cannot be established.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
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

	return Wrap(rdb, cfg.Namespace), nil
}

// Wrap adopts an existing go-redis client.
func Wrap(rdb *redis.Client, namespace string) *Client {
	if namespace == "" {
		namespace = defaultNamespace
	}
	return &Client{rdb: rdb, namespace: namespace}
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

// Underlying returns the raw *redis.Client for sub-packages that need direct
// access to the driver.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}

// Key joins parts under the client's namespace with ':'.
func (c *Client) Key(parts ...string) string {
	return c.namespace + ":" + strings.Join(parts, ":")
}
