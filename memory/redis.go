package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// RedisAdapterConfig configures the Redis memory adapter.
type RedisAdapterConfig struct {
	Addr     string
	Password string
	DB       int

	// Prefix namespaces all keys written by this adapter.
	Prefix string

	// TTL expires entries; zero means no expiration.
	TTL time.Duration
}

// RedisAdapter stores memory entries in Redis. Suited to session-scoped
// and other high-churn entries that benefit from expiry.
type RedisAdapter struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// NewRedisAdapter creates a Redis-backed memory adapter.
func NewRedisAdapter(cfg RedisAdapterConfig) *RedisAdapter {
	client := backend.NewClient(&backend.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisAdapterFromClient(client, cfg)
}

// NewRedisAdapterFromClient wraps an existing client, letting callers share
// a connection pool or inject a test server.
func NewRedisAdapterFromClient(client *backend.Client, cfg RedisAdapterConfig) *RedisAdapter {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "toolforge:memory:"
	}
	return &RedisAdapter{
		client: client,
		prefix: prefix,
		ttl:    cfg.TTL,
	}
}

func (a *RedisAdapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := a.client.Get(ctx, a.prefix+key).Bytes()
	if errors.Is(err, backend.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return value, true, nil
}

func (a *RedisAdapter) Set(ctx context.Context, key string, value []byte) error {
	if err := a.client.Set(ctx, a.prefix+key, value, a.ttl).Err(); err != nil {
		return fmt.Errorf("memory: redis set: %w", err)
	}
	return nil
}

func (a *RedisAdapter) Delete(ctx context.Context, key string) error {
	if err := a.client.Del(ctx, a.prefix+key).Err(); err != nil {
		return fmt.Errorf("memory: redis delete: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (a *RedisAdapter) Close() error {
	return a.client.Close()
}

var _ Adapter = (*RedisAdapter)(nil)
