package memory

import (
	"context"
	"strings"
)

// Config selects the durable memory backend. A zero Config means
// unconfigured: the store substitutes the in-process adapter.
type Config struct {
	// Driver is "sqlite", "redis", or "" (unconfigured).
	Driver string

	SQLite SQLiteAdapterConfig
	Redis  RedisAdapterConfig
}

// NewFactory builds a Factory from config. An empty driver returns nil,
// which NewStore treats as "fall back to the ephemeral adapter".
func NewFactory(cfg Config) Factory {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "sqlite":
		return FactoryFunc(func(ctx context.Context) (Adapter, error) {
			return NewSQLiteAdapter(cfg.SQLite)
		})
	case "redis":
		return FactoryFunc(func(ctx context.Context) (Adapter, error) {
			return NewRedisAdapter(cfg.Redis), nil
		})
	default:
		return nil
	}
}
