package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

type Config struct {
	Backend     string
	Prefix      string
	SQLitePath  string
	DatabaseURL string
}

// NewStore builds the configured backend. redisClient is only used for the
// redis backend and must already be connected.
func NewStore(ctx context.Context, cfg Config, redisClient *redis.Client) (Store, error) {
	switch cfg.Backend {
	case BackendRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("cache: redis backend requires a client")
		}
		return NewRedisStore(redisClient, RedisConfig{
			Prefix: cfg.Prefix,
		}), nil
	case BackendSQLite:
		return OpenSQLStore(ctx, DriverSQLite, cfg.SQLitePath)
	case BackendPostgres:
		return OpenSQLStore(ctx, DriverPostgres, cfg.DatabaseURL)
	case BackendMemory, "":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("cache: unknown backend %q", cfg.Backend)
	}
}
