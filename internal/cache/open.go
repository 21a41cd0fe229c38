package cache

import (
	"context"

	"github.com/cockroachdb/errors"
)

// Config selects and configures the durable store.
type Config struct {
	Backend       string // "file", "redis", "postgres" or "memory"
	Dir           string
	MemoryEntries int
	Redis         RedisConfig
	PostgresDSN   string
	PostgresTable string
}

// OpenStore connects the configured backend.
func OpenStore(ctx context.Context, config Config) (Store, error) {
	switch config.Backend {
	case "", "file":
		if config.Dir == "" {
			return nil, errors.New("file cache requires a directory")
		}
		return NewFileStore(config.Dir), nil
	case "redis":
		return NewRedisStore(ctx, config.Redis)
	case "postgres":
		return OpenPostgres(ctx, config.PostgresDSN, config.PostgresTable)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, errors.Newf("unknown cache backend %q", config.Backend)
	}
}
