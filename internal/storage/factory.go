package storage

import (
	"context"
	"fmt"

	"ratelimiter/internal/models"

	"github.com/redis/go-redis/v9"
)

// New instantiates a counter store based on the provided configuration.
// Supported types:
//   - memory: in-process map (single instance only)
//   - redis: shared counters with a server-side fixed-window script
//   - postgres: shared counters in a PostgreSQL table
//   - sqlite: counters in a local SQLite file
func New(ctx context.Context, config models.StoreConfig) (CounterStore, error) {
	switch config.Type {
	case models.StoreTypeMemory:
		return NewMemoryStore(), nil
	case models.StoreTypeRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
			PoolSize: config.Redis.PoolSize,
		})
		store, err := NewRedisStore(ctx, client, config.Redis.KeyPrefix)
		if err != nil {
			client.Close()
			return nil, err
		}
		return store, nil
	case models.StoreTypePostgres:
		return NewPostgresStore(ctx, config.Database)
	case models.StoreTypeSQLite:
		return NewSQLiteStore(ctx, config.Database)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}
}

// SupportedTypes returns every store type New accepts.
func SupportedTypes() []string {
	return []string{models.StoreTypeMemory, models.StoreTypeRedis, models.StoreTypePostgres, models.StoreTypeSQLite}
}
