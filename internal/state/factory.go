package state

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ShayCichocki/relay/internal/config"
)

const connectTimeout = 5 * time.Second

// NewSnapshotStore opens the snapshot store named by cfg.Backend.
// SQLite databases are migrated before they are returned.
func NewSnapshotStore(ctx context.Context, cfg config.StorageConfig) (SnapshotStore, error) {
	switch cfg.Backend {
	case "", config.BackendSQLite:
		db, err := OpenWithDriver(cfg.Driver, cfg.Path)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate %s: %w", cfg.Path, err)
		}
		return db, nil

	case config.BackendMemory:
		return NewMemoryStore(), nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Redis.Addr, err)
		}
		return NewRedisStore(client, cfg.Redis.KeyPrefix), nil

	case config.BackendPostgres:
		connCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		return OpenPostgres(connCtx, cfg.Postgres.DSN)

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
