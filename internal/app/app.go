// Package app wires configuration into the stores and clients shared by the
// server and worker binaries.
package app

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"tokoku/internal/cache"
	"tokoku/internal/config"
	"tokoku/internal/store"
	"tokoku/internal/store/memory"
	"tokoku/internal/store/postgres"
	"tokoku/internal/store/sqlite"
)

// Closer releases a resource opened during startup.
type Closer func() error

// OpenRepository selects the store named by STORE_DRIVER. A failing
// configured database is fatal; there is no silent fallback to memory.
func OpenRepository(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Repository, Closer, error) {
	switch cfg.StoreDriver {
	case "", "sqlite":
		db, err := sqlite.New(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite %q: %w", cfg.SQLitePath, err)
		}
		logger.Info("repository: sqlite", zap.String("path", cfg.SQLitePath))
		return db, db.Close, nil
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, nil, fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
		pg, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		logger.Info("repository: postgres")
		return pg, pg.Close, nil
	case "memory":
		logger.Warn("repository: in-memory, data is lost on restart")
		return memory.NewSeeded(logger), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

// OpenListingCache connects to redis when REDIS_ADDR is set. An unreachable
// redis degrades to the noop cache.
func OpenListingCache(ctx context.Context, cfg config.Config, logger *zap.Logger) (cache.ListingCache, Closer) {
	noop := func() error { return nil }
	if cfg.RedisAddr == "" {
		logger.Info("cache: noop")
		return cache.NoopListingCache{}, noop
	}
	redisCache := cache.NewRedisListingCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := redisCache.Ping(ctx); err != nil {
		logger.Warn("redis unavailable, using noop cache", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		_ = redisCache.Close()
		return cache.NoopListingCache{}, noop
	}
	logger.Info("cache: redis", zap.String("addr", cfg.RedisAddr))
	return redisCache, redisCache.Close
}

func RedisOpts(cfg config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
}
