package storage

import (
	"context"
	"fmt"
	"github.com/antluqmol1/openid-authentication/internal/api/portal/session"
	"github.com/antluqmol1/openid-authentication/internal/api/portal/session/storage/cache"
	"github.com/antluqmol1/openid-authentication/internal/api/portal/session/storage/inmem"
	"github.com/antluqmol1/openid-authentication/internal/api/portal/session/storage/postgres"
	"github.com/antluqmol1/openid-authentication/internal/api/portal/session/storage/redis"
	"github.com/antluqmol1/openid-authentication/internal/config"
	goredis "github.com/redis/go-redis/v9"
	"time"
)

// Open creates the session storage driver selected by the configuration.
// Remote drivers are only wrapped by an in-memory cache if a cache expiry is configured. The cache is not shared
// between processes, so it must stay disabled when several instances use the same storage.
func Open(ctx context.Context, cfg *config.Config) (session.Storage, error) {
	switch cfg.SessionStorage {
	case config.SessionStorageInMemory:
		return inmem.New()
	case config.SessionStoragePostgres:
		driver := postgres.New(cfg.PostgresDSN)
		if err := driver.Initialize(ctx); err != nil {
			return nil, fmt.Errorf("could not initialize the postgres session storage: %w", err)
		}
		return withCache(driver, cfg.SessionCacheExpiry), nil
	case config.SessionStorageRedis:
		driver, err := redis.New(ctx, &goredis.Options{
			Addr:     cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("could not connect to the redis session storage: %w", err)
		}
		return withCache(driver, cfg.SessionCacheExpiry), nil
	default:
		return nil, fmt.Errorf("unknown session storage '%s'", cfg.SessionStorage)
	}
}

func withCache(driver session.Storage, expiry time.Duration) session.Storage {
	if expiry <= 0 {
		return driver
	}
	return cache.New(driver, expiry)
}
