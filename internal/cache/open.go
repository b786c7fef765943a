package cache

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/any-hub/shell-cache/internal/config"
)

// OpenStorage 根据 StorageDriver 构建对应的存储后端，整个进程复用一份实例。
func OpenStorage(ctx context.Context, cfg config.GlobalConfig) (Storage, error) {
	switch cfg.StorageDriver {
	case config.DriverFS, "":
		return NewFileStorage(cfg.StoragePath)
	case config.DriverSQLite:
		return NewSQLiteStorage(filepath.Join(cfg.StoragePath, "shell-cache.db"))
	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return NewRedisStorage(client, cfg.RedisPrefix), nil
	case config.DriverMemory:
		return NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.StorageDriver)
	}
}
