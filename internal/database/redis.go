package database

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/atabank/backend/internal/config"
)

// InitRedis returns nil when Redis is disabled or unreachable; callers treat
// it as optional.
func InitRedis(ctx context.Context, cfg config.RedisConfig, log *zap.Logger) *redis.Client {
	if !cfg.Enabled {
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn("Redis connection failed, continuing without Redis", zap.String("addr", cfg.Addr()), zap.Error(err))
		rdb.Close()
		return nil
	}

	log.Info("Redis connection established", zap.String("addr", cfg.Addr()))
	return rdb
}
