package ratelimit

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/balancebook/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("rate.limit",
	fx.Provide(NewRedisClient),
	fx.Provide(NewLedgerLocker),
	fx.Provide(NewLimiter),
)

// NewRedisClient returns nil when REDIS_ADDR is unset; every consumer
// falls back to an in-process implementation.
func NewRedisClient(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				log.Warn("redis unreachable", zap.String("addr", cfg.RedisAddr), zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client
}

// NewLedgerLocker picks the lock backend serializing writes per customer.
// A nil Locker means writes rely on optimistic versioning alone.
func NewLedgerLocker(cfg config.Config, client *redis.Client) Locker {
	switch cfg.Ledger.LockBackend {
	case "redis":
		if client != nil {
			return NewRedisLocker(client)
		}
		return NewMemoryLocker()
	case "memory":
		return NewMemoryLocker()
	default:
		return nil
	}
}

func NewLimiter(client *redis.Client) Limiter {
	if client != nil {
		return NewTokenBucket(client)
	}
	return NewMemoryBucket()
}
