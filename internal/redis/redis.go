// Package redis provides the shared redis client. The client is optional:
// with no address configured the provider yields nil and dependents fall
// back to uncached operation.
package redis

import (
	"context"

	"github.com/costlane/costlane/internal/config"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewClient(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) *goredis.Client {
	if cfg.Redis.Addr == "" {
		log.Named("redis").Info("no redis address configured, caching disabled")
		return nil
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return client
}

var Module = fx.Module("redis",
	fx.Provide(NewClient),
)
