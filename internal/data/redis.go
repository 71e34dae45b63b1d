package data

import (
	"context"
	"fmt"
	"time"

	"leakdetector/internal/conf"
	pkgredis "leakdetector/internal/pkg/redis"

	"github.com/go-kratos/kratos/v2/log"
	redis "github.com/redis/go-redis/v9"
)

// NewRedisCache creates a new Redis cache from configuration. Without an
// address it returns a nil Cache and callers fall back to process memory.
func NewRedisCache(c *conf.Data, logger log.Logger) (pkgredis.Cache, func(), error) {
	helper := log.NewHelper(log.With(logger, "module", "data/redis"))
	if c.Redis.Addr == "" {
		helper.Info("redis not configured, breaker state and thumbnail cache are process local")
		return nil, func() {}, nil
	}

	opts := &redis.Options{
		Addr:     c.Redis.Addr,
		Network:  c.Redis.Network,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	}
	if d := c.Redis.ReadTimeout.AsDuration(); d > 0 {
		opts.ReadTimeout = d
	}
	if d := c.Redis.WriteTimeout.AsDuration(); d > 0 {
		opts.WriteTimeout = d
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		helper.Errorf("failed to connect to Redis at %s: %v", c.Redis.Addr, err)
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	helper.Infof("connected to Redis at %s", c.Redis.Addr)

	cache := pkgredis.NewFromClient(client)
	cleanup := func() {
		helper.Info("closing Redis connection")
		if err := cache.Close(); err != nil {
			helper.Errorf("failed to close Redis: %v", err)
		}
	}
	return cache, cleanup, nil
}
