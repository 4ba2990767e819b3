package ratelimit

import (
	"strings"

	"github.com/huddlehq/metering/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("rate.limit",
	fx.Provide(
		NewRedisClient,
		NewIngestLimiter,
		NewLocker,
	),
)

// NewRedisClient returns nil when redis is not configured; limiter and
// locker degrade to pass-through in that case.
func NewRedisClient(cfg config.Config) *redis.Client {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}
