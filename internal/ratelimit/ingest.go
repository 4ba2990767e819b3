package ratelimit

import (
	"context"
	"fmt"
	"strings"

	"github.com/huddlehq/metering/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const (
	keyIngestUser     = "metering:ingest:user:%s"
	keyIngestEndpoint = "metering:ingest:endpoint:%s"
)

// IngestLimiter throttles the webhook and usage API endpoints. A nil or
// disabled limiter allows everything.
type IngestLimiter struct {
	enabled bool
	bucket  *TokenBucket

	userRate      float64
	userBurst     int
	endpointRate  float64
	endpointBurst int
}

func NewIngestLimiter(cfg config.Config, client *redis.Client) *IngestLimiter {
	if !cfg.RateLimit.Enabled || client == nil {
		return nil
	}
	return &IngestLimiter{
		enabled:       true,
		bucket:        NewTokenBucket(client),
		userRate:      cfg.RateLimit.UserRate,
		userBurst:     cfg.RateLimit.UserBurst,
		endpointRate:  cfg.RateLimit.EndpointRate,
		endpointBurst: cfg.RateLimit.EndpointBurst,
	}
}

func (l *IngestLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *IngestLimiter) AllowUser(ctx context.Context, userID string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyIngestUser, strings.TrimSpace(userID)), l.userRate, l.userBurst)
}

func (l *IngestLimiter) AllowEndpoint(ctx context.Context, endpoint string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyIngestEndpoint, strings.TrimSpace(endpoint)), l.endpointRate, l.endpointBurst)
}
