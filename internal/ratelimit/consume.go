package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/iahome/internal/config"
)

const keyConsumeUser = "tokens:consume:user:%s"

// ConsumeLimiter throttles token consumption per user.
type ConsumeLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

// NewConsumeLimiter returns nil when consumption limiting is disabled.
func NewConsumeLimiter(cfg config.Config, client *redis.Client) (*ConsumeLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.ConsumeEnabled {
		return nil, nil
	}
	if client == nil {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.ConsumeRate <= 0 || limitCfg.ConsumeBurst <= 0 {
		return nil, errors.New("consume rate limit must be positive")
	}
	return &ConsumeLimiter{
		bucket: NewTokenBucket(client),
		rate:   limitCfg.ConsumeRate,
		burst:  limitCfg.ConsumeBurst,
	}, nil
}

func (l *ConsumeLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow always admits when the limiter is disabled.
func (l *ConsumeLimiter) Allow(ctx context.Context, userID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyConsumeUser, strings.ToLower(strings.TrimSpace(userID)))
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}
