package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/iahome/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumeLimiterDisabled(t *testing.T) {
	limiter, err := NewConsumeLimiter(config.Config{}, nil)
	require.NoError(t, err)
	assert.Nil(t, limiter)
	assert.False(t, limiter.Enabled())

	res, err := limiter.Allow(context.Background(), "user@example.com")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestConsumeLimiterRequiresRedis(t *testing.T) {
	cfg := config.Config{RateLimit: config.RateLimitConfig{ConsumeEnabled: true, ConsumeRate: 1, ConsumeBurst: 1}}
	_, err := NewConsumeLimiter(cfg, nil)
	assert.Error(t, err)
}

func TestNilLockerAndBucket(t *testing.T) {
	assert.Nil(t, NewLocker(nil))
	assert.Nil(t, NewTokenBucket(nil))

	var locker *Locker
	ran := false
	err := locker.WithLock(context.Background(), "job", time.Second, func(context.Context) error {
		ran = true
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, ran)

	jobErr := errors.New("boom")
	assert.ErrorIs(t, locker.WithLock(context.Background(), "job", time.Second, func(context.Context) error { return jobErr }), jobErr)

	var bucket *TokenBucket
	res, err := bucket.Allow(context.Background(), "k", 1, 1)
	assert.Error(t, err)
	assert.False(t, res.Allowed)
}

func TestDefaultBucketTTL(t *testing.T) {
	assert.Equal(t, 40*time.Second, defaultBucketTTL(1, 20))
	assert.Equal(t, time.Second, defaultBucketTTL(100, 1))
	assert.Equal(t, time.Second, defaultBucketTTL(0, 1))
}
