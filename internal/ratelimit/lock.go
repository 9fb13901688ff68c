package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "iahome:lock:"

// Deletes the key only while it still holds our token.
const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var ErrLockHeld = errors.New("lock_held")

// Locker serializes admin jobs across replicas. A nil Locker runs jobs unlocked.
type Locker struct {
	client *redis.Client
	script *redis.Script
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
	}
}

// WithLock runs fn while holding the named lock, or returns ErrLockHeld.
// The lock is released even when ctx is canceled.
func (l *Locker) WithLock(ctx context.Context, name string, ttl time.Duration, fn func(context.Context) error) error {
	if l == nil || l.client == nil {
		return fn(ctx)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("lock name is empty")
	}
	if ttl <= 0 {
		return errors.New("lock ttl must be positive")
	}

	key := lockKeyPrefix + name
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrLockHeld
	}

	fnErr := fn(ctx)
	if err := l.script.Run(context.WithoutCancel(ctx), l.client, []string{key}, token).Err(); err != nil && fnErr == nil {
		return err
	}
	return fnErr
}
