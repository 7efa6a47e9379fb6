// Package redislock elects a single expiry sweeper across server instances.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nestfind/nestfind/internal/application/expiry"
)

// ErrNotAcquired is returned when the lock is still held when ctx ends.
var ErrNotAcquired = errors.New("lock not acquired")

const retryInterval = 100 * time.Millisecond

// release deletes the key only if it still holds our token.
var release = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Locker implements expiry.Locker with SET NX PX.
type Locker struct {
	client *redis.Client
	prefix string
}

func New(client *redis.Client, prefix string) *Locker {
	return &Locker{client: client, prefix: prefix}
}

// Lock tries immediately and then polls until ctx is done.
func (l *Locker) Lock(ctx context.Context, key string, ttl time.Duration) (expiry.UnlockFunc, error) {
	lockKey := l.prefix + "lock:" + key
	token := uuid.NewString()

	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("acquire %s: %w", lockKey, err)
		}
		if ok {
			return func(ctx context.Context) error {
				return release.Run(ctx, l.client, []string{lockKey}, token).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrNotAcquired, key)
		case <-ticker.C:
		}
	}
}
