package redisx

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

type Locker struct{ c *redislock.Client }

func NewLocker(rdb *redis.Client) *Locker {
	return &Locker{c: redislock.New(rdb)}
}

// TryLock makes a single attempt; ok is false when someone else holds key.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	lock, err := l.c.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return lock.Release, true, nil
}
