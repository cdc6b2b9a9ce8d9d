package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"autocare-platform/pkg/utils"
)

var ErrLocked = errors.New("reconcile: scope locked")

// Locker hands out exclusive, expiring locks by key.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// RedisLocker backs Locker with a Redis lease.
type RedisLocker struct {
	rdb *redis.Client
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker { return &RedisLocker{rdb: rdb} }

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	lease, err := utils.AcquireLease(ctx, l.rdb, key, ttl)
	if errors.Is(err, utils.ErrLeaseHeld) {
		return nil, ErrLocked
	}
	if err != nil {
		return nil, err
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = utils.ReleaseLease(ctx, l.rdb, lease)
	}, nil
}
