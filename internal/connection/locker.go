package connection

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serializes token refreshes for a key across service instances.
// In-process callers are already collapsed by singleflight before reaching it.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

type nopLocker struct{}

func (nopLocker) Acquire(context.Context, string, time.Duration) (func(), error) { return func() {}, nil }

var ErrLockTimeout = errors.New("timed out waiting for refresh lock")

// RedisLocker is a SET NX PX lease released by compare-and-delete.
type RedisLocker struct {
	rdb    *redis.Client
	prefix string
	poll   time.Duration
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb, prefix: "lock:refresh:", poll: 50 * time.Millisecond}
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Acquire waits until the lease is free or ctx ends. The lease expires on its own after ttl
// so a crashed holder cannot block refreshes forever.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	k := l.prefix + key
	token := uuid.NewString()
	t := time.NewTicker(l.poll)
	defer t.Stop()
	for {
		ok, err := l.rdb.SetNX(ctx, k, token, ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = releaseScript.Run(ctx, l.rdb, []string{k}, token).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrLockTimeout, ctx.Err())
		case <-t.C:
		}
	}
}
