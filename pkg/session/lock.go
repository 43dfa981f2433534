package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotObtained means the lock was still held when ctx ended.
var ErrLockNotObtained = errors.New("lock not obtained")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out short-lived exclusive locks.
type Locker interface {
	Obtain(ctx context.Context, key string) (Unlocker, error)
}

type Unlocker interface {
	Release(ctx context.Context) error
}

// RedisLocker implements Locker with SET NX PX and a compare-and-delete
// release, so a lock that expired and was taken by someone else is never
// released by its previous holder.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

func NewRedisLocker(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisLocker {
	if prefix == "" {
		prefix = "lock"
	}
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl, retry: 25 * time.Millisecond}
}

type redisLock struct {
	client redis.UniversalClient
	key    string
	token  string
}

// Obtain retries until the lock is free or ctx is done.
func (l *RedisLocker) Obtain(ctx context.Context, key string) (Unlocker, error) {
	full := l.prefix + ":" + key
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, full, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s", ErrLockNotObtained, key)
			}
			return nil, fmt.Errorf("obtain lock %s: %w", key, err)
		}
		if ok {
			return &redisLock{client: l.client, key: full, token: token}, nil
		}

		t := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("%w: %s", ErrLockNotObtained, key)
		case <-t.C:
		}
	}
}

func (l *redisLock) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}
