package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const mintLockKeyPrefix = "certledger:mint-lock:"

// releaseScript deletes the key only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a lease lock shared by every instance: SET NX PX with a
// random owner token. The lease expires after ttl so a crashed holder
// cannot block a certificate forever.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	poll   time.Duration
}

type RedisOption func(*RedisLocker)

// WithPollInterval sets how often a waiter retries.
func WithPollInterval(d time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if d > 0 {
			l.poll = d
		}
	}
}

// NewRedisLocker builds a lease lock. ttl must exceed the longest mint; wait
// bounds how long Acquire blocks.
func NewRedisLocker(client *redis.Client, ttl, wait time.Duration, opts ...RedisOption) *RedisLocker {
	l := &RedisLocker{client: client, ttl: ttl, wait: wait, poll: 50 * time.Millisecond}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := mintLockKeyPrefix + key
	owner := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, redisKey, owner, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire mint lock: %w", err)
		}
		if ok {
			break
		}
		if !time.Now().Before(deadline) {
			return nil, ErrNotAcquired
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.poll):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			// A failed release is bounded by the lease ttl.
			_ = releaseScript.Run(rctx, l.client, []string{redisKey}, owner).Err()
		})
	}, nil
}
