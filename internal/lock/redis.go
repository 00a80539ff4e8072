package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var ErrLockNotAcquired = errors.New("lock not acquired")

// RedisLocker implements Locker with SET NX PX. The TTL bounds how long a crashed
// holder can block others, so it must exceed the longest verification.
type RedisLocker struct {
	client  redis.UniversalClient
	prefix  string
	ttl     time.Duration
	backoff time.Duration
	maxWait time.Duration
}

func NewRedisLocker(client redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLocker{
		client:  client,
		prefix:  "chainproof:lock:",
		ttl:     ttl,
		backoff: 50 * time.Millisecond,
		maxWait: time.Second,
	}
}

func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	k := r.prefix + key
	token := uuid.NewString()
	wait := r.backoff
	for {
		ok, err := r.client.SetNX(ctx, k, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrLockNotAcquired, key, ctx.Err())
		case <-time.After(wait):
		}
		if wait *= 2; wait > r.maxWait {
			wait = r.maxWait
		}
	}

	return func() {
		// 使用独立 context，请求取消后仍需释放锁
		rctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = releaseScript.Run(rctx, r.client, []string{k}, token).Err()
	}, nil
}
