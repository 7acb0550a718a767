package shared

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DealLockKey builds the redis key guarding generation and recompute of one deal.
func DealLockKey(dealID int64) string {
	return fmt.Sprintf("commission:deal:%d:lock", dealID)
}

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a best effort mutual exclusion around per deal writes. The
// database unique constraint on (deal_id, sequence_number) remains the
// authority; the lock only keeps concurrent callers from racing into it.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
}

// NewRedisLocker constructs a locker. ttl bounds how long a crashed holder
// can block others.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl, wait: 5 * time.Second, retry: 50 * time.Millisecond}
}

// WithWait overrides how long Lock waits for a busy key.
func (l *RedisLocker) WithWait(wait time.Duration) *RedisLocker {
	if l != nil {
		l.wait = wait
	}
	return l
}

// Lock acquires key, waiting up to the configured wait. The returned release
// func is always non-nil.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	noop := func() {}
	if l == nil || l.client == nil {
		return noop, nil
	}
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return noop, fmt.Errorf("shared: acquire %s: %w", key, err)
		}
		if ok {
			return func() {
				// Release on a fresh context so a cancelled request still frees the key.
				releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
			}, nil
		}
		if time.Now().After(deadline) {
			return noop, fmt.Errorf("%w: %s", ErrLockHeld, key)
		}
		select {
		case <-ctx.Done():
			return noop, ctx.Err()
		case <-time.After(l.retry):
		}
	}
}
