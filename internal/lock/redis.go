package lock

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker hands out best-effort distributed locks and dedup markers.
type Locker interface {
	// Acquire takes the named lock for ttl. False means another holder has it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release drops the named lock early.
	Release(ctx context.Context, key string) error
}

// RedisLocker implements Locker with SET NX. Good enough for the sweep
// leader lock and webhook replay markers; correctness never depends on it
// because every state transition is also guarded by a conditional update.
type RedisLocker struct {
	client *redis.Client
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, key, "1", ttl).Result()
}

func (l *RedisLocker) Release(ctx context.Context, key string) error {
	return l.client.Del(ctx, key).Err()
}

var _ Locker = (*RedisLocker)(nil)
