// File: internal/infra/redis/lock.go
package redis

import (
	"context"
	"time"

	"telegram-image-gen/internal/domain"
	"telegram-image-gen/internal/domain/ports/repository"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var _ repository.Locker = (*RedisLocker)(nil)

// RedisLocker implements the per-task lease: SETNX with TTL, released by the
// holder's token via a compare-and-delete script. TryLock is a single
// attempt; a held lease means the caller skips, it never waits.
type RedisLocker struct {
	cli *redis.Client
}

func NewLocker(c interface{ Cli() *redis.Client }) *RedisLocker {
	return &RedisLocker{cli: c.Cli()}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := l.cli.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", domain.ErrLockNotAcquired
	}
	return token, nil
}

var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	_, err := luaUnlock.Run(ctx, l.cli, []string{key}, token).Result()
	return err
}

// WebhookLockKey is the lease key guarding reconciliation of one vendor task.
func WebhookLockKey(vendorTaskID string) string {
	return "wb:lock:kie:" + vendorTaskID
}
