/**
 * @description
 * Per-user serialization for mutating ledger operations. Two concurrent
 * calls for the same user (trial activation, redemption, confirmation)
 * take turns through a Redis lease lock, so well-behaved instances never
 * race. The database-level conditional writes remain the final arbiter;
 * correctness does not depend on the lock alone.
 */
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	userLockTTL        = 10 * time.Second
	userLockRetryDelay = 50 * time.Millisecond
	userLockWait       = 5 * time.Second
)

// releaseLockScript deletes the lock key only if it still holds our token,
// so an expired lease can never release a lock another caller now owns.
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisUserLocker implements per-user mutual exclusion using Redis.
type RedisUserLocker struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisUserLocker creates a locker with the given key prefix.
func NewRedisUserLocker(client redis.UniversalClient, prefix string) *RedisUserLocker {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "animaze:user_lock"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &RedisUserLocker{client: client, prefix: trimmedPrefix}
}

// WithLock runs fn while holding the user's lease. A nil locker or nil
// client degrades to running fn directly (single-instance deployments;
// the conditional SQL writes still guard every once-only transition).
func (l *RedisUserLocker) WithLock(ctx context.Context, userID uuid.UUID, fn func(ctx context.Context) error) error {
	if l == nil || l.client == nil {
		return fn(ctx)
	}

	key := fmt.Sprintf("%s:%s", l.prefix, userID)
	token := uuid.NewString()

	deadline := time.Now().Add(userLockWait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, userLockTTL).Result()
		if err != nil {
			return fmt.Errorf("failed to acquire user lock: %w", err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for user lock %s", key)
		}
		select {
		case <-time.After(userLockRetryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	defer func() {
		// Release errors only matter operationally; the TTL bounds the damage.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = releaseLockScript.Run(releaseCtx, l.client, []string{key}, token).Result()
	}()

	return fn(ctx)
}
