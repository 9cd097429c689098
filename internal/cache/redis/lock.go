package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/arbot/internal/domain"
)

// unlockLua deletes a lock key only if its value matches the caller's unique
// token. This prevents one holder from accidentally releasing another
// holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

const (
	// acquireAttempts bounds how many times Acquire retries before giving up
	// with domain.ErrLockHeld.
	acquireAttempts = 5

	// acquireBackoff is the fixed delay between acquisition attempts.
	acquireBackoff = 200 * time.Millisecond
)

// MethodLockManager implements domain.MethodLockManager using Redis SETNX
// with a TTL lease and a Lua-based conditional unlock.
type MethodLockManager struct {
	rdb      *redis.Client
	unlockSc *redis.Script
}

// NewMethodLockManager creates a MethodLockManager backed by the given Client.
func NewMethodLockManager(c *Client) *MethodLockManager {
	return &MethodLockManager{
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
	}
}

func methodLockKey(exchange, method, owner string) string {
	return "method_lock:" + exchange + ":" + method + ":" + owner
}

// Acquire attempts to obtain the method lock, retrying a bounded number of
// times with a fixed backoff. On success it returns an unlock function that
// must be called to release the lock; the function is safe to call more than
// once. It returns domain.ErrLockHeld when every attempt finds the lock
// taken.
func (lm *MethodLockManager) Acquire(ctx context.Context, exchange, method, owner string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	key := methodLockKey(exchange, method, owner)

	for attempt := 0; attempt < acquireAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("redis: acquire %s: %w", key, ctx.Err())
			case <-time.After(acquireBackoff):
			}
		}

		ok, err := lm.rdb.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: acquire %s: %w", key, err)
		}
		if !ok {
			continue
		}

		released := false
		unlock := func() {
			if released {
				return
			}
			released = true

			// Use a background context so unlock succeeds even if the
			// caller's context is already cancelled.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			_ = lm.unlockSc.Run(unlockCtx, lm.rdb, []string{key}, token).Err()
		}
		return unlock, nil
	}

	return nil, domain.ErrLockHeld
}

// IsHeld reports whether the lock is currently held.
func (lm *MethodLockManager) IsHeld(ctx context.Context, exchange, method, owner string) (bool, error) {
	key := methodLockKey(exchange, method, owner)
	n, err := lm.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis: check %s: %w", key, err)
	}
	return n > 0, nil
}

// ReapOwner removes every method lock held by the given owner. Called on
// graceful shutdown to release the instance's own leases.
func (lm *MethodLockManager) ReapOwner(ctx context.Context, owner string) error {
	return lm.reapPattern(ctx, "method_lock:*:*:"+owner)
}

// ReapAll removes every method lock regardless of owner. Called on startup,
// after confirming no other instance is alive, to clear leases left behind by
// a crashed predecessor.
func (lm *MethodLockManager) ReapAll(ctx context.Context) error {
	return lm.reapPattern(ctx, "method_lock:*")
}

func (lm *MethodLockManager) reapPattern(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		keys, next, err := lm.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("redis: scan locks %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			if err := lm.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis: reap locks %s: %w", pattern, err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Compile-time interface check.
var _ domain.MethodLockManager = (*MethodLockManager)(nil)
