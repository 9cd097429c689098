package domain

import (
	"context"
	"time"
)

// MethodLockManager provides distributed mutual exclusion for exchange API
// methods. A lock is keyed by (exchange, method, owner) so that at most one
// caller per owning queue instance touches a given method at a time. Locks
// carry a TTL lease and must be released on every exit path; leases left
// behind by a crashed instance are swept by ReapAll on executor startup.
type MethodLockManager interface {
	// Acquire attempts to take the lock, retrying a bounded number of times
	// with a fixed backoff. It returns ErrLockHeld when the lock could not
	// be obtained, and otherwise an unlock function that is safe to call
	// more than once.
	Acquire(ctx context.Context, exchange, method, owner string, ttl time.Duration) (unlock func(), err error)
	// IsHeld reports whether the lock is currently held by anyone.
	IsHeld(ctx context.Context, exchange, method, owner string) (bool, error)
	// ReapOwner removes every lock held by the given owner.
	ReapOwner(ctx context.Context, owner string) error
	// ReapAll removes every method lock regardless of owner. Only safe when
	// no other executor instance is alive.
	ReapAll(ctx context.Context) error
}

// RateLimiter enforces per-exchange API request ceilings with a sliding
// window. Calls are skipped, not queued, when a ceiling is reached; the
// window doubles as the API access-time log.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
