// Package limiters holds redis-backed counters shared across API replicas.
package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLockoutUnavailable indicates the lockout backend is unreachable.
var ErrLockoutUnavailable = errors.New("lockout backend unavailable")

// LockoutConfig holds configuration for the failed-login counter.
type LockoutConfig struct {
	Prefix string
	// Window expires the counter after the first failure; 0 keeps it until Reset.
	Window time.Duration
}

// LockoutLimiter counts failed logins per user with atomic INCR, so concurrent
// failures from several replicas are never lost.
type LockoutLimiter struct {
	redis  redis.UniversalClient
	config LockoutConfig
}

func NewLockoutLimiter(client redis.UniversalClient, cfg LockoutConfig) *LockoutLimiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "lockout:"
	}
	return &LockoutLimiter{redis: client, config: cfg}
}

func (l *LockoutLimiter) key(userID string) string {
	return l.config.Prefix + userID
}

// RecordFailure increments the counter for userID and returns the new count.
func (l *LockoutLimiter) RecordFailure(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, nil
	}
	key := l.key(userID)
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	if count == 1 && l.config.Window > 0 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
		}
	}
	return int(count), nil
}

// Reset clears the counter, after a successful login or a manual unlock.
func (l *LockoutLimiter) Reset(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	if err := l.redis.Del(ctx, l.key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

// FailureCount returns the current count, 0 when no failures are recorded.
func (l *LockoutLimiter) FailureCount(ctx context.Context, userID string) (int, error) {
	count, err := l.redis.Get(ctx, l.key(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return int(count), nil
}

// Ping checks connectivity for readiness probes.
func (l *LockoutLimiter) Ping(ctx context.Context) error {
	if err := l.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}
