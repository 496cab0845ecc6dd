package auth

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// DefaultLockoutThreshold is the number of consecutive failures that locks an account.
const DefaultLockoutThreshold = 5

// Tracker records failed password checks and clears them after a successful login.
type Tracker interface {
	RecordFailedAttempt(ctx context.Context, userID string) error
	Reset(ctx context.Context, userID string) error
}

// StoreTracker keeps the failed-login counter in the credential store itself.
//
// When the store implements AtomicCounter the increment and threshold check run as
// one store operation. Otherwise it falls back to a read followed by
// RaiseFailedLogins; two concurrent failures may then both write the same count
// (a lost increment), but the stored count never decreases and a lock set by a
// concurrent attempt is never cleared.
type StoreTracker struct {
	store     Store
	threshold int
	logger    *zap.Logger
}

// NewStoreTracker builds a tracker; a non-positive threshold uses DefaultLockoutThreshold.
func NewStoreTracker(store Store, threshold int, logger *zap.Logger) *StoreTracker {
	if threshold <= 0 {
		threshold = DefaultLockoutThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreTracker{store: store, threshold: threshold, logger: logger}
}

// Threshold returns the configured lockout threshold.
func (t *StoreTracker) Threshold() int { return t.threshold }

func (t *StoreTracker) RecordFailedAttempt(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	if counter, ok := t.store.(AtomicCounter); ok {
		count, locked, err := counter.IncrementFailedLogins(ctx, userID, t.threshold)
		if err != nil {
			return fmt.Errorf("record failed attempt: %w", err)
		}
		t.logLocked(userID, count, locked)
		return nil
	}

	rec, err := t.store.FetchByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("record failed attempt: %w", err)
	}
	count, locked, err := t.store.RaiseFailedLogins(ctx, userID, rec.FailedLogins+1, t.threshold)
	if err != nil {
		return fmt.Errorf("record failed attempt: %w", err)
	}
	t.logLocked(userID, count, locked)
	return nil
}

func (t *StoreTracker) Reset(ctx context.Context, userID string) error {
	if _, err := t.store.UpdateLockState(ctx, userID, 0, false); err != nil {
		return fmt.Errorf("reset failed attempts: %w", err)
	}
	return nil
}

func (t *StoreTracker) logLocked(userID string, count int, locked bool) {
	if locked && count == t.threshold {
		t.logger.Warn("account locked after failed logins",
			zap.String("user_id", userID),
			zap.Int("failed_logins", count),
		)
	}
}

// ExternalCounter is implemented by trackers whose count lives outside the store.
// Such trackers are reset on every successful login and on unlock.
type ExternalCounter interface {
	CountsExternally() bool
}

// FailureCounter is an external atomic counter of failed logins, such as the
// redis-backed limiters.LockoutLimiter.
type FailureCounter interface {
	RecordFailure(ctx context.Context, userID string) (int, error)
	Reset(ctx context.Context, userID string) error
}

// CounterTracker counts failures in a FailureCounter and mirrors the result into
// the store's lock state, which remains the source of truth for the status check.
type CounterTracker struct {
	counter   FailureCounter
	store     Store
	threshold int
	logger    *zap.Logger
}

func NewCounterTracker(counter FailureCounter, store Store, threshold int, logger *zap.Logger) *CounterTracker {
	if threshold <= 0 {
		threshold = DefaultLockoutThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CounterTracker{counter: counter, store: store, threshold: threshold, logger: logger}
}

func (t *CounterTracker) RecordFailedAttempt(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	count, err := t.counter.RecordFailure(ctx, userID)
	if err != nil {
		return fmt.Errorf("record failed attempt: %w", errors.Join(ErrStoreUnavailable, err))
	}
	// Writes from concurrent attempts land in any order; the store keeps the
	// highest count and the lock once set.
	stored, locked, err := t.store.RaiseFailedLogins(ctx, userID, count, t.threshold)
	if err != nil {
		return fmt.Errorf("record failed attempt: %w", err)
	}
	if locked && count == t.threshold {
		t.logger.Warn("account locked after failed logins",
			zap.String("user_id", userID),
			zap.Int("failed_logins", stored),
		)
	}
	return nil
}

// CountsExternally reports that failures are counted outside the store, so a
// zero store count does not mean the counter is clear.
func (t *CounterTracker) CountsExternally() bool { return true }

func (t *CounterTracker) Reset(ctx context.Context, userID string) error {
	if err := t.counter.Reset(ctx, userID); err != nil {
		return fmt.Errorf("reset failed attempts: %w", errors.Join(ErrStoreUnavailable, err))
	}
	if _, err := t.store.UpdateLockState(ctx, userID, 0, false); err != nil {
		return fmt.Errorf("reset failed attempts: %w", err)
	}
	return nil
}
