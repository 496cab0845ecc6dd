package auth

import (
	"context"
	"time"
)

// Store describes the credential persistence used by the authenticator.
// Fetch methods are read-only; update methods report affected rows and
// return 0 without error for an unknown user id.
type Store interface {
	FetchByUserID(ctx context.Context, userID string) (*UserRecord, error)
	FetchByUserIDAndTenant(ctx context.Context, userID, tenantID string) (*UserRecord, error)
	FetchRoles(ctx context.Context, userID string) ([]string, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string, updatedAt time.Time) (int64, error)
	UpdateLockState(ctx context.Context, userID string, failedCount int, locked bool) (int64, error)
	// RaiseFailedLogins moves the failed-login count forward to count (it never
	// lowers it) and sets the lock once the resulting count reaches threshold.
	// It never clears a lock. It returns the stored count and lock state, or
	// ErrNotFound for an unknown user id.
	RaiseFailedLogins(ctx context.Context, userID string, count, threshold int) (stored int, locked bool, err error)
}

// AtomicCounter is implemented by stores that can increment the failed-login
// counter and apply the lock threshold in a single operation.
type AtomicCounter interface {
	IncrementFailedLogins(ctx context.Context, userID string, threshold int) (count int, locked bool, err error)
}
