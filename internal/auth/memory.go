package auth

import (
	"context"
	"slices"
	"sync"
	"time"
)

var (
	_ Store         = (*MemoryStore)(nil)
	_ AtomicCounter = (*MemoryStore)(nil)
)

// MemoryStore is an in-process Store used by tests and local development.
// Records are keyed by user id; Put replaces any record with the same id.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]UserRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]UserRecord)}
}

// Put inserts or replaces a record. Roles are stored alongside the user.
func (s *MemoryStore) Put(rec UserRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Roles = dedupeRoles(rec.Roles)
	s.users[rec.UserID] = rec
}

// Snapshot returns a copy of the stored record for inspection.
func (s *MemoryStore) Snapshot(userID string) (UserRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[userID]
	if !ok {
		return UserRecord{}, false
	}
	return copyRecord(rec), true
}

func (s *MemoryStore) FetchByUserID(ctx context.Context, userID string) (*UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeErr("fetch user", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	out := copyRecord(rec)
	out.Roles = nil
	return &out, nil
}

func (s *MemoryStore) FetchByUserIDAndTenant(ctx context.Context, userID, tenantID string) (*UserRecord, error) {
	rec, err := s.FetchByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) FetchRoles(ctx context.Context, userID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeErr("fetch roles", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	roles := slices.Clone(rec.Roles)
	slices.Sort(roles)
	return roles, nil
}

func (s *MemoryStore) UpdatePassword(ctx context.Context, userID, passwordHash string, updatedAt time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, storeErr("update password", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[userID]
	if !ok {
		return 0, nil
	}
	rec.PasswordHash = passwordHash
	rec.PasswordUpdatedAt = updatedAt
	s.users[userID] = rec
	return 1, nil
}

func (s *MemoryStore) UpdateLockState(ctx context.Context, userID string, failedCount int, locked bool) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, storeErr("update lock state", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[userID]
	if !ok {
		return 0, nil
	}
	rec.FailedLogins = max(failedCount, 0)
	rec.Locked = locked
	s.users[userID] = rec
	return 1, nil
}

func (s *MemoryStore) IncrementFailedLogins(ctx context.Context, userID string, threshold int) (int, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, storeErr("increment failed logins", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[userID]
	if !ok {
		return 0, false, ErrNotFound
	}
	rec.FailedLogins++
	if rec.FailedLogins >= threshold {
		rec.Locked = true
	}
	s.users[userID] = rec
	return rec.FailedLogins, rec.Locked, nil
}

func (s *MemoryStore) RaiseFailedLogins(ctx context.Context, userID string, count, threshold int) (int, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, storeErr("raise failed logins", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[userID]
	if !ok {
		return 0, false, ErrNotFound
	}
	rec.FailedLogins = max(rec.FailedLogins, count)
	if rec.FailedLogins >= threshold {
		rec.Locked = true
	}
	s.users[userID] = rec
	return rec.FailedLogins, rec.Locked, nil
}

func copyRecord(rec UserRecord) UserRecord {
	rec.Roles = slices.Clone(rec.Roles)
	if rec.ExpiresAt != nil {
		exp := *rec.ExpiresAt
		rec.ExpiresAt = &exp
	}
	return rec
}
