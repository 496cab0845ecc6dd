package auth

import "time"

// StatusChecker gates an account whose password has already been verified.
type StatusChecker interface {
	Check(rec *UserRecord, now time.Time) error
}

// AccountStatusChecker applies the checks in a fixed order; the first violation wins.
type AccountStatusChecker struct{}

func (AccountStatusChecker) Check(rec *UserRecord, now time.Time) error {
	if !rec.Enabled {
		return ErrAccountDisabled
	}
	if rec.Locked {
		return ErrAccountLocked
	}
	if rec.ExpiresAt != nil && now.After(*rec.ExpiresAt) {
		return ErrAccountExpired
	}
	return nil
}
