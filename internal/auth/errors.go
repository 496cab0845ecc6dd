package auth

import "errors"

var (
	ErrNotFound          = errors.New("auth: not found")
	ErrStoreUnavailable  = errors.New("auth: store unavailable")
	ErrInvalidHashFormat = errors.New("auth: invalid password hash format")
	ErrBadCredentials    = errors.New("auth: bad credentials")
	ErrAccountDisabled   = errors.New("auth: account disabled")
	ErrAccountLocked     = errors.New("auth: account locked")
	ErrAccountExpired    = errors.New("auth: account expired")
	ErrInvalidInput      = errors.New("auth: invalid input")
)
