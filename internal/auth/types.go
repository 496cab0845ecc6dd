package auth

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/language"
)

// UserRecord is a snapshot of a stored account, loaded fresh for every attempt.
type UserRecord struct {
	UserID            string
	TenantID          string
	PasswordHash      string
	PasswordUpdatedAt time.Time
	FailedLogins      int
	Locked            bool
	Enabled           bool
	ExpiresAt         *time.Time
	DisplayName       string
	Email             string
	Roles             []string
}

// Credential carries one login attempt. It must never be persisted or logged.
type Credential struct {
	UserID   string
	TenantID string
	Password string
	Locale   language.Tag
}

// String redacts the password so a Credential is safe in fmt verbs.
func (c Credential) String() string {
	return fmt.Sprintf("Credential{UserID:%q TenantID:%q Password:<redacted>}", c.UserID, c.TenantID)
}

// GoString backs %#v with the same redaction as String.
func (c Credential) GoString() string { return c.String() }

// Principal is the identity returned after a successful authentication.
type Principal struct {
	UserID            string     `json:"user_id"`
	TenantID          string     `json:"tenant_id"`
	DisplayName       string     `json:"display_name"`
	Email             string     `json:"email"`
	Roles             []string   `json:"roles"`
	Enabled           bool       `json:"enabled"`
	Locked            bool       `json:"locked"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	PasswordUpdatedAt time.Time  `json:"password_updated_at"`
	AuthenticatedAt   time.Time  `json:"authenticated_at"`
}

// NewPrincipal copies the identity fields out of rec so the result shares no state with it.
func NewPrincipal(rec *UserRecord, at time.Time) Principal {
	p := Principal{
		UserID:            rec.UserID,
		TenantID:          rec.TenantID,
		DisplayName:       rec.DisplayName,
		Email:             rec.Email,
		Roles:             slices.Clone(rec.Roles),
		Enabled:           rec.Enabled,
		Locked:            rec.Locked,
		PasswordUpdatedAt: rec.PasswordUpdatedAt,
		AuthenticatedAt:   at,
	}
	if rec.ExpiresAt != nil {
		exp := *rec.ExpiresAt
		p.ExpiresAt = &exp
	}
	return p
}

// HasRole reports whether the principal carries role. Comparison is case-insensitive.
func (p Principal) HasRole(role string) bool {
	role = strings.TrimSpace(role)
	if role == "" {
		return false
	}
	for _, r := range p.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// PasswordExpired reports whether the password is older than maxAge at now.
// A non-positive maxAge disables the check.
func (p Principal) PasswordExpired(maxAge time.Duration, now time.Time) bool {
	if maxAge <= 0 || p.PasswordUpdatedAt.IsZero() {
		return false
	}
	return now.Sub(p.PasswordUpdatedAt) > maxAge
}

// FailureKind classifies a failed authentication.
type FailureKind int

const (
	KindNone FailureKind = iota
	KindBadCredentials
	KindAccountDisabled
	KindAccountLocked
	KindAccountExpired
	KindStoreUnavailable
)

func (k FailureKind) String() string {
	switch k {
	case KindNone:
		return "success"
	case KindBadCredentials:
		return "bad_credentials"
	case KindAccountDisabled:
		return "account_disabled"
	case KindAccountLocked:
		return "account_locked"
	case KindAccountExpired:
		return "account_expired"
	case KindStoreUnavailable:
		return "store_unavailable"
	default:
		return "unknown"
	}
}

// Outcome is the tagged result of Authenticate. Principal is only set when Kind is KindNone.
type Outcome struct {
	Principal Principal
	Kind      FailureKind
	Message   string
}

// OK reports whether the outcome is a success.
func (o Outcome) OK() bool { return o.Kind == KindNone }

// Err maps a failed outcome to its sentinel error, or nil on success.
func (o Outcome) Err() error {
	switch o.Kind {
	case KindNone:
		return nil
	case KindBadCredentials:
		return ErrBadCredentials
	case KindAccountDisabled:
		return ErrAccountDisabled
	case KindAccountLocked:
		return ErrAccountLocked
	case KindAccountExpired:
		return ErrAccountExpired
	default:
		return ErrStoreUnavailable
	}
}

func success(p Principal) Outcome { return Outcome{Principal: p} }

func failure(kind FailureKind, msg string) Outcome { return Outcome{Kind: kind, Message: msg} }

func dedupeRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(roles))
	var normalized []string
	for _, role := range roles {
		role = strings.TrimSpace(role)
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		normalized = append(normalized, role)
	}
	return normalized
}
