package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/language"

	"tenantauth.org/internal/messages"
)

const defaultStoreTimeout = 3 * time.Second

// Recorder observes authentication outcomes, typically for metrics.
type Recorder interface {
	ObserveAttempt(kind FailureKind, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveAttempt(FailureKind, time.Duration) {}

// Authenticator verifies credentials against a Store. It holds no per-request
// state and is safe for concurrent use.
type Authenticator struct {
	store        Store
	hasher       Hasher
	checker      StatusChecker
	tracker      Tracker
	messages     messages.Source
	locale       language.Tag
	now          func() time.Time
	storeTimeout time.Duration
	logger       *zap.Logger
	recorder     Recorder

	dummyOnce sync.Once
	dummyHash string
}

// Option configures Authenticator behavior.
type Option func(*Authenticator) error

// WithStatusChecker replaces the default account status checker.
func WithStatusChecker(c StatusChecker) Option {
	return func(a *Authenticator) error {
		if c == nil {
			return errors.New("auth: status checker is nil")
		}
		a.checker = c
		return nil
	}
}

// WithTracker sets the failed-login tracker. Defaults to a StoreTracker on the same store.
func WithTracker(t Tracker) Option {
	return func(a *Authenticator) error {
		if t == nil {
			return errors.New("auth: tracker is nil")
		}
		a.tracker = t
		return nil
	}
}

// WithMessages sets the message source used for failure messages.
func WithMessages(src messages.Source) Option {
	return func(a *Authenticator) error {
		if src != nil {
			a.messages = src
		}
		return nil
	}
}

// WithLocale sets the locale used when a credential carries none.
func WithLocale(tag language.Tag) Option {
	return func(a *Authenticator) error {
		a.locale = tag
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(a *Authenticator) error {
		if fn != nil {
			a.now = fn
		}
		return nil
	}
}

// WithStoreTimeout bounds every individual store call.
func WithStoreTimeout(d time.Duration) Option {
	return func(a *Authenticator) error {
		if d <= 0 {
			return fmt.Errorf("auth: store timeout must be positive, got %s", d)
		}
		a.storeTimeout = d
		return nil
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(a *Authenticator) error {
		if l != nil {
			a.logger = l
		}
		return nil
	}
}

func WithRecorder(r Recorder) Option {
	return func(a *Authenticator) error {
		if r != nil {
			a.recorder = r
		}
		return nil
	}
}

// NewAuthenticator wires the authenticator from its collaborators.
func NewAuthenticator(store Store, hasher Hasher, opts ...Option) (*Authenticator, error) {
	if store == nil {
		return nil, errors.New("auth: store is nil")
	}
	if hasher == nil {
		return nil, errors.New("auth: hasher is nil")
	}
	a := &Authenticator{
		store:        store,
		hasher:       hasher,
		checker:      AccountStatusChecker{},
		messages:     messages.Default(),
		locale:       language.English,
		now:          time.Now,
		storeTimeout: defaultStoreTimeout,
		logger:       zap.NewNop(),
		recorder:     nopRecorder{},
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	if a.tracker == nil {
		a.tracker = NewStoreTracker(store, DefaultLockoutThreshold, a.logger)
	}
	return a, nil
}

// Authenticate verifies cred and returns either a principal or a typed failure.
// It never returns an error: every failure is folded into the Outcome.
func (a *Authenticator) Authenticate(ctx context.Context, cred Credential) Outcome {
	start := time.Now()
	out := a.authenticate(ctx, cred)
	a.recorder.ObserveAttempt(out.Kind, time.Since(start))
	return out
}

func (a *Authenticator) authenticate(ctx context.Context, cred Credential) Outcome {
	userID := strings.TrimSpace(cred.UserID)
	tenantID := strings.TrimSpace(cred.TenantID)
	locale := cred.Locale
	if locale == language.Und {
		locale = a.locale
	}
	log := a.logger.With(zap.String("user_id", userID), zap.String("tenant_id", tenantID))

	if userID == "" || cred.Password == "" {
		return a.fail(KindBadCredentials, locale)
	}

	rec, err := a.fetchUser(ctx, userID, tenantID)
	if errors.Is(err, ErrNotFound) {
		a.equalizeTiming(cred.Password)
		return a.fail(KindBadCredentials, locale)
	}
	if err != nil {
		log.Error("credential lookup failed", zap.String("stage", "fetch_user"), zap.Error(err))
		return a.fail(KindStoreUnavailable, locale)
	}

	roles, err := a.fetchRoles(ctx, rec.UserID)
	if err != nil {
		log.Error("role lookup failed", zap.String("stage", "fetch_roles"), zap.Error(err))
		return a.fail(KindStoreUnavailable, locale)
	}
	rec.Roles = roles

	ok, err := a.hasher.Verify(cred.Password, rec.PasswordHash)
	if err != nil {
		log.Error("stored password hash is unusable", zap.String("stage", "verify"), zap.Error(err))
		return a.fail(KindStoreUnavailable, locale)
	}
	if !ok {
		if err := a.recordFailure(ctx, rec.UserID); err != nil {
			log.Error("failed login was not recorded", zap.String("stage", "record_failure"), zap.Error(err))
		}
		return a.fail(KindBadCredentials, locale)
	}

	now := a.now()
	if err := a.checker.Check(rec, now); err != nil {
		return a.fail(violationKind(err), locale)
	}

	if rec.FailedLogins > 0 || a.countsExternally() {
		if err := a.resetFailures(ctx, rec.UserID); err != nil {
			log.Error("failed login counter was not reset", zap.String("stage", "reset_failures"), zap.Error(err))
			return a.fail(KindStoreUnavailable, locale)
		}
		rec.FailedLogins = 0
	}

	return success(NewPrincipal(rec, now))
}

// ChangePassword stores a new hash for userID and stamps the update time.
func (a *Authenticator) ChangePassword(ctx context.Context, userID, newPassword string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	hash, err := a.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, a.storeTimeout)
	defer cancel()
	n, err := a.store.UpdatePassword(ctx, userID, hash, a.now().UTC())
	if err != nil {
		return asUnavailable(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Unlock clears the lock flag and failed-login counter. It is the administrative
// counterpart of automatic lockout. A non-empty tenantID restricts the target to
// that tenant; a user outside it is reported as ErrNotFound.
func (a *Authenticator) Unlock(ctx context.Context, tenantID, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	ctx, cancel := context.WithTimeout(ctx, a.storeTimeout)
	defer cancel()
	if tenantID != "" {
		if _, err := a.store.FetchByUserIDAndTenant(ctx, userID, tenantID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrNotFound
			}
			return asUnavailable(err)
		}
	}
	n, err := a.store.UpdateLockState(ctx, userID, 0, false)
	if err != nil {
		return asUnavailable(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	if a.countsExternally() {
		if err := a.tracker.Reset(ctx, userID); err != nil {
			return asUnavailable(err)
		}
	}
	return nil
}

func (a *Authenticator) countsExternally() bool {
	ext, ok := a.tracker.(ExternalCounter)
	return ok && ext.CountsExternally()
}

func (a *Authenticator) fetchUser(ctx context.Context, userID, tenantID string) (*UserRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, a.storeTimeout)
	defer cancel()
	var (
		rec *UserRecord
		err error
	)
	if tenantID != "" {
		rec, err = a.store.FetchByUserIDAndTenant(ctx, userID, tenantID)
	} else {
		rec, err = a.store.FetchByUserID(ctx, userID)
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, asUnavailable(err)
	}
	return rec, nil
}

func (a *Authenticator) fetchRoles(ctx context.Context, userID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.storeTimeout)
	defer cancel()
	roles, err := a.store.FetchRoles(ctx, userID)
	if err != nil {
		return nil, asUnavailable(err)
	}
	return dedupeRoles(roles), nil
}

func (a *Authenticator) recordFailure(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, a.storeTimeout)
	defer cancel()
	return a.tracker.RecordFailedAttempt(ctx, userID)
}

func (a *Authenticator) resetFailures(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, a.storeTimeout)
	defer cancel()
	return a.tracker.Reset(ctx, userID)
}

// equalizeTiming spends one hash verification on unknown users so response
// time does not reveal whether the user id exists.
func (a *Authenticator) equalizeTiming(password string) {
	a.dummyOnce.Do(func() {
		hash, err := a.hasher.Hash("tenantauth-timing-equalizer")
		if err != nil {
			a.logger.Warn("timing equalizer hash unavailable", zap.Error(err))
			return
		}
		a.dummyHash = hash
	})
	if a.dummyHash != "" {
		_, _ = a.hasher.Verify(password, a.dummyHash)
	}
}

func (a *Authenticator) fail(kind FailureKind, locale language.Tag) Outcome {
	return failure(kind, a.messages.Lookup(messageKey(kind), locale))
}

func messageKey(kind FailureKind) string {
	switch kind {
	case KindAccountDisabled:
		return messages.KeyAccountDisabled
	case KindAccountLocked:
		return messages.KeyAccountLocked
	case KindAccountExpired:
		return messages.KeyAccountExpired
	case KindStoreUnavailable:
		return messages.KeyStoreUnavailable
	default:
		return messages.KeyBadCredentials
	}
}

func violationKind(err error) FailureKind {
	switch {
	case errors.Is(err, ErrAccountDisabled):
		return KindAccountDisabled
	case errors.Is(err, ErrAccountLocked):
		return KindAccountLocked
	case errors.Is(err, ErrAccountExpired):
		return KindAccountExpired
	default:
		return KindStoreUnavailable
	}
}

func asUnavailable(err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
