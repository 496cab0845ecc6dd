package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"go.uber.org/zap"

	"tenantauth.org/internal/auth"
	"tenantauth.org/internal/obs"
)

// Authenticator is the slice of auth.Authenticator the HTTP layer calls.
type Authenticator interface {
	Authenticate(ctx context.Context, cred auth.Credential) auth.Outcome
	ChangePassword(ctx context.Context, userID, newPassword string) error
	Unlock(ctx context.Context, tenantID, userID string) error
}

// ReadyProbe checks backing services, typically the credential database.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP surface over the authenticator.
type API struct {
	mux            *http.ServeMux
	authn          Authenticator
	readyProbe     ReadyProbe
	version        string
	passwordMaxAge time.Duration
	now            func() time.Time
	logger         *zap.Logger

	rateBurst    int
	ratePerSec   int
	maxBodyBytes int64
	proxies      TrustedProxies
}

// Option configures the API.
type Option func(*API)

func WithReadyProbe(rp ReadyProbe) Option { return func(a *API) { a.readyProbe = rp } }

func WithVersion(v string) Option { return func(a *API) { a.version = v } }

// WithPasswordMaxAge flags logins whose password is older than d. Zero disables it.
func WithPasswordMaxAge(d time.Duration) Option { return func(a *API) { a.passwordMaxAge = d } }

// WithRateLimit sets the per-IP token bucket applied to credential endpoints.
func WithRateLimit(perSecond, burst int) Option {
	return func(a *API) {
		if perSecond > 0 && burst > 0 {
			a.ratePerSec, a.rateBurst = perSecond, burst
		}
	}
}

// WithTrustedProxies makes the API take client addresses from X-Forwarded-For
// on requests arriving from these networks.
func WithTrustedProxies(p TrustedProxies) Option { return func(a *API) { a.proxies = p } }

func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.logger = l
		}
	}
}

func WithClock(fn func() time.Time) Option {
	return func(a *API) {
		if fn != nil {
			a.now = fn
		}
	}
}

func New(authn Authenticator, opts ...Option) *API {
	a := &API{
		mux:          http.NewServeMux(),
		authn:        authn,
		version:      "dev",
		now:          time.Now,
		logger:       obs.Logger(),
		rateBurst:    10,
		ratePerSec:   5,
		maxBodyBytes: 1 << 20,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mux.Handle("/healthz", obs.Instrument("/healthz", http.HandlerFunc(a.Healthz)))
	a.mux.Handle("/readyz", obs.Instrument("/readyz", http.HandlerFunc(a.Ready)))
	a.mux.Handle("/metrics", obs.Handler())

	limited := func(h http.Handler) http.Handler { return RateLimit(h, a.rateBurst, a.ratePerSec, a.proxies) }
	a.route("/v1/auth/login", limited(http.HandlerFunc(a.handleLogin)))
	a.route("/v1/auth/password", limited(a.BasicAuth(http.HandlerFunc(a.handleChangePassword))))
	a.route("/v1/me", a.BasicAuth(http.HandlerFunc(a.handleMe)))
	a.route("/v1/admin/ping", a.BasicAuth(RequireRole("ADMIN")(http.HandlerFunc(a.handleAdminPing))))
	a.route("/v1/admin/unlock", a.BasicAuth(RequireRole("ADMIN")(http.HandlerFunc(a.handleUnlock))))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	return a
}

func (a *API) route(path string, h http.Handler) {
	a.mux.Handle(path, obs.Instrument(path, h))
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = SecurityHeaders(h)
	h = LoggingJSON(a.logger, a.proxies)(h)
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "tenantauth",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		a.logger.Warn("readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}
