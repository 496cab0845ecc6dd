package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/language"

	"tenantauth.org/internal/audit"
	"tenantauth.org/internal/auth"
)

const (
	tenantHeader = "X-Tenant-ID"
	basicRealm   = `Basic realm="tenantauth", charset="UTF-8"`
)

// BasicAuth authenticates every request from its Authorization header and
// attaches the resulting principal to the request context.
func (a *API) BasicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", basicRealm)
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}
		out := a.authn.Authenticate(r.Context(), auth.Credential{
			UserID:   userID,
			TenantID: r.Header.Get(tenantHeader),
			Password: password,
			Locale:   requestLocale(r),
		})
		if !out.OK() {
			_ = audit.LogEvent(r.Context(), audit.EventLoginFailed,
				zap.String("user_id", strings.TrimSpace(userID)),
				zap.String("reason", out.Kind.String()),
				zap.String("channel", "basic"))
			if out.Kind == auth.KindBadCredentials {
				w.Header().Set("WWW-Authenticate", basicRealm)
			}
			writeErrorKind(w, r, statusForKind(out.Kind), out.Message, out.Kind.String())
			return
		}
		ctx := auth.ContextWithPrincipal(r.Context(), out.Principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole admits principals holding at least one of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, _ := auth.PrincipalFromContext(r.Context())
			err := auth.Authorize(p, roles...)
			switch {
			case err == nil:
				next.ServeHTTP(w, r)
			case errors.Is(err, auth.ErrForbidden):
				_ = audit.LogEvent(r.Context(), audit.EventAccessDenied,
					zap.String("path", r.URL.Path),
					zap.Strings("required_roles", roles))
				w.Header().Set("WWW-Authenticate", basicRealm)
				writeError(w, r, http.StatusForbidden, "insufficient role")
			default:
				w.Header().Set("WWW-Authenticate", basicRealm)
				writeError(w, r, http.StatusUnauthorized, "authentication required")
			}
		})
	}
}

func statusForKind(kind auth.FailureKind) int {
	switch kind {
	case auth.KindBadCredentials:
		return http.StatusUnauthorized
	case auth.KindAccountDisabled, auth.KindAccountLocked, auth.KindAccountExpired:
		return http.StatusForbidden
	default:
		return http.StatusServiceUnavailable
	}
}

// requestLocale takes the first Accept-Language entry; Und lets the
// authenticator fall back to its configured locale.
func requestLocale(r *http.Request) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language"))
	if err != nil || len(tags) == 0 {
		return language.Und
	}
	return tags[0]
}
