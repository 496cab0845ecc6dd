package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"tenantauth.org/internal/audit"
	"tenantauth.org/internal/auth"
)

const (
	minPasswordLen = 8
	// bcrypt ignores input past 72 bytes.
	maxPasswordBytes = 72
)

type loginRequest struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id,omitempty"`
	Password string `json:"password"`
}

type loginResponse struct {
	Principal              auth.Principal `json:"principal"`
	PasswordChangeRequired bool           `json:"password_change_required"`
}

type changePasswordRequest struct {
	NewPassword string `json:"new_password"`
}

type unlockRequest struct {
	UserID string `json:"user_id"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.TenantID) == "" {
		req.TenantID = r.Header.Get(tenantHeader)
	}

	out := a.authn.Authenticate(r.Context(), auth.Credential{
		UserID:   req.UserID,
		TenantID: req.TenantID,
		Password: req.Password,
		Locale:   requestLocale(r),
	})
	if !out.OK() {
		_ = audit.LogEvent(r.Context(), audit.EventLoginFailed,
			zap.String("user_id", strings.TrimSpace(req.UserID)),
			zap.String("tenant_id", strings.TrimSpace(req.TenantID)),
			zap.String("reason", out.Kind.String()),
			zap.String("channel", "login"))
		writeErrorKind(w, r, statusForKind(out.Kind), out.Message, out.Kind.String())
		return
	}

	ctx := auth.ContextWithPrincipal(r.Context(), out.Principal)
	changeRequired := out.Principal.PasswordExpired(a.passwordMaxAge, a.now())
	_ = audit.LogEvent(ctx, audit.EventLoginSucceeded,
		zap.String("tenant_id", out.Principal.TenantID),
		zap.Bool("password_change_required", changeRequired))

	writeJSON(w, http.StatusOK, loginResponse{
		Principal:              out.Principal,
		PasswordChangeRequired: changeRequired,
	})
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if msg := validateNewPassword(req.NewPassword); msg != "" {
		writeError(w, r, http.StatusBadRequest, msg)
		return
	}

	if err := a.authn.ChangePassword(r.Context(), userID, req.NewPassword); err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventPasswordChanged)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Principal:              p,
		PasswordChangeRequired: p.PasswordExpired(a.passwordMaxAge, a.now()),
	})
}

func (a *API) handleAdminPing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	userID, _ := auth.UserIDFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "user_id": userID})
}

func (a *API) handleUnlock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req unlockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	target := strings.TrimSpace(req.UserID)
	if target == "" {
		writeError(w, r, http.StatusBadRequest, "user_id is required")
		return
	}
	// Administrators only manage accounts of their own tenant.
	admin, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := a.authn.Unlock(r.Context(), admin.TenantID, target); err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventAccountUnlocked, zap.String("target_user_id", target))
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "invalid input")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "user not found")
	default:
		a.logger.Error("credential update failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, "credential store unavailable")
	}
}

func validateNewPassword(pw string) string {
	switch {
	case utf8.RuneCountInString(pw) < minPasswordLen:
		return "new_password must be at least 8 characters"
	case len(pw) > maxPasswordBytes:
		return "new_password must be at most 72 bytes"
	case strings.TrimSpace(pw) != pw:
		return "new_password must not start or end with whitespace"
	default:
		return ""
	}
}
