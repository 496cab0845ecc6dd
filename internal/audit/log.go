// Package audit emits structured audit events for authentication decisions.
package audit

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"tenantauth.org/internal/auth"
	"tenantauth.org/internal/ids"
	"tenantauth.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// Event names.
const (
	EventLoginSucceeded  = "auth.login.succeeded"
	EventLoginFailed     = "auth.login.failed"
	EventPasswordChanged = "auth.password.changed"
	EventAccountUnlocked = "auth.account.unlocked"
	EventAccessDenied    = "auth.access.denied"
)

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id recorded by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry enriched with request and principal context.
// Passwords never reach this function; callers pass identifiers and outcomes only.
func LogEvent(ctx context.Context, event string, fields ...zap.Field) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := make([]zap.Field, 0, len(fields)+4)
	entry = append(entry,
		zap.String("type", "audit"),
		zap.String("event", event),
		zap.String("event_id", ids.New()),
	)
	if rid := RequestIDFromContext(ctx); rid != "" {
		entry = append(entry, zap.String("request_id", rid))
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		entry = append(entry, zap.String("principal", userID))
	}
	entry = append(entry, fields...)
	obs.Logger().Info("audit", entry...)
	return nil
}
