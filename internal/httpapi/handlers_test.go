package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tenantauth.org/internal/auth"
)

var testNow = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

type apiClient struct {
	baseURL string
	client  *http.Client
	store   *auth.MemoryStore
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	hasher, err := auth.NewBcryptHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	hash := func(pw string) string {
		h, err := hasher.Hash(pw)
		if err != nil {
			t.Fatalf("hash: %v", err)
		}
		return h
	}
	store := auth.NewMemoryStore()
	store.Put(auth.UserRecord{
		UserID: "system", TenantID: "T001", PasswordHash: hash("password"),
		PasswordUpdatedAt: testNow.AddDate(0, 0, -1), Enabled: true,
		Roles: []string{"ADMIN", "GENERAL"},
	})
	store.Put(auth.UserRecord{
		UserID: "sample1", TenantID: "T001", PasswordHash: hash("password"),
		PasswordUpdatedAt: testNow.AddDate(-2, 0, 0), Enabled: true,
		Roles: []string{"GENERAL"},
	})
	store.Put(auth.UserRecord{
		UserID: "sample2", TenantID: "T001", PasswordHash: hash("another-secret"),
		PasswordUpdatedAt: testNow, Enabled: true, Roles: []string{"GENERAL"},
	})
	store.Put(auth.UserRecord{
		UserID: "other-admin", TenantID: "T002", PasswordHash: hash("password"),
		PasswordUpdatedAt: testNow, Enabled: true, Roles: []string{"ADMIN"},
	})
	store.Put(auth.UserRecord{
		UserID: "locked", TenantID: "T001", PasswordHash: hash("password"),
		PasswordUpdatedAt: testNow, Enabled: true, Locked: true, FailedLogins: 5,
		Roles: []string{"GENERAL"},
	})

	clock := func() time.Time { return testNow }
	authn, err := auth.NewAuthenticator(store, hasher, auth.WithClock(clock))
	if err != nil {
		t.Fatalf("authenticator: %v", err)
	}
	api := New(authn,
		WithClock(clock),
		WithPasswordMaxAge(90*24*time.Hour),
		WithRateLimit(100, 100),
		WithVersion("test"),
	)

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{baseURL: srv.URL, client: srv.Client(), store: store, t: t}
}

type reqOpt func(*http.Request)

func basic(user, pass string) reqOpt {
	return func(r *http.Request) { r.SetBasicAuth(user, pass) }
}

func header(k, v string) reqOpt {
	return func(r *http.Request) { r.Header.Set(k, v) }
}

func (c *apiClient) do(method, path string, body any, opts ...reqOpt) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequestWithContext(context.Background(), method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for _, opt := range opts {
		opt(req)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	c.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestLoginSystemUser(t *testing.T) {
	c := newTestAPI(t)
	resp := c.do(http.MethodPost, "/v1/auth/login", loginRequest{UserID: "system", TenantID: "T001", Password: "password"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody[loginResponse](t, resp)
	if body.Principal.UserID != "system" || !body.Principal.HasRole("ADMIN") {
		t.Fatalf("unexpected principal: %+v", body.Principal)
	}
	if body.PasswordChangeRequired {
		t.Fatalf("fresh password should not require change")
	}
}

func TestLoginSample1RequiresPasswordChange(t *testing.T) {
	c := newTestAPI(t)
	resp := c.do(http.MethodPost, "/v1/auth/login", loginRequest{UserID: "sample1", Password: "password"},
		header("X-Tenant-ID", "T001"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body := decodeBody[loginResponse](t, resp); !body.PasswordChangeRequired {
		t.Fatalf("expected password_change_required for stale password")
	}
}

func TestLoginFailuresShareMessage(t *testing.T) {
	c := newTestAPI(t)

	wrong := c.do(http.MethodPost, "/v1/auth/login", loginRequest{UserID: "sample2", Password: "password"})
	unknown := c.do(http.MethodPost, "/v1/auth/login", loginRequest{UserID: "nobody", Password: "password"})
	for _, resp := range []*http.Response{wrong, unknown} {
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", resp.StatusCode)
		}
	}
	a := decodeBody[map[string]any](t, wrong)
	b := decodeBody[map[string]any](t, unknown)
	if a["error"] != "Bad credentials" || a["error"] != b["error"] || a["reason"] != b["reason"] {
		t.Fatalf("failure bodies differ: %v vs %v", a, b)
	}
}

func TestLoginLockedAccount(t *testing.T) {
	c := newTestAPI(t)
	resp := c.do(http.MethodPost, "/v1/auth/login", loginRequest{UserID: "locked", Password: "password"},
		header("Accept-Language", "ja"))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	body := decodeBody[map[string]any](t, resp)
	if body["reason"] != "account_locked" {
		t.Fatalf("unexpected reason: %v", body["reason"])
	}
	if body["error"] == "User account is locked" {
		t.Fatalf("expected localized message, got English")
	}
}

func TestLoginRejectsBadRequests(t *testing.T) {
	c := newTestAPI(t)
	resp := c.do(http.MethodGet, "/v1/auth/login", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed || resp.Header.Get("Allow") != http.MethodPost {
		t.Fatalf("expected 405 with Allow, got %d %q", resp.StatusCode, resp.Header.Get("Allow"))
	}
	resp = c.do(http.MethodPost, "/v1/auth/login", map[string]string{"user": "system"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", resp.StatusCode)
	}
}

func TestMeRequiresBasicAuth(t *testing.T) {
	c := newTestAPI(t)
	resp := c.do(http.MethodGet, "/v1/me", nil)
	if resp.StatusCode != http.StatusUnauthorized || resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatalf("expected 401 challenge, got %d", resp.StatusCode)
	}

	resp = c.do(http.MethodGet, "/v1/me", nil, basic("system", "password"), header("X-Tenant-ID", "T001"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body := decodeBody[loginResponse](t, resp); body.Principal.UserID != "system" {
		t.Fatalf("unexpected principal: %+v", body.Principal)
	}

	resp = c.do(http.MethodGet, "/v1/me", nil, basic("system", "password"), header("X-Tenant-ID", "other"))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong tenant, got %d", resp.StatusCode)
	}
}

func TestAdminPingRequiresAdminRole(t *testing.T) {
	c := newTestAPI(t)
	if resp := c.do(http.MethodGet, "/v1/admin/ping", nil, basic("system", "password")); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for ADMIN, got %d", resp.StatusCode)
	}
	if resp := c.do(http.MethodGet, "/v1/admin/ping", nil, basic("sample1", "password")); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for GENERAL, got %d", resp.StatusCode)
	}
}

func TestChangePasswordFlow(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodPost, "/v1/auth/password", changePasswordRequest{NewPassword: "short"}, basic("sample1", "password"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for weak password, got %d", resp.StatusCode)
	}

	resp = c.do(http.MethodPost, "/v1/auth/password", changePasswordRequest{NewPassword: "a-much-better-one"}, basic("sample1", "password"))
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	rec, _ := c.store.Snapshot("sample1")
	if !rec.PasswordUpdatedAt.Equal(testNow) {
		t.Fatalf("password date not updated: %v", rec.PasswordUpdatedAt)
	}

	resp = c.do(http.MethodPost, "/v1/auth/login", loginRequest{UserID: "sample1", Password: "a-much-better-one"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected login with new password, got %d", resp.StatusCode)
	}
	if body := decodeBody[loginResponse](t, resp); body.PasswordChangeRequired {
		t.Fatalf("password change should clear the flag")
	}
}

func TestAdminUnlock(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodPost, "/v1/admin/unlock", unlockRequest{UserID: "locked"}, basic("sample1", "password"))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", resp.StatusCode)
	}

	resp = c.do(http.MethodPost, "/v1/admin/unlock", unlockRequest{UserID: "locked"}, basic("system", "password"))
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	rec, _ := c.store.Snapshot("locked")
	if rec.Locked || rec.FailedLogins != 0 {
		t.Fatalf("account still locked: %+v", rec)
	}

	resp = c.do(http.MethodPost, "/v1/admin/unlock", unlockRequest{UserID: "ghost"}, basic("system", "password"))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown user, got %d", resp.StatusCode)
	}
}

func TestAdminUnlockStaysInOwnTenant(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodPost, "/v1/admin/unlock", unlockRequest{UserID: "locked"}, basic("other-admin", "password"))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for a user of another tenant, got %d", resp.StatusCode)
	}
	rec, _ := c.store.Snapshot("locked")
	if !rec.Locked || rec.FailedLogins != 5 {
		t.Fatalf("cross-tenant unlock changed the account: %+v", rec)
	}
}

func TestHealthAndReady(t *testing.T) {
	c := newTestAPI(t)
	if resp := c.do(http.MethodGet, "/healthz", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %d", resp.StatusCode)
	}
	if resp := c.do(http.MethodGet, "/readyz", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz: %d", resp.StatusCode)
	}
	if resp := c.do(http.MethodGet, "/nope", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
