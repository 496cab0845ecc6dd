package auth

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

var userRowColumns = []string{
	"user_id", "tenant_id", "password", "pass_update_date", "login_miss_times",
	"unlock", "enabled", "user_due_date", "user_name", "mail_address",
}

func newMockStore(t *testing.T) (*PGStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPGStore(db), mock
}

func TestPGStoreFetchByUserIDAndTenant(t *testing.T) {
	store, mock := newMockStore(t)
	updated := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	due := time.Date(2099, 12, 31, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("select .* from m_user where user_id = \\$1 and tenant_id = \\$2").
		WithArgs("system", "tenant").
		WillReturnRows(sqlmock.NewRows(userRowColumns).
			AddRow("system", "tenant", "$2a$10$hash", updated, 2, false, true, due, "System", "system@example.com"))

	rec, err := store.FetchByUserIDAndTenant(context.Background(), "system", "tenant")
	if err != nil {
		t.Fatalf("FetchByUserIDAndTenant: %v", err)
	}
	if rec.UserID != "system" || rec.TenantID != "tenant" || rec.PasswordHash != "$2a$10$hash" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if !rec.Locked {
		t.Fatalf("unlock=false must decode as Locked")
	}
	if rec.FailedLogins != 2 || !rec.Enabled || rec.DisplayName != "System" || rec.Email != "system@example.com" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.ExpiresAt == nil || !rec.ExpiresAt.Equal(due) || !rec.PasswordUpdatedAt.Equal(updated) {
		t.Fatalf("unexpected dates: %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreFetchNullableColumns(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("select .* from m_user where user_id = \\$1").
		WithArgs("sample1").
		WillReturnRows(sqlmock.NewRows(userRowColumns).
			AddRow("sample1", "tenant", "h", nil, 0, true, true, nil, nil, nil))

	rec, err := store.FetchByUserID(context.Background(), "sample1")
	if err != nil {
		t.Fatalf("FetchByUserID: %v", err)
	}
	if rec.ExpiresAt != nil || !rec.PasswordUpdatedAt.IsZero() || rec.Locked {
		t.Fatalf("unexpected nullable decoding: %+v", rec)
	}
}

func TestPGStoreFetchNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("select .* from m_user").WithArgs("ghost", "tenant").WillReturnError(sql.ErrNoRows)

	if _, err := store.FetchByUserIDAndTenant(context.Background(), "ghost", "tenant"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGStoreFetchDriverError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("select .* from m_user").WithArgs("system").WillReturnError(errors.New("connection refused"))

	_, err := store.FetchByUserID(context.Background(), "system")
	if !errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestPGStoreFetchRoles(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("select r.role_name").WithArgs("system").
		WillReturnRows(sqlmock.NewRows([]string{"role_name"}).AddRow("ADMIN").AddRow("GENERAL").AddRow("ADMIN"))

	roles, err := store.FetchRoles(context.Background(), "system")
	if err != nil {
		t.Fatalf("FetchRoles: %v", err)
	}
	if len(roles) != 2 || roles[0] != "ADMIN" || roles[1] != "GENERAL" {
		t.Fatalf("unexpected roles: %v", roles)
	}

	mock.ExpectQuery("select r.role_name").WithArgs("lonely").WillReturnRows(sqlmock.NewRows([]string{"role_name"}))
	roles, err = store.FetchRoles(context.Background(), "lonely")
	if err != nil || len(roles) != 0 {
		t.Fatalf("expected empty roles without error, got %v %v", roles, err)
	}
}

func TestPGStoreUpdates(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("update m_user set password = \\$1, pass_update_date = \\$2 where user_id = \\$3").
		WithArgs("newhash", at, "system").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update m_user set login_miss_times = \\$1, unlock = \\$2 where user_id = \\$3").
		WithArgs(3, false, "system").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update m_user set login_miss_times").
		WithArgs(0, true, "ghost").WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := store.UpdatePassword(context.Background(), "system", "newhash", at)
	if err != nil || n != 1 {
		t.Fatalf("UpdatePassword = %d, %v", n, err)
	}
	n, err = store.UpdateLockState(context.Background(), "system", 3, true)
	if err != nil || n != 1 {
		t.Fatalf("UpdateLockState = %d, %v", n, err)
	}
	n, err = store.UpdateLockState(context.Background(), "ghost", 0, false)
	if err != nil || n != 0 {
		t.Fatalf("expected 0 rows for unknown user, got %d, %v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreIncrementFailedLogins(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("update m_user\\s+set login_miss_times = login_miss_times \\+ 1").
		WithArgs("system", 5).
		WillReturnRows(sqlmock.NewRows([]string{"login_miss_times", "unlock"}).AddRow(5, false))
	mock.ExpectQuery("update m_user").WithArgs("ghost", 5).WillReturnError(sql.ErrNoRows)

	count, locked, err := store.IncrementFailedLogins(context.Background(), "system", 5)
	if err != nil || count != 5 || !locked {
		t.Fatalf("IncrementFailedLogins = %d, %v, %v", count, locked, err)
	}
	if _, _, err := store.IncrementFailedLogins(context.Background(), "ghost", 5); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGStoreRaiseFailedLogins(t *testing.T) {
	store, mock := newMockStore(t)
	// The row keeps a higher stored count and stays locked.
	mock.ExpectQuery("update m_user\\s+set login_miss_times = greatest\\(login_miss_times, \\$2\\),\\s+unlock = unlock and").
		WithArgs("system", 4, 5).
		WillReturnRows(sqlmock.NewRows([]string{"login_miss_times", "unlock"}).AddRow(5, false))
	mock.ExpectQuery("update m_user").WithArgs("ghost", 1, 5).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("update m_user").WithArgs("system", 1, 5).WillReturnError(errors.New("conn reset"))

	count, locked, err := store.RaiseFailedLogins(context.Background(), "system", 4, 5)
	if err != nil || count != 5 || !locked {
		t.Fatalf("RaiseFailedLogins = %d, %v, %v", count, locked, err)
	}
	if _, _, err := store.RaiseFailedLogins(context.Background(), "ghost", 1, 5); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, _, err := store.RaiseFailedLogins(context.Background(), "system", 1, 5); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAuthenticatorOverPGStore(t *testing.T) {
	store, mock := newMockStore(t)
	f := newFixture(t)
	rec, _ := f.store.Snapshot("system")

	mock.ExpectQuery("select .* from m_user").WithArgs("system", "tenant").
		WillReturnRows(sqlmock.NewRows(userRowColumns).
			AddRow("system", "tenant", rec.PasswordHash, rec.PasswordUpdatedAt, 0, true, true, nil, "System", "s@example.com"))
	mock.ExpectQuery("select r.role_name").WithArgs("system").
		WillReturnRows(sqlmock.NewRows([]string{"role_name"}).AddRow("ADMIN").AddRow("GENERAL"))

	a, err := NewAuthenticator(store, f.hasher)
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	out := a.Authenticate(context.Background(), Credential{UserID: "system", TenantID: "tenant", Password: "password"})
	if !out.OK() {
		t.Fatalf("expected success, got %s", out.Kind)
	}
	if !out.Principal.HasRole("ADMIN") || !out.Principal.HasRole("GENERAL") {
		t.Fatalf("unexpected roles: %v", out.Principal.Roles)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
