package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	_ Store         = (*PGStore)(nil)
	_ AtomicCounter = (*PGStore)(nil)
)

const userColumns = `user_id, tenant_id, password, pass_update_date, login_miss_times,
	unlock, enabled, user_due_date, user_name, mail_address`

const (
	selectUserSQL = `select ` + userColumns + ` from m_user where user_id = $1`

	selectUserByTenantSQL = `select ` + userColumns + ` from m_user where user_id = $1 and tenant_id = $2`

	selectRolesSQL = `select r.role_name
		from m_user u
		join t_user_role ur on u.user_id = ur.user_id
		join m_role r on ur.role_id = r.role_id
		where u.user_id = $1
		order by r.role_name`

	updatePasswordSQL = `update m_user set password = $1, pass_update_date = $2 where user_id = $3`

	updateLockSQL = `update m_user set login_miss_times = $1, unlock = $2 where user_id = $3`

	incrementFailedSQL = `update m_user
		set login_miss_times = login_miss_times + 1,
		    unlock = case when login_miss_times + 1 >= $2 then false else unlock end
		where user_id = $1
		returning login_miss_times, unlock`

	raiseFailedSQL = `update m_user
		set login_miss_times = greatest(login_miss_times, $2),
		    unlock = unlock and greatest(login_miss_times, $2) < $3
		where user_id = $1
		returning login_miss_times, unlock`
)

// PGStore implements Store on PostgreSQL through database/sql (pgx stdlib driver).
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// Ping verifies connectivity; used by readiness probes.
func (s *PGStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

func (s *PGStore) FetchByUserID(ctx context.Context, userID string) (*UserRecord, error) {
	return s.fetchOne(ctx, selectUserSQL, userID)
}

func (s *PGStore) FetchByUserIDAndTenant(ctx context.Context, userID, tenantID string) (*UserRecord, error) {
	return s.fetchOne(ctx, selectUserByTenantSQL, userID, tenantID)
}

func (s *PGStore) fetchOne(ctx context.Context, query string, args ...any) (*UserRecord, error) {
	row := s.db.QueryRowContext(ctx, query, args...)
	rec, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storeErr("fetch user", err)
	}
	return rec, nil
}

func (s *PGStore) FetchRoles(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, selectRolesSQL, userID)
	if err != nil {
		return nil, storeErr("fetch roles", err)
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, storeErr("scan role", err)
		}
		roles = append(roles, name)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("fetch roles", err)
	}
	return dedupeRoles(roles), nil
}

func (s *PGStore) UpdatePassword(ctx context.Context, userID, passwordHash string, updatedAt time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, updatePasswordSQL, passwordHash, updatedAt, userID)
	if err != nil {
		return 0, storeErr("update password", err)
	}
	return affected(res)
}

func (s *PGStore) UpdateLockState(ctx context.Context, userID string, failedCount int, locked bool) (int64, error) {
	if failedCount < 0 {
		failedCount = 0
	}
	res, err := s.db.ExecContext(ctx, updateLockSQL, failedCount, !locked, userID)
	if err != nil {
		return 0, storeErr("update lock state", err)
	}
	return affected(res)
}

// IncrementFailedLogins bumps the counter and applies the threshold in one statement,
// so concurrent failures for the same user cannot lose an increment.
func (s *PGStore) IncrementFailedLogins(ctx context.Context, userID string, threshold int) (int, bool, error) {
	var (
		count  int
		unlock bool
	)
	err := s.db.QueryRowContext(ctx, incrementFailedSQL, userID, threshold).Scan(&count, &unlock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, ErrNotFound
		}
		return 0, false, storeErr("increment failed logins", err)
	}
	return count, !unlock, nil
}

// RaiseFailedLogins stores max(current, count) and locks at threshold in one
// statement. It never moves the count backwards or clears the lock.
func (s *PGStore) RaiseFailedLogins(ctx context.Context, userID string, count, threshold int) (int, bool, error) {
	var (
		stored int
		unlock bool
	)
	err := s.db.QueryRowContext(ctx, raiseFailedSQL, userID, count, threshold).Scan(&stored, &unlock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, ErrNotFound
		}
		return 0, false, storeErr("raise failed logins", err)
	}
	return stored, !unlock, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*UserRecord, error) {
	var (
		rec         UserRecord
		passUpdated sql.NullTime
		dueDate     sql.NullTime
		unlock      bool
		name        sql.NullString
		mail        sql.NullString
	)
	if err := row.Scan(
		&rec.UserID, &rec.TenantID, &rec.PasswordHash, &passUpdated, &rec.FailedLogins,
		&unlock, &rec.Enabled, &dueDate, &name, &mail,
	); err != nil {
		return nil, err
	}
	rec.Locked = !unlock
	if passUpdated.Valid {
		rec.PasswordUpdatedAt = passUpdated.Time
	}
	if dueDate.Valid {
		exp := dueDate.Time
		rec.ExpiresAt = &exp
	}
	rec.DisplayName = strings.TrimSpace(name.String)
	rec.Email = strings.TrimSpace(mail.String)
	return &rec, nil
}

func affected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("rows affected", err)
	}
	return n, nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
