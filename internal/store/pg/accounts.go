package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"clientportal.io/internal/auth"
)

// passwordStore implements auth.PasswordStore for either account table.
type passwordStore struct {
	db    *sql.DB
	table string
}

func (s passwordStore) UpdatePassword(ctx context.Context, id, hash string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		update %s
		set password_hash = $2, reset_token_hash = null, reset_token_expires_at = null, updated_at = $3
		where id = $1`, s.table), id, hash, now)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (s passwordStore) TouchLogin(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`update %s set last_login_at = $2 where id = $1`, s.table), id, at)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (s passwordStore) SetResetSecret(ctx context.Context, id, digest string, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		update %s set reset_token_hash = $2, reset_token_expires_at = $3 where id = $1`, s.table),
		id, digest, expiresAt)
	if err != nil {
		return mapWriteError(err)
	}
	return expectOne(res)
}

// ConsumeResetSecret is a single conditional update so that concurrent
// submissions of the same secret cannot both succeed.
func (s passwordStore) ConsumeResetSecret(ctx context.Context, digest string, now time.Time, hash string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		update %s
		set password_hash = $3, reset_token_hash = null, reset_token_expires_at = null, updated_at = $2
		where reset_token_hash = $1 and reset_token_expires_at > $2
		returning id`, s.table), digest, now, hash).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", auth.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s passwordStore) setActive(ctx context.Context, id string, active bool, now time.Time) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`update %s set active = $2, updated_at = $3 where id = $1`, s.table),
		id, active, now)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// Admins --------------------------------------------------------------------
type adminStore struct{ passwordStore }

const adminColumns = `id, email, password_hash, name, role, active, last_login_at,
	reset_token_hash, reset_token_expires_at, created_at, updated_at`

func scanAdmin(row interface{ Scan(...any) error }) (*auth.AdminAccount, error) {
	var (
		a         auth.AdminAccount
		role      string
		lastLogin sql.NullTime
		resetHash sql.NullString
		resetExp  sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.Name, &role, &a.Active, &lastLogin,
		&resetHash, &resetExp, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	a.Role = auth.AdminRole(role)
	a.LastLoginAt = timeOrNil(lastLogin)
	a.ResetTokenHash = stringOrNil(resetHash)
	a.ResetTokenExpiresAt = timeOrNil(resetExp)
	return &a, nil
}

func (s *adminStore) Create(ctx context.Context, a *auth.AdminAccount) error {
	a.Email = auth.NormalizeEmail(a.Email)
	_, err := s.db.ExecContext(ctx, `
		insert into admin_accounts(id, email, password_hash, name, role, active, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)`,
		a.ID, a.Email, a.PasswordHash, a.Name, string(a.Role), a.Active, a.CreatedAt, a.UpdatedAt)
	return mapWriteError(err)
}

func (s *adminStore) Find(ctx context.Context, id string) (*auth.AdminAccount, error) {
	return scanAdmin(s.db.QueryRowContext(ctx, `select `+adminColumns+` from admin_accounts where id = $1`, id))
}

func (s *adminStore) FindByEmail(ctx context.Context, email string) (*auth.AdminAccount, error) {
	return scanAdmin(s.db.QueryRowContext(ctx, `select `+adminColumns+` from admin_accounts where email = $1`,
		auth.NormalizeEmail(email)))
}

func (s *adminStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `select count(*) from admin_accounts`).Scan(&n)
	return n, err
}

func (s *adminStore) SetActive(ctx context.Context, id string, active bool, now time.Time) error {
	return s.setActive(ctx, id, active, now)
}

// Clients -------------------------------------------------------------------
type clientStore struct{ passwordStore }

const clientColumns = `id, email, password_hash, company_id, active, last_login_at,
	reset_token_hash, reset_token_expires_at, created_at, updated_at`

func scanClient(row interface{ Scan(...any) error }) (*auth.ClientAccount, error) {
	var (
		c         auth.ClientAccount
		lastLogin sql.NullTime
		resetHash sql.NullString
		resetExp  sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.Email, &c.PasswordHash, &c.CompanyID, &c.Active, &lastLogin,
		&resetHash, &resetExp, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	c.LastLoginAt = timeOrNil(lastLogin)
	c.ResetTokenHash = stringOrNil(resetHash)
	c.ResetTokenExpiresAt = timeOrNil(resetExp)
	return &c, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertClient(ctx context.Context, db execer, c *auth.ClientAccount) error {
	c.Email = auth.NormalizeEmail(c.Email)
	_, err := db.ExecContext(ctx, `
		insert into client_accounts(id, email, password_hash, company_id, active, last_login_at, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)`,
		c.ID, c.Email, c.PasswordHash, c.CompanyID, c.Active, nullTime(c.LastLoginAt), c.CreatedAt, c.UpdatedAt)
	return mapWriteError(err)
}

func (s *clientStore) Create(ctx context.Context, c *auth.ClientAccount) error {
	return insertClient(ctx, s.db, c)
}

func (s *clientStore) Find(ctx context.Context, id string) (*auth.ClientAccount, error) {
	return scanClient(s.db.QueryRowContext(ctx, `select `+clientColumns+` from client_accounts where id = $1`, id))
}

func (s *clientStore) FindByEmail(ctx context.Context, email string) (*auth.ClientAccount, error) {
	return scanClient(s.db.QueryRowContext(ctx, `select `+clientColumns+` from client_accounts where email = $1`,
		auth.NormalizeEmail(email)))
}

func (s *clientStore) FindByCompany(ctx context.Context, companyID string) (*auth.ClientAccount, error) {
	return scanClient(s.db.QueryRowContext(ctx, `select `+clientColumns+` from client_accounts where company_id = $1`,
		companyID))
}

func (s *clientStore) SetActive(ctx context.Context, id string, active bool, now time.Time) error {
	return s.setActive(ctx, id, active, now)
}
