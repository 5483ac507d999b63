package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"clientportal.io/internal/auth"
)

// Companies -----------------------------------------------------------------
type companyStore struct{ db *sql.DB }

func (s *companyStore) Create(ctx context.Context, c *auth.Company) error {
	_, err := s.db.ExecContext(ctx, `
		insert into companies(id, name, status, created_at, updated_at) values ($1,$2,$3,$4,$5)`,
		c.ID, c.Name, string(c.Status), c.CreatedAt, c.UpdatedAt)
	return mapWriteError(err)
}

func (s *companyStore) Find(ctx context.Context, id string) (*auth.Company, error) {
	var (
		c      auth.Company
		status string
	)
	err := s.db.QueryRowContext(ctx, `
		select id, name, status, created_at, updated_at from companies where id = $1`, id).
		Scan(&c.ID, &c.Name, &status, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Status = auth.CompanyStatus(status)
	return &c, nil
}

func (s *companyStore) SetStatus(ctx context.Context, id string, status auth.CompanyStatus, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `update companies set status = $2, updated_at = $3 where id = $1`,
		id, string(status), now)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// Invites -------------------------------------------------------------------
type inviteStore struct{ db *sql.DB }

const inviteColumns = `id, token_hash, company_id, email, created_by, expires_at, used_at, superseded_at, created_at`

func scanInvite(row interface{ Scan(...any) error }) (*auth.InviteToken, error) {
	var (
		inv        auth.InviteToken
		used       sql.NullTime
		superseded sql.NullTime
	)
	if err := row.Scan(&inv.ID, &inv.TokenHash, &inv.CompanyID, &inv.Email, &inv.CreatedBy,
		&inv.ExpiresAt, &used, &superseded, &inv.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	inv.UsedAt = timeOrNil(used)
	inv.SupersededAt = timeOrNil(superseded)
	return &inv, nil
}

func (s *inviteStore) CreateSuperseding(ctx context.Context, inv *auth.InviteToken) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		update invite_tokens set superseded_at = $2
		where company_id = $1 and used_at is null and superseded_at is null`,
		inv.CompanyID, inv.CreatedAt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into invite_tokens(id, token_hash, company_id, email, created_by, expires_at, created_at)
		values ($1,$2,$3,$4,$5,$6,$7)`,
		inv.ID, inv.TokenHash, inv.CompanyID, inv.Email, inv.CreatedBy, inv.ExpiresAt, inv.CreatedAt); err != nil {
		return mapWriteError(err)
	}
	return tx.Commit()
}

func (s *inviteStore) FindByHash(ctx context.Context, digest string) (*auth.InviteToken, error) {
	return scanInvite(s.db.QueryRowContext(ctx, `select `+inviteColumns+` from invite_tokens where token_hash = $1`, digest))
}

func (s *inviteStore) ListByCompany(ctx context.Context, companyID string) ([]*auth.InviteToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+inviteColumns+` from invite_tokens
		where company_id = $1
		order by created_at desc, id desc`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*auth.InviteToken
	for rows.Next() {
		inv, err := scanInvite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// Redeem locks the invite row, validates it, creates the client and marks the invite used,
// all inside one transaction.
func (s *inviteStore) Redeem(ctx context.Context, digest string, now time.Time, client *auth.ClientAccount) (*auth.InviteToken, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		inv        auth.InviteToken
		used       sql.NullTime
		superseded sql.NullTime
		status     string
	)
	err = tx.QueryRowContext(ctx, `
		select i.id, i.token_hash, i.company_id, i.email, i.created_by, i.expires_at, i.used_at,
		       i.superseded_at, i.created_at, c.status
		from invite_tokens i
		join companies c on c.id = i.company_id
		where i.token_hash = $1
		for update of i`, digest).
		Scan(&inv.ID, &inv.TokenHash, &inv.CompanyID, &inv.Email, &inv.CreatedBy, &inv.ExpiresAt,
			&used, &superseded, &inv.CreatedAt, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrSecretInvalid
	}
	if err != nil {
		return nil, err
	}
	inv.UsedAt = timeOrNil(used)
	inv.SupersededAt = timeOrNil(superseded)
	if !inv.Usable(now) || auth.CompanyStatus(status) != auth.CompanyActive {
		return nil, auth.ErrSecretInvalid
	}

	var exists bool
	if err := tx.QueryRowContext(ctx, `select exists(select 1 from client_accounts where company_id = $1)`,
		inv.CompanyID).Scan(&exists); err != nil {
		return nil, err
	}
	if exists {
		return nil, auth.ErrConflict
	}

	client.Email = inv.Email
	client.CompanyID = inv.CompanyID
	if err := insertClient(ctx, tx, client); err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		update invite_tokens set used_at = $2
		where id = $1 and used_at is null and superseded_at is null`, inv.ID, now)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n != 1 {
		return nil, auth.ErrSecretInvalid
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	inv.UsedAt = &now
	return &inv, nil
}
