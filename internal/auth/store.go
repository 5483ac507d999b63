package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Admins(ctx context.Context) AdminStore
	Clients(ctx context.Context) ClientStore
	Companies(ctx context.Context) CompanyStore
	Invites(ctx context.Context) InviteStore
}

// PasswordStore is shared by both account classes.
type PasswordStore interface {
	// UpdatePassword replaces the hash and clears any pending reset secret.
	UpdatePassword(ctx context.Context, id, passwordHash string, now time.Time) error
	TouchLogin(ctx context.Context, id string, at time.Time) error
	SetResetSecret(ctx context.Context, id, digest string, expiresAt time.Time) error
	// ConsumeResetSecret atomically swaps the password for the account holding an
	// unexpired reset digest and clears the digest. Returns ErrNotFound otherwise.
	ConsumeResetSecret(ctx context.Context, digest string, now time.Time, passwordHash string) (string, error)
}

// AdminStore manages administrators.
type AdminStore interface {
	PasswordStore
	Create(ctx context.Context, a *AdminAccount) error
	Find(ctx context.Context, id string) (*AdminAccount, error)
	FindByEmail(ctx context.Context, email string) (*AdminAccount, error)
	Count(ctx context.Context) (int, error)
	SetActive(ctx context.Context, id string, active bool, now time.Time) error
}

// ClientStore manages client accounts. At most one per company.
type ClientStore interface {
	PasswordStore
	Create(ctx context.Context, c *ClientAccount) error
	Find(ctx context.Context, id string) (*ClientAccount, error)
	FindByEmail(ctx context.Context, email string) (*ClientAccount, error)
	FindByCompany(ctx context.Context, companyID string) (*ClientAccount, error)
	SetActive(ctx context.Context, id string, active bool, now time.Time) error
}

// CompanyStore manages the company rows the portal needs to gate access.
type CompanyStore interface {
	Create(ctx context.Context, c *Company) error
	Find(ctx context.Context, id string) (*Company, error)
	SetStatus(ctx context.Context, id string, status CompanyStatus, now time.Time) error
}

// InviteStore manages invite tokens.
type InviteStore interface {
	// CreateSuperseding marks every usable invite of the company superseded and
	// inserts inv in the same transaction.
	CreateSuperseding(ctx context.Context, inv *InviteToken) error
	FindByHash(ctx context.Context, digest string) (*InviteToken, error)
	ListByCompany(ctx context.Context, companyID string) ([]*InviteToken, error)
	// Redeem consumes the invite and creates client in one all-or-nothing step.
	// client.Email and client.CompanyID are taken from the invite.
	// Returns ErrSecretInvalid when the invite is unusable or its company inactive,
	// ErrConflict when the company already has an account or the email is taken.
	Redeem(ctx context.Context, digest string, now time.Time, client *ClientAccount) (*InviteToken, error)
}
