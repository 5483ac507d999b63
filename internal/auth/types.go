package auth

import (
	"strings"
	"time"
)

// PrincipalType distinguishes the two account classes.
type PrincipalType string

const (
	PrincipalAdmin  PrincipalType = "admin"
	PrincipalClient PrincipalType = "client"
)

// Valid reports whether t is a known principal type.
func (t PrincipalType) Valid() bool {
	return t == PrincipalAdmin || t == PrincipalClient
}

// AdminRole is the privilege level of an administrator.
type AdminRole string

const (
	RoleAdmin      AdminRole = "admin"
	RoleSuperAdmin AdminRole = "super_admin"
)

func (r AdminRole) Valid() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// CompanyStatus gates client access. Only active companies admit logins.
type CompanyStatus string

const (
	CompanyActive   CompanyStatus = "active"
	CompanyPaused   CompanyStatus = "paused"
	CompanyArchived CompanyStatus = "archived"
)

func (s CompanyStatus) Valid() bool {
	switch s {
	case CompanyActive, CompanyPaused, CompanyArchived:
		return true
	}
	return false
}

// AdminAccount is an internal operator.
type AdminAccount struct {
	ID                  string
	Email               string
	PasswordHash        string
	Name                string
	Role                AdminRole
	Active              bool
	LastLoginAt         *time.Time
	ResetTokenHash      *string
	ResetTokenExpiresAt *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ClientAccount is the single login belonging to a company.
type ClientAccount struct {
	ID                  string
	Email               string
	PasswordHash        string
	CompanyID           string
	Active              bool
	LastLoginAt         *time.Time
	ResetTokenHash      *string
	ResetTokenExpiresAt *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Company is the tenant a client account belongs to.
type Company struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Status    CompanyStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// InviteToken is a persisted invite. Only the digest of the secret is stored.
type InviteToken struct {
	ID           string     `json:"id"`
	TokenHash    string     `json:"-"`
	CompanyID    string     `json:"company_id"`
	Email        string     `json:"email"`
	CreatedBy    string     `json:"created_by"`
	ExpiresAt    time.Time  `json:"expires_at"`
	UsedAt       *time.Time `json:"used_at,omitempty"`
	SupersededAt *time.Time `json:"superseded_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Usable reports whether the invite can still be redeemed at now.
func (i *InviteToken) Usable(now time.Time) bool {
	return i.UsedAt == nil && i.SupersededAt == nil && now.Before(i.ExpiresAt)
}

// Principal is the resolved identity behind a request.
type Principal struct {
	Type    PrincipalType
	Admin   *AdminAccount
	Client  *ClientAccount
	Company *Company
}

// PrincipalView is the externally visible shape of a principal.
type PrincipalView struct {
	Type        PrincipalType `json:"type"`
	ID          string        `json:"id"`
	Email       string        `json:"email"`
	Name        string        `json:"name,omitempty"`
	Role        AdminRole     `json:"role,omitempty"`
	CompanyID   string        `json:"company_id,omitempty"`
	CompanyName string        `json:"company_name,omitempty"`
	Active      bool          `json:"active"`
	LastLoginAt *time.Time    `json:"last_login_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Sanitized drops password hashes and reset state.
func (p Principal) Sanitized() PrincipalView {
	switch {
	case p.Type == PrincipalAdmin && p.Admin != nil:
		return AdminView(p.Admin)
	case p.Type == PrincipalClient && p.Client != nil:
		v := ClientView(p.Client)
		if p.Company != nil {
			v.CompanyName = p.Company.Name
		}
		return v
	}
	return PrincipalView{Type: p.Type}
}

func AdminView(a *AdminAccount) PrincipalView {
	return PrincipalView{
		Type:        PrincipalAdmin,
		ID:          a.ID,
		Email:       a.Email,
		Name:        a.Name,
		Role:        a.Role,
		Active:      a.Active,
		LastLoginAt: a.LastLoginAt,
		CreatedAt:   a.CreatedAt,
	}
}

func ClientView(c *ClientAccount) PrincipalView {
	return PrincipalView{
		Type:        PrincipalClient,
		ID:          c.ID,
		Email:       c.Email,
		CompanyID:   c.CompanyID,
		Active:      c.Active,
		LastLoginAt: c.LastLoginAt,
		CreatedAt:   c.CreatedAt,
	}
}

// Session is the result of a successful login or invite acceptance.
type Session struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
	Principal PrincipalView `json:"principal"`
}

// InvitePreview is what the accept page shows before a password is chosen.
type InvitePreview struct {
	CompanyID   string    `json:"company_id"`
	CompanyName string    `json:"company_name"`
	Email       string    `json:"email"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// IssuedInvite carries the one-time link. The secret is never retrievable again.
type IssuedInvite struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
	URL       string    `json:"url"`
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
