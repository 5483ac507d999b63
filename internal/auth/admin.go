package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"clientportal.io/internal/audit"
	"clientportal.io/internal/ids"
	"clientportal.io/internal/notify"
)

func requireAdminActor(actor *Claims) error {
	if actor == nil || actor.PrincipalType != PrincipalAdmin {
		return ErrForbidden
	}
	return nil
}

func requireSuperAdminActor(actor *Claims) error {
	if actor == nil || !actor.IsSuperAdmin() {
		return ErrForbidden
	}
	return nil
}

func adminEvent(actor *Claims, action audit.Action, companyID, resourceType, resourceID string, details map[string]any) audit.Event {
	return audit.Event{
		ActorID:      audit.String(actor.Subject),
		ActorType:    audit.ActorAdmin,
		CompanyID:    audit.String(companyID),
		Action:       action,
		ResourceType: audit.String(resourceType),
		ResourceID:   audit.String(resourceID),
		Details:      details,
	}
}

// CreateCompany registers a company so it can receive an invite.
func (s *Service) CreateCompany(ctx context.Context, actor *Claims, name string) (*Company, error) {
	if err := requireAdminActor(actor); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: company name is required", ErrInvalidInput)
	}
	now := s.now().UTC()
	company := &Company{ID: ids.New(), Name: name, Status: CompanyActive, CreatedAt: now, UpdatedAt: now}
	if err := s.store.Companies(ctx).Create(ctx, company); err != nil {
		return nil, err
	}
	s.record(ctx, adminEvent(actor, audit.ActionCompanyCreate, company.ID, "company", company.ID,
		map[string]any{"name": name}))
	return company, nil
}

// CreateInvite issues a single-use invite link for a company without a client account.
// Any earlier usable invite for the company stops working.
func (s *Service) CreateInvite(ctx context.Context, actor *Claims, companyID, email string, ttl time.Duration) (IssuedInvite, error) {
	if err := requireAdminActor(actor); err != nil {
		return IssuedInvite{}, err
	}
	email, err := validateEmail(email)
	if err != nil {
		return IssuedInvite{}, err
	}
	if ttl == 0 {
		ttl = s.inviteTTL
	}
	if ttl < MinInviteTTL || ttl > MaxInviteTTL {
		return IssuedInvite{}, fmt.Errorf("%w: invite lifetime must be between %s and %s", ErrInvalidInput, MinInviteTTL, MaxInviteTTL)
	}

	company, err := s.store.Companies(ctx).Find(ctx, companyID)
	if err != nil {
		return IssuedInvite{}, err
	}
	if company.Status != CompanyActive {
		return IssuedInvite{}, ErrCompanyInactive
	}
	if _, err := s.store.Clients(ctx).FindByCompany(ctx, company.ID); err == nil {
		return IssuedInvite{}, fmt.Errorf("%w: company already has a client account", ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return IssuedInvite{}, err
	}
	if _, err := s.store.Clients(ctx).FindByEmail(ctx, email); err == nil {
		return IssuedInvite{}, fmt.Errorf("%w: email already registered", ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return IssuedInvite{}, err
	}

	plaintext, digest, err := GenerateSecret()
	if err != nil {
		return IssuedInvite{}, err
	}
	now := s.now().UTC()
	inv := &InviteToken{
		ID:        ids.New(),
		TokenHash: digest,
		CompanyID: company.ID,
		Email:     email,
		CreatedBy: actor.Subject,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := s.store.Invites(ctx).CreateSuperseding(ctx, inv); err != nil {
		return IssuedInvite{}, err
	}

	link := s.link("/accept-invite", plaintext)
	_ = s.notifier.SendInvite(ctx, notify.InviteNotice{
		Email:       email,
		CompanyName: company.Name,
		URL:         link,
		ExpiresAt:   inv.ExpiresAt,
	})
	s.record(ctx, adminEvent(actor, audit.ActionClientInviteCreate, company.ID, "invite", inv.ID,
		map[string]any{"email": email, "expires_at": inv.ExpiresAt.Format(time.RFC3339)}))

	return IssuedInvite{
		ID:        inv.ID,
		CompanyID: company.ID,
		Email:     email,
		ExpiresAt: inv.ExpiresAt,
		URL:       link,
	}, nil
}

// ListInvites returns the invites issued for a company, newest first.
func (s *Service) ListInvites(ctx context.Context, companyID string) ([]*InviteToken, error) {
	if _, err := s.store.Companies(ctx).Find(ctx, companyID); err != nil {
		return nil, err
	}
	return s.store.Invites(ctx).ListByCompany(ctx, companyID)
}

// CreateClientAccount provisions the company's client account directly, bypassing invites.
func (s *Service) CreateClientAccount(ctx context.Context, actor *Claims, companyID, email, password string) (*ClientAccount, error) {
	if err := requireAdminActor(actor); err != nil {
		return nil, err
	}
	email, err := validateEmail(email)
	if err != nil {
		return nil, err
	}
	company, err := s.store.Companies(ctx).Find(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if company.Status != CompanyActive {
		return nil, ErrCompanyInactive
	}
	if _, err := s.store.Clients(ctx).FindByCompany(ctx, company.ID); err == nil {
		return nil, fmt.Errorf("%w: company already has a client account", ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	client := &ClientAccount{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: hash,
		CompanyID:    company.ID,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Clients(ctx).Create(ctx, client); err != nil {
		return nil, err
	}
	s.record(ctx, adminEvent(actor, audit.ActionClientCreate, company.ID, "client", client.ID,
		map[string]any{"email": email}))
	return client, nil
}

// SetClientActive enables or disables a client account. Takes effect on the next request.
func (s *Service) SetClientActive(ctx context.Context, actor *Claims, clientID string, active bool) (*ClientAccount, error) {
	if err := requireAdminActor(actor); err != nil {
		return nil, err
	}
	clients := s.store.Clients(ctx)
	if err := clients.SetActive(ctx, clientID, active, s.now().UTC()); err != nil {
		return nil, err
	}
	client, err := clients.Find(ctx, clientID)
	if err != nil {
		return nil, err
	}
	action := audit.ActionClientDisable
	if active {
		action = audit.ActionClientEnable
	}
	s.record(ctx, adminEvent(actor, action, client.CompanyID, "client", client.ID, nil))
	return client, nil
}

// SetCompanyStatus moves a company between active, paused and archived.
func (s *Service) SetCompanyStatus(ctx context.Context, actor *Claims, companyID string, status CompanyStatus) (*Company, error) {
	if err := requireAdminActor(actor); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown company status %q", ErrInvalidInput, status)
	}
	companies := s.store.Companies(ctx)
	before, err := companies.Find(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if err := companies.SetStatus(ctx, companyID, status, s.now().UTC()); err != nil {
		return nil, err
	}
	after, err := companies.Find(ctx, companyID)
	if err != nil {
		return nil, err
	}
	s.record(ctx, adminEvent(actor, audit.ActionCompanyStatusChange, companyID, "company", companyID,
		map[string]any{"from": string(before.Status), "to": string(status)}))
	return after, nil
}

// CreateAdmin adds an administrator. Only super admins may call it.
func (s *Service) CreateAdmin(ctx context.Context, actor *Claims, email, name, password string, role AdminRole) (*AdminAccount, error) {
	if err := requireSuperAdminActor(actor); err != nil {
		return nil, err
	}
	acct, err := s.createAdmin(ctx, email, name, password, role)
	if err != nil {
		return nil, err
	}
	s.record(ctx, adminEvent(actor, audit.ActionAdminCreate, "", "admin", acct.ID,
		map[string]any{"email": acct.Email, "role": string(acct.Role)}))
	return acct, nil
}

// SetAdminActive enables or disables another administrator. Only super admins may call it.
func (s *Service) SetAdminActive(ctx context.Context, actor *Claims, adminID string, active bool) (*AdminAccount, error) {
	if err := requireSuperAdminActor(actor); err != nil {
		return nil, err
	}
	if adminID == actor.Subject {
		return nil, fmt.Errorf("%w: cannot change own status", ErrForbidden)
	}
	admins := s.store.Admins(ctx)
	if err := admins.SetActive(ctx, adminID, active, s.now().UTC()); err != nil {
		return nil, err
	}
	acct, err := admins.Find(ctx, adminID)
	if err != nil {
		return nil, err
	}
	s.record(ctx, adminEvent(actor, audit.ActionAdminUpdate, "", "admin", acct.ID,
		map[string]any{"active": active}))
	return acct, nil
}

// BootstrapSuperAdmin creates the first super admin when no administrators exist.
// It reports whether an account was created.
func (s *Service) BootstrapSuperAdmin(ctx context.Context, email, password string) (bool, error) {
	n, err := s.store.Admins(ctx).Count(ctx)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	acct, err := s.createAdmin(ctx, email, "Super Admin", password, RoleSuperAdmin)
	if err != nil {
		return false, err
	}
	s.record(ctx, audit.Event{
		ActorType:    audit.ActorAdmin,
		Action:       audit.ActionAdminCreate,
		ResourceType: audit.String("admin"),
		ResourceID:   audit.String(acct.ID),
		Details:      map[string]any{"email": acct.Email, "role": string(acct.Role), "bootstrap": true},
	})
	return true, nil
}

func (s *Service) createAdmin(ctx context.Context, email, name, password string, role AdminRole) (*AdminAccount, error) {
	email, err := validateEmail(email)
	if err != nil {
		return nil, err
	}
	if role == "" {
		role = RoleAdmin
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	acct := &AdminAccount{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: hash,
		Name:         strings.TrimSpace(name),
		Role:         role,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Admins(ctx).Create(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}
