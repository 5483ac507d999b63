package auth

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"clientportal.io/internal/ids"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps all auth state in process memory behind a single mutex.
// It backs development mode and service tests.
type MemoryStore struct {
	mu        sync.Mutex
	admins    map[string]*AdminAccount
	clients   map[string]*ClientAccount
	companies map[string]*Company
	invites   map[string]*InviteToken
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		admins:    make(map[string]*AdminAccount),
		clients:   make(map[string]*ClientAccount),
		companies: make(map[string]*Company),
		invites:   make(map[string]*InviteToken),
	}
}

func (m *MemoryStore) Admins(context.Context) AdminStore       { return memAdmins{m} }
func (m *MemoryStore) Clients(context.Context) ClientStore     { return memClients{m} }
func (m *MemoryStore) Companies(context.Context) CompanyStore { return memCompanies{m} }
func (m *MemoryStore) Invites(context.Context) InviteStore     { return memInvites{m} }

func timePtr(t time.Time) *time.Time { return &t }

// Admin store ---------------------------------------------------------------
type memAdmins struct{ m *MemoryStore }

func (s memAdmins) Create(_ context.Context, a *AdminAccount) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if a.ID == "" {
		a.ID = ids.New()
	}
	a.Email = NormalizeEmail(a.Email)
	for _, existing := range s.m.admins {
		if existing.Email == a.Email {
			return fmt.Errorf("%w: email already registered", ErrConflict)
		}
	}
	if _, ok := s.m.admins[a.ID]; ok {
		return fmt.Errorf("%w: duplicate id", ErrConflict)
	}
	cp := *a
	s.m.admins[a.ID] = &cp
	return nil
}

func (s memAdmins) Find(_ context.Context, id string) (*AdminAccount, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	a, ok := s.m.admins[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s memAdmins) FindByEmail(_ context.Context, email string) (*AdminAccount, error) {
	email = NormalizeEmail(email)
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, a := range s.m.admins {
		if a.Email == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s memAdmins) Count(context.Context) (int, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return len(s.m.admins), nil
}

func (s memAdmins) SetActive(_ context.Context, id string, active bool, now time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	a, ok := s.m.admins[id]
	if !ok {
		return ErrNotFound
	}
	a.Active = active
	a.UpdatedAt = now
	return nil
}

func (s memAdmins) UpdatePassword(_ context.Context, id, hash string, now time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	a, ok := s.m.admins[id]
	if !ok {
		return ErrNotFound
	}
	a.PasswordHash = hash
	a.ResetTokenHash, a.ResetTokenExpiresAt = nil, nil
	a.UpdatedAt = now
	return nil
}

func (s memAdmins) TouchLogin(_ context.Context, id string, at time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	a, ok := s.m.admins[id]
	if !ok {
		return ErrNotFound
	}
	a.LastLoginAt = timePtr(at)
	return nil
}

func (s memAdmins) SetResetSecret(_ context.Context, id, digest string, expiresAt time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	a, ok := s.m.admins[id]
	if !ok {
		return ErrNotFound
	}
	a.ResetTokenHash = &digest
	a.ResetTokenExpiresAt = timePtr(expiresAt)
	return nil
}

func (s memAdmins) ConsumeResetSecret(_ context.Context, digest string, now time.Time, hash string) (string, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, a := range s.m.admins {
		if a.ResetTokenHash == nil || *a.ResetTokenHash != digest {
			continue
		}
		if a.ResetTokenExpiresAt == nil || !now.Before(*a.ResetTokenExpiresAt) {
			return "", ErrNotFound
		}
		a.PasswordHash = hash
		a.ResetTokenHash, a.ResetTokenExpiresAt = nil, nil
		a.UpdatedAt = now
		return a.ID, nil
	}
	return "", ErrNotFound
}

// Client store --------------------------------------------------------------
type memClients struct{ m *MemoryStore }

// insertClient must be called with the mutex held.
func (m *MemoryStore) insertClient(c *ClientAccount) error {
	if c.ID == "" {
		c.ID = ids.New()
	}
	c.Email = NormalizeEmail(c.Email)
	for _, existing := range m.clients {
		if existing.CompanyID == c.CompanyID {
			return fmt.Errorf("%w: company already has a client account", ErrConflict)
		}
		if existing.Email == c.Email {
			return fmt.Errorf("%w: email already registered", ErrConflict)
		}
	}
	cp := *c
	m.clients[c.ID] = &cp
	return nil
}

func (s memClients) Create(_ context.Context, c *ClientAccount) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.companies[c.CompanyID]; !ok {
		return ErrNotFound
	}
	return s.m.insertClient(c)
}

func (s memClients) Find(_ context.Context, id string) (*ClientAccount, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	c, ok := s.m.clients[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s memClients) FindByEmail(_ context.Context, email string) (*ClientAccount, error) {
	email = NormalizeEmail(email)
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, c := range s.m.clients {
		if c.Email == email {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s memClients) FindByCompany(_ context.Context, companyID string) (*ClientAccount, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, c := range s.m.clients {
		if c.CompanyID == companyID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s memClients) SetActive(_ context.Context, id string, active bool, now time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	c, ok := s.m.clients[id]
	if !ok {
		return ErrNotFound
	}
	c.Active = active
	c.UpdatedAt = now
	return nil
}

func (s memClients) UpdatePassword(_ context.Context, id, hash string, now time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	c, ok := s.m.clients[id]
	if !ok {
		return ErrNotFound
	}
	c.PasswordHash = hash
	c.ResetTokenHash, c.ResetTokenExpiresAt = nil, nil
	c.UpdatedAt = now
	return nil
}

func (s memClients) TouchLogin(_ context.Context, id string, at time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	c, ok := s.m.clients[id]
	if !ok {
		return ErrNotFound
	}
	c.LastLoginAt = timePtr(at)
	return nil
}

func (s memClients) SetResetSecret(_ context.Context, id, digest string, expiresAt time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	c, ok := s.m.clients[id]
	if !ok {
		return ErrNotFound
	}
	c.ResetTokenHash = &digest
	c.ResetTokenExpiresAt = timePtr(expiresAt)
	return nil
}

func (s memClients) ConsumeResetSecret(_ context.Context, digest string, now time.Time, hash string) (string, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, c := range s.m.clients {
		if c.ResetTokenHash == nil || *c.ResetTokenHash != digest {
			continue
		}
		if c.ResetTokenExpiresAt == nil || !now.Before(*c.ResetTokenExpiresAt) {
			return "", ErrNotFound
		}
		c.PasswordHash = hash
		c.ResetTokenHash, c.ResetTokenExpiresAt = nil, nil
		c.UpdatedAt = now
		return c.ID, nil
	}
	return "", ErrNotFound
}

// Company store -------------------------------------------------------------
type memCompanies struct{ m *MemoryStore }

func (s memCompanies) Create(_ context.Context, c *Company) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if c.ID == "" {
		c.ID = ids.New()
	}
	if _, ok := s.m.companies[c.ID]; ok {
		return fmt.Errorf("%w: duplicate id", ErrConflict)
	}
	cp := *c
	s.m.companies[c.ID] = &cp
	return nil
}

func (s memCompanies) Find(_ context.Context, id string) (*Company, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	c, ok := s.m.companies[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s memCompanies) SetStatus(_ context.Context, id string, status CompanyStatus, now time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	c, ok := s.m.companies[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	c.UpdatedAt = now
	return nil
}

// Invite store --------------------------------------------------------------
type memInvites struct{ m *MemoryStore }

func (s memInvites) CreateSuperseding(_ context.Context, inv *InviteToken) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if inv.ID == "" {
		inv.ID = ids.New()
	}
	for _, existing := range s.m.invites {
		if existing.TokenHash == inv.TokenHash {
			return fmt.Errorf("%w: duplicate token", ErrConflict)
		}
	}
	for _, existing := range s.m.invites {
		if existing.CompanyID == inv.CompanyID && existing.UsedAt == nil && existing.SupersededAt == nil {
			existing.SupersededAt = timePtr(inv.CreatedAt)
		}
	}
	cp := *inv
	s.m.invites[inv.ID] = &cp
	return nil
}

func (s memInvites) FindByHash(_ context.Context, digest string) (*InviteToken, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, inv := range s.m.invites {
		if inv.TokenHash == digest {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s memInvites) ListByCompany(_ context.Context, companyID string) ([]*InviteToken, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []*InviteToken
	for _, inv := range s.m.invites {
		if inv.CompanyID == companyID {
			cp := *inv
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s memInvites) Redeem(_ context.Context, digest string, now time.Time, client *ClientAccount) (*InviteToken, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	var inv *InviteToken
	for _, candidate := range s.m.invites {
		if candidate.TokenHash == digest {
			inv = candidate
			break
		}
	}
	if inv == nil || !inv.Usable(now) {
		return nil, ErrSecretInvalid
	}
	company, ok := s.m.companies[inv.CompanyID]
	if !ok || company.Status != CompanyActive {
		return nil, ErrSecretInvalid
	}
	client.Email = inv.Email
	client.CompanyID = inv.CompanyID
	if err := s.m.insertClient(client); err != nil {
		return nil, err
	}
	inv.UsedAt = timePtr(now)
	cp := *inv
	return &cp, nil
}
