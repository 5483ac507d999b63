package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"clientportal.io/internal/audit"
	"clientportal.io/internal/ids"
	"clientportal.io/internal/notify"
	"clientportal.io/internal/obs"
)

const (
	DefaultInviteTTL = 48 * time.Hour
	MinInviteTTL     = time.Hour
	MaxInviteTTL     = 168 * time.Hour
	DefaultResetTTL  = time.Hour
)

// Service implements authentication, credential lifecycle and account administration.
type Service struct {
	store    Store
	signer   *Signer
	hasher   *Hasher
	recorder audit.Recorder
	notifier notify.Notifier
	log      *logrus.Logger
	now      func() time.Time

	baseURL   string
	inviteTTL time.Duration
	resetTTL  time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithRecorder sets the audit sink.
func WithRecorder(r audit.Recorder) ServiceOption {
	return func(s *Service) error {
		if r != nil {
			s.recorder = r
		}
		return nil
	}
}

// WithNotifier sets the collaborator that delivers invite and reset links.
func WithNotifier(n notify.Notifier) ServiceOption {
	return func(s *Service) error {
		if n != nil {
			s.notifier = n
		}
		return nil
	}
}

// WithLogger overrides the service logger.
func WithLogger(l *logrus.Logger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.log = l
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithBaseURL sets the public origin used to build invite and reset links.
func WithBaseURL(raw string) ServiceOption {
	return func(s *Service) error {
		raw = strings.TrimRight(strings.TrimSpace(raw), "/")
		if raw == "" {
			return nil
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("auth: invalid base url %q", raw)
		}
		s.baseURL = raw
		return nil
	}
}

// WithInviteTTL sets the default invite lifetime.
func WithInviteTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl == 0 {
			return nil
		}
		if ttl < MinInviteTTL || ttl > MaxInviteTTL {
			return fmt.Errorf("auth: invite ttl %s outside [%s, %s]", ttl, MinInviteTTL, MaxInviteTTL)
		}
		s.inviteTTL = ttl
		return nil
	}
}

// WithResetTTL sets the password-reset link lifetime.
func WithResetTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.resetTTL = ttl
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, signer *Signer, hasher *Hasher, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if signer == nil {
		return nil, errors.New("auth: signer is required")
	}
	if hasher == nil {
		hasher = NewHasher(DefaultBcryptCost)
	}
	svc := &Service{
		store:     store,
		signer:    signer,
		hasher:    hasher,
		recorder:  audit.Nop,
		notifier:  notify.Nop,
		log:       obs.Logger(),
		now:       time.Now,
		baseURL:   "http://localhost:8080",
		inviteTTL: DefaultInviteTTL,
		resetTTL:  DefaultResetTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Signer exposes the token verifier used by the HTTP layer.
func (s *Service) Signer() *Signer { return s.signer }

// Login authenticates email and password for the given principal type.
// Every failure returns ErrInvalidCredentials so callers cannot tell which check failed.
func (s *Service) Login(ctx context.Context, email, password string, typ PrincipalType) (Session, error) {
	if !typ.Valid() {
		return Session{}, fmt.Errorf("%w: unknown principal type", ErrInvalidInput)
	}
	email = NormalizeEmail(email)
	now := s.now().UTC()

	var (
		principal Principal
		actorID   string
		companyID string
		reason    string
		hash      string
		active    bool
	)
	switch typ {
	case PrincipalAdmin:
		acct, err := s.store.Admins(ctx).FindByEmail(ctx, email)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return Session{}, err
		}
		if acct != nil {
			actorID, hash, active = acct.ID, acct.PasswordHash, acct.Active
			principal = Principal{Type: PrincipalAdmin, Admin: acct}
		}
	case PrincipalClient:
		acct, err := s.store.Clients(ctx).FindByEmail(ctx, email)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return Session{}, err
		}
		if acct != nil {
			actorID, hash, active, companyID = acct.ID, acct.PasswordHash, acct.Active, acct.CompanyID
			principal = Principal{Type: PrincipalClient, Client: acct}
		}
	}

	switch {
	case actorID == "":
		s.hasher.VerifyDummy(password)
		reason = "unknown_email"
	case !s.hasher.Verify(hash, password):
		reason = "wrong_password"
	case !active:
		reason = "account_inactive"
	}
	if reason == "" && typ == PrincipalClient {
		company, err := s.store.Companies(ctx).Find(ctx, companyID)
		switch {
		case errors.Is(err, ErrNotFound):
			reason = "company_missing"
		case err != nil:
			return Session{}, err
		case company.Status != CompanyActive:
			reason = "company_" + string(company.Status)
		default:
			principal.Company = company
		}
	}

	if reason != "" {
		s.record(ctx, audit.Event{
			ActorID:   audit.String(actorID),
			ActorType: audit.ActorType(typ),
			CompanyID: audit.String(companyID),
			Action:    audit.ActionLoginFailed,
			Details:   map[string]any{"email": email, "reason": reason},
		})
		obs.ObserveAuth(string(typ), "login", "failure")
		return Session{}, ErrInvalidCredentials
	}

	if err := s.passwords(ctx, typ).TouchLogin(ctx, actorID, now); err != nil {
		s.log.WithError(err).WithField("account_id", actorID).Warn("auth: record last login")
	}
	switch typ {
	case PrincipalAdmin:
		principal.Admin.LastLoginAt = &now
	case PrincipalClient:
		principal.Client.LastLoginAt = &now
	}

	session, err := s.issueSession(principal)
	if err != nil {
		return Session{}, err
	}
	s.record(ctx, audit.Event{
		ActorID:   audit.String(actorID),
		ActorType: audit.ActorType(typ),
		CompanyID: audit.String(companyID),
		Action:    audit.ActionLogin,
	})
	obs.ObserveAuth(string(typ), "login", "success")
	return session, nil
}

// RequestPasswordReset starts a reset for email. The outcome is identical whether or not
// an account exists.
func (s *Service) RequestPasswordReset(ctx context.Context, email string, typ PrincipalType) error {
	if !typ.Valid() {
		return fmt.Errorf("%w: unknown principal type", ErrInvalidInput)
	}
	email = NormalizeEmail(email)
	now := s.now().UTC()

	plaintext, digest, err := GenerateSecret()
	if err != nil {
		s.log.WithError(err).Error("auth: generate reset secret")
		return nil
	}
	expiresAt := now.Add(s.resetTTL)

	var actorID, companyID string
	switch typ {
	case PrincipalAdmin:
		if acct, err := s.store.Admins(ctx).FindByEmail(ctx, email); err == nil && acct.Active {
			actorID = acct.ID
		}
	case PrincipalClient:
		if acct, err := s.store.Clients(ctx).FindByEmail(ctx, email); err == nil && acct.Active {
			actorID, companyID = acct.ID, acct.CompanyID
		}
	}

	found := actorID != ""
	if found {
		if err := s.passwords(ctx, typ).SetResetSecret(ctx, actorID, digest, expiresAt); err != nil {
			s.log.WithError(err).WithField("account_id", actorID).Error("auth: persist reset secret")
			found = false
		} else {
			_ = s.notifier.SendPasswordReset(ctx, notify.ResetNotice{
				Email:         email,
				PrincipalType: string(typ),
				URL:           s.link(resetPath(typ), plaintext),
				ExpiresAt:     expiresAt,
			})
		}
	}

	s.record(ctx, audit.Event{
		ActorID:   audit.String(actorID),
		ActorType: audit.ActorType(typ),
		CompanyID: audit.String(companyID),
		Action:    audit.ActionPasswordResetRequest,
		Details:   map[string]any{"email": email, "account_found": found},
	})
	obs.ObserveAuth(string(typ), "reset_request", "accepted")
	return nil
}

// ResetPassword completes a reset. A secret can be used exactly once.
// Every rejected attempt is audited as password_reset_failed.
func (s *Service) ResetPassword(ctx context.Context, secret, newPassword string, typ PrincipalType) error {
	if !typ.Valid() {
		return fmt.Errorf("%w: unknown principal type", ErrInvalidInput)
	}
	if strings.TrimSpace(secret) == "" {
		s.resetFailed(ctx, typ, ErrSecretInvalid)
		return ErrSecretInvalid
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		s.resetFailed(ctx, typ, err)
		return err
	}
	now := s.now().UTC()
	id, err := s.passwords(ctx, typ).ConsumeResetSecret(ctx, MatchSecret(secret), now, hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			err = ErrSecretInvalid
		}
		s.resetFailed(ctx, typ, err)
		return err
	}

	var companyID string
	if typ == PrincipalClient {
		if acct, err := s.store.Clients(ctx).Find(ctx, id); err == nil {
			companyID = acct.CompanyID
		}
	}
	s.record(ctx, audit.Event{
		ActorID:   audit.String(id),
		ActorType: audit.ActorType(typ),
		CompanyID: audit.String(companyID),
		Action:    audit.ActionPasswordReset,
	})
	obs.ObserveAuth(string(typ), "reset", "success")
	return nil
}

func (s *Service) resetFailed(ctx context.Context, typ PrincipalType, err error) {
	s.record(ctx, audit.Event{
		ActorType: audit.ActorType(typ),
		Action:    audit.ActionPasswordResetFailed,
		Details:   map[string]any{"reason": failureReason(err)},
	})
	obs.ObserveAuth(string(typ), "reset", "failure")
}

// failureReason classifies a rejected secret redemption for the audit trail.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrSecretInvalid):
		return "secret_invalid"
	case errors.Is(err, ErrInvalidInput):
		return "password_rejected"
	case errors.Is(err, ErrConflict):
		return "account_exists"
	default:
		return "internal_error"
	}
}

// InspectInvite returns what an invite grants without consuming it.
func (s *Service) InspectInvite(ctx context.Context, secret string) (InvitePreview, error) {
	if strings.TrimSpace(secret) == "" {
		return InvitePreview{}, ErrSecretInvalid
	}
	inv, err := s.store.Invites(ctx).FindByHash(ctx, MatchSecret(secret))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return InvitePreview{}, ErrSecretInvalid
		}
		return InvitePreview{}, err
	}
	if !inv.Usable(s.now().UTC()) {
		return InvitePreview{}, ErrSecretInvalid
	}
	company, err := s.store.Companies(ctx).Find(ctx, inv.CompanyID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return InvitePreview{}, ErrSecretInvalid
		}
		return InvitePreview{}, err
	}
	if company.Status != CompanyActive {
		return InvitePreview{}, ErrSecretInvalid
	}
	return InvitePreview{
		CompanyID:   company.ID,
		CompanyName: company.Name,
		Email:       inv.Email,
		ExpiresAt:   inv.ExpiresAt,
	}, nil
}

// AcceptInvite redeems an invite, creating the company's client account and signing it in.
// Rejected attempts are audited as client_invite_accept_failed.
func (s *Service) AcceptInvite(ctx context.Context, secret, password string) (Session, error) {
	if strings.TrimSpace(secret) == "" {
		s.inviteFailed(ctx, ErrSecretInvalid)
		return Session{}, ErrSecretInvalid
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.inviteFailed(ctx, err)
		return Session{}, err
	}
	now := s.now().UTC()
	client := &ClientAccount{
		ID:           ids.New(),
		PasswordHash: hash,
		Active:       true,
		LastLoginAt:  &now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	inv, err := s.store.Invites(ctx).Redeem(ctx, MatchSecret(secret), now, client)
	if err != nil {
		s.inviteFailed(ctx, err)
		return Session{}, err
	}
	// the account exists from here on
	s.record(ctx, audit.Event{
		ActorID:      audit.String(client.ID),
		ActorType:    audit.ActorClient,
		CompanyID:    audit.String(client.CompanyID),
		Action:       audit.ActionClientInviteAccept,
		ResourceType: audit.String("invite"),
		ResourceID:   audit.String(inv.ID),
		Details:      map[string]any{"email": client.Email},
	})
	obs.ObserveAuth(string(PrincipalClient), "invite_accept", "success")

	company, err := s.store.Companies(ctx).Find(ctx, client.CompanyID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(Principal{Type: PrincipalClient, Client: client, Company: company})
}

func (s *Service) inviteFailed(ctx context.Context, err error) {
	s.record(ctx, audit.Event{
		ActorType:    audit.ActorClient,
		Action:       audit.ActionClientInviteFailed,
		ResourceType: audit.String("invite"),
		Details:      map[string]any{"reason": failureReason(err)},
	})
	obs.ObserveAuth(string(PrincipalClient), "invite_accept", "failure")
}

// ChangePassword replaces the password of the authenticated principal.
func (s *Service) ChangePassword(ctx context.Context, claims *Claims, current, newPassword string) error {
	if claims == nil {
		return ErrInvalidToken
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	var hash, companyID string
	switch claims.PrincipalType {
	case PrincipalAdmin:
		acct, err := s.ResolveAdmin(ctx, claims)
		if err != nil {
			return err
		}
		hash = acct.PasswordHash
	case PrincipalClient:
		acct, err := s.store.Clients(ctx).Find(ctx, claims.Subject)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrInvalidToken
			}
			return err
		}
		if !acct.Active {
			return ErrAccountInactive
		}
		hash, companyID = acct.PasswordHash, acct.CompanyID
	default:
		return ErrInvalidToken
	}

	if !s.hasher.Verify(hash, current) {
		obs.ObserveAuth(string(claims.PrincipalType), "change_password", "failure")
		return ErrCurrentPasswordIncorrect
	}
	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.passwords(ctx, claims.PrincipalType).UpdatePassword(ctx, claims.Subject, newHash, s.now().UTC()); err != nil {
		return err
	}
	s.record(ctx, audit.Event{
		ActorID:   audit.String(claims.Subject),
		ActorType: audit.ActorType(claims.PrincipalType),
		CompanyID: audit.String(companyID),
		Action:    audit.ActionPasswordChange,
	})
	obs.ObserveAuth(string(claims.PrincipalType), "change_password", "success")
	return nil
}

// Logout records the end of a session. Tokens are stateless and stay valid until expiry.
func (s *Service) Logout(ctx context.Context, claims *Claims) {
	if claims == nil {
		return
	}
	s.record(ctx, audit.Event{
		ActorID:   audit.String(claims.Subject),
		ActorType: audit.ActorType(claims.PrincipalType),
		CompanyID: audit.String(claims.CompanyID),
		Action:    audit.ActionLogout,
	})
}

// ResolveAdmin re-reads the administrator behind claims.
func (s *Service) ResolveAdmin(ctx context.Context, claims *Claims) (*AdminAccount, error) {
	if claims == nil {
		return nil, ErrInvalidToken
	}
	if claims.PrincipalType != PrincipalAdmin {
		return nil, ErrForbidden
	}
	acct, err := s.store.Admins(ctx).Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if !acct.Active {
		return nil, ErrAccountInactive
	}
	return acct, nil
}

// ResolveClient re-reads the client and company behind claims.
func (s *Service) ResolveClient(ctx context.Context, claims *Claims) (*ClientAccount, *Company, error) {
	if claims == nil {
		return nil, nil, ErrInvalidToken
	}
	if claims.PrincipalType != PrincipalClient {
		return nil, nil, ErrForbidden
	}
	acct, err := s.store.Clients(ctx).Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, ErrInvalidToken
		}
		return nil, nil, err
	}
	if !acct.Active {
		return nil, nil, ErrAccountInactive
	}
	company, err := s.store.Companies(ctx).Find(ctx, acct.CompanyID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, ErrCompanyInactive
		}
		return nil, nil, err
	}
	if company.Status != CompanyActive {
		return nil, nil, ErrCompanyInactive
	}
	return acct, company, nil
}

// Principal resolves claims to a live principal of either type.
func (s *Service) Principal(ctx context.Context, claims *Claims) (Principal, error) {
	if claims == nil {
		return Principal{}, ErrInvalidToken
	}
	switch claims.PrincipalType {
	case PrincipalAdmin:
		acct, err := s.ResolveAdmin(ctx, claims)
		if err != nil {
			return Principal{}, err
		}
		return Principal{Type: PrincipalAdmin, Admin: acct}, nil
	case PrincipalClient:
		acct, company, err := s.ResolveClient(ctx, claims)
		if err != nil {
			return Principal{}, err
		}
		return Principal{Type: PrincipalClient, Client: acct, Company: company}, nil
	}
	return Principal{}, ErrInvalidToken
}

func (s *Service) issueSession(p Principal) (Session, error) {
	claims := Claims{PrincipalType: p.Type}
	switch p.Type {
	case PrincipalAdmin:
		claims.Subject = p.Admin.ID
		claims.Role = p.Admin.Role
	case PrincipalClient:
		claims.Subject = p.Client.ID
		claims.CompanyID = p.Client.CompanyID
	}
	token, exp, err := s.signer.Issue(claims)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, ExpiresAt: exp, Principal: p.Sanitized()}, nil
}

func (s *Service) passwords(ctx context.Context, typ PrincipalType) PasswordStore {
	if typ == PrincipalAdmin {
		return s.store.Admins(ctx)
	}
	return s.store.Clients(ctx)
}

func (s *Service) record(ctx context.Context, ev audit.Event) {
	s.recorder.Record(ctx, ev)
}

func (s *Service) link(path, secret string) string {
	return s.baseURL + path + "?token=" + url.QueryEscape(secret)
}

func resetPath(typ PrincipalType) string {
	if typ == PrincipalAdmin {
		return "/admin/reset-password"
	}
	return "/reset-password"
}

func validateEmail(email string) (string, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	return email, nil
}
