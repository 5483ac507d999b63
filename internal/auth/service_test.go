package auth

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"clientportal.io/internal/audit"
	"clientportal.io/internal/notify"
)

type eventLog struct {
	mu     sync.Mutex
	events []audit.Event
}

func (l *eventLog) Record(_ context.Context, ev audit.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) actions() []audit.Action {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]audit.Action, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Action)
	}
	return out
}

func (l *eventLog) withAction(action audit.Action) []audit.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []audit.Event
	for _, ev := range l.events {
		if ev.Action == action {
			out = append(out, ev)
		}
	}
	return out
}

func (l *eventLog) last() audit.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events[len(l.events)-1]
}

type captureNotifier struct {
	mu      sync.Mutex
	invites []notify.InviteNotice
	resets  []notify.ResetNotice
}

func (c *captureNotifier) SendInvite(_ context.Context, n notify.InviteNotice) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invites = append(c.invites, n)
	return nil
}

func (c *captureNotifier) SendPasswordReset(_ context.Context, n notify.ResetNotice) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resets = append(c.resets, n)
	return nil
}

type fixture struct {
	svc      *Service
	store    *MemoryStore
	events   *eventLog
	notifier *captureNotifier
	now      time.Time
	super    *Claims
	admin    *Claims
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    NewMemoryStore(),
		events:   &eventLog{},
		notifier: &captureNotifier{},
		now:      time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	signer, err := NewSigner(testSecret, WithSignerClock(clock))
	require.NoError(t, err)
	f.svc, err = NewService(f.store, signer, NewHasher(bcrypt.MinCost),
		WithRecorder(f.events),
		WithNotifier(f.notifier),
		WithClock(clock),
		WithBaseURL("https://portal.example.com/"),
	)
	require.NoError(t, err)

	created, err := f.svc.BootstrapSuperAdmin(context.Background(), "Root@Example.com", "rootpassword")
	require.NoError(t, err)
	require.True(t, created)
	root, err := f.store.Admins(context.Background()).FindByEmail(context.Background(), "root@example.com")
	require.NoError(t, err)
	f.super = &Claims{PrincipalType: PrincipalAdmin, Role: RoleSuperAdmin}
	f.super.Subject = root.ID

	staff, err := f.svc.CreateAdmin(context.Background(), f.super, "staff@example.com", "Staff", "staffpassword", RoleAdmin)
	require.NoError(t, err)
	f.admin = &Claims{PrincipalType: PrincipalAdmin, Role: RoleAdmin}
	f.admin.Subject = staff.ID
	return f
}

func (f *fixture) company(t *testing.T, name string) *Company {
	t.Helper()
	c, err := f.svc.CreateCompany(context.Background(), f.admin, name)
	require.NoError(t, err)
	return c
}

func (f *fixture) invite(t *testing.T, companyID, email string) string {
	t.Helper()
	issued, err := f.svc.CreateInvite(context.Background(), f.admin, companyID, email, 0)
	require.NoError(t, err)
	return secretFromLink(t, issued.URL)
}

func (f *fixture) client(t *testing.T, companyName, email, password string) (*Company, Session) {
	t.Helper()
	company := f.company(t, companyName)
	secret := f.invite(t, company.ID, email)
	session, err := f.svc.AcceptInvite(context.Background(), secret, password)
	require.NoError(t, err)
	return company, session
}

func secretFromLink(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	secret := u.Query().Get("token")
	require.NotEmpty(t, secret)
	return secret
}

func TestLoginSuccessIssuesVerifiableToken(t *testing.T) {
	f := newFixture(t)
	company, _ := f.client(t, "Acme", "owner@acme.test", "clientpassword")

	session, err := f.svc.Login(context.Background(), "  OWNER@acme.test ", "clientpassword", PrincipalClient)
	require.NoError(t, err)
	assert.Equal(t, PrincipalClient, session.Principal.Type)
	assert.Equal(t, "Acme", session.Principal.CompanyName)
	assert.NotNil(t, session.Principal.LastLoginAt)

	claims, err := f.svc.Signer().Verify(session.Token)
	require.NoError(t, err)
	assert.Equal(t, company.ID, claims.CompanyID)

	last := f.events.last()
	assert.Equal(t, audit.ActionLogin, last.Action)
	assert.Equal(t, company.ID, *last.CompanyID)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.client(t, "Active Co", "active@client.test", "clientpassword")

	disabled, _ := f.client(t, "Disabled Co", "disabled@client.test", "clientpassword")
	acct, err := f.store.Clients(ctx).FindByCompany(ctx, disabled.ID)
	require.NoError(t, err)
	_, err = f.svc.SetClientActive(ctx, f.admin, acct.ID, false)
	require.NoError(t, err)

	paused, _ := f.client(t, "Paused Co", "paused@client.test", "clientpassword")
	_, err = f.svc.SetCompanyStatus(ctx, f.admin, paused.ID, CompanyPaused)
	require.NoError(t, err)

	cases := []struct {
		name, email, password string
	}{
		{"unknown email", "nobody@client.test", "clientpassword"},
		{"wrong password", "active@client.test", "wrongpassword"},
		{"inactive account", "disabled@client.test", "clientpassword"},
		{"inactive company", "paused@client.test", "clientpassword"},
	}
	var messages []string
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Login(ctx, tc.email, tc.password, PrincipalClient)
			require.ErrorIs(t, err, ErrInvalidCredentials)
			messages = append(messages, err.Error())
			assert.Equal(t, audit.ActionLoginFailed, f.events.last().Action)
		})
	}
	for _, m := range messages {
		assert.Equal(t, messages[0], m)
	}

	_, err = f.svc.Login(ctx, "active@client.test", "clientpassword", PrincipalAdmin)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAdminLoginCarriesRole(t *testing.T) {
	f := newFixture(t)
	session, err := f.svc.Login(context.Background(), "root@example.com", "rootpassword", PrincipalAdmin)
	require.NoError(t, err)
	claims, err := f.svc.Signer().Verify(session.Token)
	require.NoError(t, err)
	assert.True(t, claims.IsSuperAdmin())
	assert.Equal(t, RoleSuperAdmin, session.Principal.Role)
}

func TestPasswordResetLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.client(t, "Acme", "owner@acme.test", "clientpassword")

	require.NoError(t, f.svc.RequestPasswordReset(ctx, "owner@acme.test", PrincipalClient))
	require.NoError(t, f.svc.RequestPasswordReset(ctx, "ghost@acme.test", PrincipalClient))

	f.notifier.mu.Lock()
	require.Len(t, f.notifier.resets, 1)
	link := f.notifier.resets[0].URL
	f.notifier.mu.Unlock()
	assert.Contains(t, link, "https://portal.example.com/reset-password?token=")
	secret := secretFromLink(t, link)

	assert.ErrorIs(t, f.svc.ResetPassword(ctx, secret, "short", PrincipalClient), ErrInvalidInput)
	assert.ErrorIs(t, f.svc.ResetPassword(ctx, secret, "newpassword", PrincipalAdmin), ErrSecretInvalid)

	require.NoError(t, f.svc.ResetPassword(ctx, secret, "newpassword", PrincipalClient))
	assert.ErrorIs(t, f.svc.ResetPassword(ctx, secret, "anotherpassword", PrincipalClient), ErrSecretInvalid)
	assert.ErrorIs(t, f.svc.ResetPassword(ctx, "guessed-reset-secret", "newpassword", PrincipalClient), ErrSecretInvalid)

	failed := f.events.withAction(audit.ActionPasswordResetFailed)
	require.Len(t, failed, 4)
	reasons := make([]any, 0, len(failed))
	for _, ev := range failed {
		assert.Nil(t, ev.ActorID)
		reasons = append(reasons, ev.Details["reason"])
	}
	assert.Equal(t, []any{"password_rejected", "secret_invalid", "secret_invalid", "secret_invalid"}, reasons)
	assert.Equal(t, audit.ActorAdmin, failed[1].ActorType)
	assert.Len(t, f.events.withAction(audit.ActionPasswordReset), 1)

	_, err := f.svc.Login(ctx, "owner@acme.test", "clientpassword", PrincipalClient)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, "owner@acme.test", "newpassword", PrincipalClient)
	require.NoError(t, err)

	var requests int
	for _, a := range f.events.actions() {
		if a == audit.ActionPasswordResetRequest {
			requests++
		}
	}
	assert.Equal(t, 2, requests)
}

func TestPasswordResetExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.RequestPasswordReset(ctx, "staff@example.com", PrincipalAdmin))
	f.notifier.mu.Lock()
	require.Len(t, f.notifier.resets, 1)
	link := f.notifier.resets[0].URL
	f.notifier.mu.Unlock()
	assert.Contains(t, link, "/admin/reset-password?token=")

	f.advance(DefaultResetTTL + time.Second)
	assert.ErrorIs(t, f.svc.ResetPassword(ctx, secretFromLink(t, link), "newpassword", PrincipalAdmin), ErrSecretInvalid)
}

func TestAcceptInviteConcurrentRedemption(t *testing.T) {
	f := newFixture(t)
	company := f.company(t, "Race Co")
	secret := f.invite(t, company.ID, "race@client.test")

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.AcceptInvite(context.Background(), secret, "clientpassword")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			failures = append(failures, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	for _, err := range failures {
		assert.True(t, errors.Is(err, ErrSecretInvalid) || errors.Is(err, ErrConflict), "unexpected error %v", err)
	}
	acct, err := f.store.Clients(context.Background()).FindByCompany(context.Background(), company.ID)
	require.NoError(t, err)
	assert.Equal(t, "race@client.test", acct.Email)
}

func TestInviteSupersededAndExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	company := f.company(t, "Acme")

	first := f.invite(t, company.ID, "first@acme.test")
	second := f.invite(t, company.ID, "second@acme.test")

	_, err := f.svc.InspectInvite(ctx, first)
	assert.ErrorIs(t, err, ErrSecretInvalid)
	_, err = f.svc.AcceptInvite(ctx, first, "clientpassword")
	assert.ErrorIs(t, err, ErrSecretInvalid)

	preview, err := f.svc.InspectInvite(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, "Acme", preview.CompanyName)
	assert.Equal(t, "second@acme.test", preview.Email)

	invites, err := f.svc.ListInvites(ctx, company.ID)
	require.NoError(t, err)
	require.Len(t, invites, 2)
	assert.Nil(t, invites[0].SupersededAt)
	assert.NotNil(t, invites[1].SupersededAt)

	f.advance(DefaultInviteTTL + time.Minute)
	_, err = f.svc.AcceptInvite(ctx, second, "clientpassword")
	assert.ErrorIs(t, err, ErrSecretInvalid)
	_, err = f.svc.AcceptInvite(ctx, "guessed-invite-secret", "clientpassword")
	assert.ErrorIs(t, err, ErrSecretInvalid)

	failed := f.events.withAction(audit.ActionClientInviteFailed)
	require.Len(t, failed, 3)
	for _, ev := range failed {
		assert.Nil(t, ev.ActorID)
		assert.Equal(t, audit.ActorClient, ev.ActorType)
		assert.Equal(t, "secret_invalid", ev.Details["reason"])
		assert.True(t, ev.Action.IsSecurity())
	}
	assert.Empty(t, f.events.withAction(audit.ActionClientInviteAccept))
}

func TestAcceptInviteRejectsInactiveCompany(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	company := f.company(t, "Acme")
	secret := f.invite(t, company.ID, "owner@acme.test")
	_, err := f.svc.SetCompanyStatus(ctx, f.admin, company.ID, CompanyArchived)
	require.NoError(t, err)

	_, err = f.svc.AcceptInvite(ctx, secret, "clientpassword")
	assert.ErrorIs(t, err, ErrSecretInvalid)
}

func TestCreateInviteGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	company, _ := f.client(t, "Acme", "owner@acme.test", "clientpassword")

	_, err := f.svc.CreateInvite(ctx, f.admin, company.ID, "other@acme.test", 0)
	assert.ErrorIs(t, err, ErrConflict)

	other := f.company(t, "Other")
	_, err = f.svc.CreateInvite(ctx, f.admin, other.ID, "owner@acme.test", 0)
	assert.ErrorIs(t, err, ErrConflict)
	_, err = f.svc.CreateInvite(ctx, f.admin, other.ID, "not-an-email", 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.CreateInvite(ctx, f.admin, other.ID, "x@other.test", 200*time.Hour)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.CreateInvite(ctx, f.admin, "missing", "x@other.test", 0)
	assert.ErrorIs(t, err, ErrNotFound)

	clientClaims := &Claims{PrincipalType: PrincipalClient, CompanyID: company.ID}
	_, err = f.svc.CreateInvite(ctx, clientClaims, other.ID, "x@other.test", 0)
	assert.ErrorIs(t, err, ErrForbidden)

	issued, err := f.svc.CreateInvite(ctx, f.admin, other.ID, "x@other.test", 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, f.now.Add(24*time.Hour), issued.ExpiresAt)
	assert.Equal(t, audit.ActionClientInviteCreate, f.events.last().Action)

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	assert.Equal(t, "Other", f.notifier.invites[len(f.notifier.invites)-1].CompanyName)
}

func TestCreateClientAccountOnePerCompany(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	company := f.company(t, "Direct Co")

	acct, err := f.svc.CreateClientAccount(ctx, f.admin, company.ID, "direct@client.test", "clientpassword")
	require.NoError(t, err)
	assert.True(t, acct.Active)

	_, err = f.svc.CreateClientAccount(ctx, f.admin, company.ID, "second@client.test", "clientpassword")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestDisabledClientTokenStillVerifiesButResolveFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	company, session := f.client(t, "Acme", "owner@acme.test", "clientpassword")

	claims, err := f.svc.Signer().Verify(session.Token)
	require.NoError(t, err)
	_, _, err = f.svc.ResolveClient(ctx, claims)
	require.NoError(t, err)

	_, err = f.svc.SetClientActive(ctx, f.admin, claims.Subject, false)
	require.NoError(t, err)
	assert.Equal(t, audit.ActionClientDisable, f.events.last().Action)

	claims, err = f.svc.Signer().Verify(session.Token)
	require.NoError(t, err)
	_, _, err = f.svc.ResolveClient(ctx, claims)
	assert.ErrorIs(t, err, ErrAccountInactive)

	_, err = f.svc.SetClientActive(ctx, f.admin, claims.Subject, true)
	require.NoError(t, err)
	_, err = f.svc.SetCompanyStatus(ctx, f.admin, company.ID, CompanyPaused)
	require.NoError(t, err)
	_, _, err = f.svc.ResolveClient(ctx, claims)
	assert.ErrorIs(t, err, ErrCompanyInactive)

	_, err = f.svc.ResolveAdmin(ctx, claims)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, session := f.client(t, "Acme", "owner@acme.test", "clientpassword")
	claims, err := f.svc.Signer().Verify(session.Token)
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.ChangePassword(ctx, claims, "wrongpassword", "newpassword"), ErrCurrentPasswordIncorrect)
	assert.ErrorIs(t, f.svc.ChangePassword(ctx, claims, "clientpassword", "short"), ErrInvalidInput)
	require.NoError(t, f.svc.ChangePassword(ctx, claims, "clientpassword", "newpassword"))
	assert.Equal(t, audit.ActionPasswordChange, f.events.last().Action)

	_, err = f.svc.Login(ctx, "owner@acme.test", "newpassword", PrincipalClient)
	require.NoError(t, err)
}

func TestChangePasswordClearsPendingReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.RequestPasswordReset(ctx, "staff@example.com", PrincipalAdmin))
	f.notifier.mu.Lock()
	secret := secretFromLink(t, f.notifier.resets[0].URL)
	f.notifier.mu.Unlock()

	require.NoError(t, f.svc.ChangePassword(ctx, f.admin, "staffpassword", "rotatedpassword"))
	assert.ErrorIs(t, f.svc.ResetPassword(ctx, secret, "hijacked1", PrincipalAdmin), ErrSecretInvalid)
}

func TestAdminManagementRequiresSuperAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateAdmin(ctx, f.admin, "new@example.com", "New", "newpassword", RoleAdmin)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.CreateAdmin(ctx, f.super, "staff@example.com", "Dup", "newpassword", RoleAdmin)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = f.svc.SetAdminActive(ctx, f.super, f.super.Subject, false)
	assert.ErrorIs(t, err, ErrForbidden)

	acct, err := f.svc.SetAdminActive(ctx, f.super, f.admin.Subject, false)
	require.NoError(t, err)
	assert.False(t, acct.Active)
	assert.Equal(t, audit.ActionAdminUpdate, f.events.last().Action)

	_, err = f.svc.ResolveAdmin(ctx, f.admin)
	assert.ErrorIs(t, err, ErrAccountInactive)
}

func TestBootstrapSuperAdminRunsOnce(t *testing.T) {
	f := newFixture(t)
	created, err := f.svc.BootstrapSuperAdmin(context.Background(), "second@example.com", "rootpassword")
	require.NoError(t, err)
	assert.False(t, created)
}

func TestLogoutRecordsEvent(t *testing.T) {
	f := newFixture(t)
	f.svc.Logout(context.Background(), f.admin)
	ev := f.events.last()
	assert.Equal(t, audit.ActionLogout, ev.Action)
	assert.Equal(t, f.admin.Subject, *ev.ActorID)
}

func TestPrincipalSanitized(t *testing.T) {
	hash := "digest"
	p := Principal{Type: PrincipalAdmin, Admin: &AdminAccount{ID: "a1", Email: "a@example.com", PasswordHash: "secret", ResetTokenHash: &hash, Role: RoleAdmin}}
	v := p.Sanitized()
	assert.Equal(t, "a1", v.ID)
	assert.Equal(t, RoleAdmin, v.Role)
}
