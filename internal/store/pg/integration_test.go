//go:build integration

package pg

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"clientportal.io/internal/audit"
	"clientportal.io/internal/auth"
	"clientportal.io/internal/ids"
	"clientportal.io/internal/migrate"
)

func setupPostgres(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("portal_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	store, err := Open(dsn, PoolOptions{MaxOpenConns: 20})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Ping(ctx))

	_, err = migrate.NewManager(store.DB(), nil).Up(ctx)
	require.NoError(t, err)
	return store
}

func seedCompany(t *testing.T, store *Store) *auth.Company {
	t.Helper()
	now := time.Now().UTC()
	c := &auth.Company{ID: ids.New(), Name: "Acme", Status: auth.CompanyActive, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.Companies(context.Background()).Create(context.Background(), c))
	return c
}

func TestIntegrationConcurrentRedeem(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()
	company := seedCompany(t, store)
	now := time.Now().UTC()

	inv := &auth.InviteToken{ID: ids.New(), TokenHash: auth.MatchSecret("secret"), CompanyID: company.ID,
		Email: "owner@acme.test", CreatedBy: "admin", ExpiresAt: now.Add(time.Hour), CreatedAt: now}
	require.NoError(t, store.Invites(ctx).CreateSuperseding(ctx, inv))

	const workers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &auth.ClientAccount{ID: ids.New(), PasswordHash: "hash", Active: true, CreatedAt: now, UpdatedAt: now}
			_, err := store.Invites(ctx).Redeem(ctx, auth.MatchSecret("secret"), time.Now().UTC(), client)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, auth.ErrSecretInvalid), errors.Is(err, auth.ErrConflict):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)

	acct, err := store.Clients(ctx).FindByCompany(ctx, company.ID)
	require.NoError(t, err)
	assert.Equal(t, "owner@acme.test", acct.Email)
}

func TestIntegrationSupersedeAndConsumeReset(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()
	company := seedCompany(t, store)
	now := time.Now().UTC()

	first := &auth.InviteToken{ID: ids.New(), TokenHash: "d1", CompanyID: company.ID, Email: "a@acme.test",
		CreatedBy: "admin", ExpiresAt: now.Add(time.Hour), CreatedAt: now}
	second := &auth.InviteToken{ID: ids.New(), TokenHash: "d2", CompanyID: company.ID, Email: "a@acme.test",
		CreatedBy: "admin", ExpiresAt: now.Add(time.Hour), CreatedAt: now.Add(time.Second)}
	require.NoError(t, store.Invites(ctx).CreateSuperseding(ctx, first))
	require.NoError(t, store.Invites(ctx).CreateSuperseding(ctx, second))

	got, err := store.Invites(ctx).FindByHash(ctx, "d1")
	require.NoError(t, err)
	assert.NotNil(t, got.SupersededAt)

	admin := &auth.AdminAccount{ID: ids.New(), Email: "root@example.com", PasswordHash: "old", Role: auth.RoleSuperAdmin,
		Active: true, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.Admins(ctx).Create(ctx, admin))
	require.NoError(t, store.Admins(ctx).SetResetSecret(ctx, admin.ID, "reset-digest", now.Add(time.Hour)))

	id, err := store.Admins(ctx).ConsumeResetSecret(ctx, "reset-digest", now, "new")
	require.NoError(t, err)
	assert.Equal(t, admin.ID, id)
	_, err = store.Admins(ctx).ConsumeResetSecret(ctx, "reset-digest", now, "again")
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestIntegrationAuditQueries(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	for i, ip := range []string{"1.1.1.1", "2.2.2.2", "1.1.1.1"} {
		require.NoError(t, store.Append(ctx, &audit.Event{
			ID: ids.New(), ActorID: audit.String("c1"), ActorType: audit.ActorClient, Action: audit.ActionLogin,
			IPAddress: ip, CreatedAt: now.Add(time.Duration(i) * time.Second),
			Details: map[string]any{"n": i},
		}))
	}

	page, err := store.List(ctx, audit.Filter{ActorID: "c1", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Events, 2)
	assert.True(t, page.Events[0].CreatedAt.After(page.Events[1].CreatedAt))

	origins, err := store.MultiOriginActors(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, origins, 1)
	assert.Equal(t, 2, origins[0].DistinctAddresses)

	counts, err := store.CountByAction(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[audit.ActionLogin])
}
