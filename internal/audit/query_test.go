package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, store *MemoryStore, events ...Event) {
	t.Helper()
	for i := range events {
		require.NoError(t, store.Append(context.Background(), &events[i]))
	}
}

func TestMemoryStoreListFiltersAndOrders(t *testing.T) {
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	seed(t, store,
		Event{ID: "01", Action: ActionLogin, ActorType: ActorClient, ActorID: String("c1"), CompanyID: String("co1"), CreatedAt: base},
		Event{ID: "02", Action: ActionLoginFailed, ActorType: ActorClient, CompanyID: String("co1"), CreatedAt: base.Add(time.Minute)},
		Event{ID: "03", Action: ActionClientInviteCreate, ActorType: ActorAdmin, ActorID: String("a1"), CompanyID: String("co2"), ResourceType: String("invite"), CreatedAt: base.Add(2 * time.Minute)},
		Event{ID: "04", Action: ActionLogin, ActorType: ActorAdmin, ActorID: String("a1"), CreatedAt: base.Add(3 * time.Minute)},
	)
	ctx := context.Background()

	page, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	require.Equal(t, 4, page.Total)
	assert.Equal(t, "04", page.Events[0].ID)
	assert.Equal(t, "01", page.Events[3].ID)
	assert.Equal(t, DefaultLimit, page.Limit)

	page, err = store.List(ctx, Filter{CompanyID: "co1"})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	page, err = store.List(ctx, Filter{ActorID: "a1", ActorType: ActorAdmin})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	page, err = store.List(ctx, Filter{Actions: []Action{ActionLogin}})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	page, err = store.List(ctx, Filter{ResourceType: "invite"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	page, err = store.List(ctx, Filter{Since: base.Add(time.Minute), Until: base.Add(3 * time.Minute)})
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)
	assert.Equal(t, "03", page.Events[0].ID)

	page, err = store.List(ctx, Filter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	require.Len(t, page.Events, 2)
	assert.Equal(t, "02", page.Events[0].ID)

	page, err = store.List(ctx, Filter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, page.Events)
}

func TestFilterNormalize(t *testing.T) {
	f := Filter{Limit: 5000, Offset: -3}.Normalize()
	assert.Equal(t, MaxLimit, f.Limit)
	assert.Zero(t, f.Offset)
}

func TestQuerySearchValidates(t *testing.T) {
	q, err := NewQuery(NewMemoryStore())
	require.NoError(t, err)

	_, err = q.Search(context.Background(), Filter{Actions: []Action{"bogus"}})
	assert.ErrorIs(t, err, ErrInvalidFilter)

	_, err = q.Search(context.Background(), Filter{ActorType: "robot"})
	assert.ErrorIs(t, err, ErrInvalidFilter)

	now := time.Now()
	_, err = q.Search(context.Background(), Filter{Since: now, Until: now.Add(-time.Hour)})
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestQuerySecurityEvents(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now().UTC()
	seed(t, store,
		Event{ID: "1", Action: ActionLogin, ActorType: ActorAdmin, CreatedAt: now},
		Event{ID: "2", Action: ActionCompanyCreate, ActorType: ActorAdmin, CreatedAt: now},
		Event{ID: "3", Action: ActionRateLimited, ActorType: ActorClient, CreatedAt: now},
	)
	q, err := NewQuery(store)
	require.NoError(t, err)

	page, err := q.SecurityEvents(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	_, err = q.SecurityEvents(context.Background(), Filter{Actions: []Action{ActionCompanyCreate}})
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestQuerySuspiciousActors(t *testing.T) {
	now := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	seed(t, store,
		Event{ID: "1", Action: ActionLogin, ActorType: ActorClient, ActorID: String("c1"), IPAddress: "1.1.1.1", CreatedAt: now.Add(-time.Hour)},
		Event{ID: "2", Action: ActionLogin, ActorType: ActorClient, ActorID: String("c1"), IPAddress: "2.2.2.2", CreatedAt: now.Add(-2 * time.Hour)},
		Event{ID: "3", Action: ActionLogin, ActorType: ActorClient, ActorID: String("c1"), IPAddress: "1.1.1.1", CreatedAt: now.Add(-3 * time.Hour)},
		Event{ID: "4", Action: ActionLogin, ActorType: ActorAdmin, ActorID: String("a1"), IPAddress: "3.3.3.3", CreatedAt: now.Add(-time.Hour)},
		// outside the window
		Event{ID: "5", Action: ActionLogin, ActorType: ActorAdmin, ActorID: String("a1"), IPAddress: "4.4.4.4", CreatedAt: now.Add(-40 * 24 * time.Hour)},
	)
	q, err := NewQuery(store)
	require.NoError(t, err)
	q.now = func() time.Time { return now }

	out, err := q.SuspiciousActors(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "c1", out[0].ActorID)
	assert.Equal(t, 2, out[0].DistinctAddresses)
	assert.Equal(t, []string{"1.1.1.1", "2.2.2.2"}, out[0].Addresses)
	assert.Equal(t, now.Add(-time.Hour), out[0].LastSeen)
}

func TestQueryStats(t *testing.T) {
	now := time.Now().UTC()
	store := NewMemoryStore()
	seed(t, store,
		Event{ID: "1", Action: ActionLogin, CreatedAt: now},
		Event{ID: "2", Action: ActionLogin, CreatedAt: now},
		Event{ID: "3", Action: ActionLoginFailed, CreatedAt: now},
		Event{ID: "4", Action: ActionLogin, CreatedAt: now.Add(-48 * time.Hour)},
	)
	q, err := NewQuery(store)
	require.NoError(t, err)

	counts, err := q.Stats(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[ActionLogin])
	assert.Equal(t, int64(1), counts[ActionLoginFailed])
}
