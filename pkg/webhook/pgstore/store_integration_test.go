//go:build integration

package pgstore_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/hookrelay/migrations"
	"github.com/dmitrymomot/hookrelay/pkg/config"
	"github.com/dmitrymomot/hookrelay/pkg/pg"
	"github.com/dmitrymomot/hookrelay/pkg/secrets"
	"github.com/dmitrymomot/hookrelay/pkg/webhook"
	"github.com/dmitrymomot/hookrelay/pkg/webhook/pgstore"
)

func setupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	var cfg pg.Config
	require.NoError(t, config.Load(&cfg, config.WithEnvironment(map[string]string{"DATABASE_URL": url})))
	pool, err := pg.Connect(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, pg.Migrate(ctx, pool, migrations.FS, cfg, slog.New(slog.DiscardHandler)))
	return pool
}

func newEndpoint(t *testing.T, store *pgstore.Store) *webhook.Endpoint {
	t.Helper()
	e := &webhook.Endpoint{
		URL:            "https://example.com/hooks",
		Active:         true,
		Secret:         "whsec_test",
		MaxAttempts:    5,
		RetryIntervals: []time.Duration{time.Second, time.Minute},
		Headers:        map[string]string{"X-Tenant": "acme"},
		Events:         []string{"order.*"},
	}
	require.NoError(t, store.CreateEndpoint(context.Background(), e))
	return e
}

func TestStore_DeliveryLifecycle(t *testing.T) {
	pool := setupPool(t)
	store := pgstore.New(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	d := webhook.NewDelivery("https://example.com/hooks", "order.created", json.RawMessage(`{"id":1}`), 3, now)
	d.SetMetadata("tenant", "acme")
	require.NoError(t, store.CreateDelivery(ctx, d))

	got, err := store.GetDelivery(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusPending, got.Status)
	assert.JSONEq(t, `{"id":1}`, string(got.Payload))
	assert.Equal(t, "acme", got.Metadata["tenant"])

	ok, err := store.TransitionStatus(ctx, d.ID, 2, []webhook.Status{webhook.StatusPending}, webhook.StatusInProgress)
	require.NoError(t, err)
	assert.False(t, ok, "claim for another attempt must lose")

	ok, err = store.TransitionStatus(ctx, d.ID, 1, []webhook.Status{webhook.StatusPending, webhook.StatusRetrying}, webhook.StatusInProgress)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.TransitionStatus(ctx, d.ID, 1, []webhook.Status{webhook.StatusPending}, webhook.StatusInProgress)
	require.NoError(t, err)
	assert.False(t, ok, "second claim must lose")

	_, err = store.TransitionStatus(ctx, uuid.New(), 1, []webhook.Status{webhook.StatusPending}, webhook.StatusInProgress)
	require.ErrorIs(t, err, webhook.ErrDeliveryNotFound)

	stalled, err := store.ListStalled(ctx, time.Now().Add(time.Minute), now.Add(-time.Hour), 0)
	require.NoError(t, err)
	assert.Contains(t, deliveryIDs(stalled), d.ID)
	stalled, err = store.ListStalled(ctx, now.Add(-time.Hour), now.Add(-time.Hour), 0)
	require.NoError(t, err)
	assert.NotContains(t, deliveryIDs(stalled), d.ID)

	got.Status = webhook.StatusInProgress
	require.True(t, got.ScheduleRetry(time.Minute, now))
	ok, err = store.UpdateDeliveryIf(ctx, got, webhook.StatusPending, 1)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = store.UpdateDeliveryIf(ctx, got, webhook.StatusInProgress, 2)
	require.NoError(t, err)
	assert.False(t, ok, "stored attempt is still 1")
	ok, err = store.UpdateDeliveryIf(ctx, got, webhook.StatusInProgress, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	due, err := store.ListDueForRetry(ctx, now.Add(2*time.Minute), 0)
	require.NoError(t, err)
	assert.Contains(t, deliveryIDs(due), d.ID)

	notDue, err := store.ListDueForRetry(ctx, now, 0)
	require.NoError(t, err)
	assert.NotContains(t, deliveryIDs(notDue), d.ID)

	require.NoError(t, store.AnnotateDelivery(ctx, d.ID, map[string]any{"retry_source": "sweep"}))
	got, err = store.GetDelivery(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "sweep", got.Metadata["retry_source"])
	assert.Equal(t, "acme", got.Metadata["tenant"])
	assert.Equal(t, 2, got.Attempt)

	got.MarkSuccess(now)
	require.NoError(t, store.UpdateDelivery(ctx, got))
	finished, err := store.ListFinishedBefore(ctx, now.Add(time.Hour), 0)
	require.NoError(t, err)
	assert.Contains(t, deliveryIDs(finished), d.ID)

	n, err := store.DeleteDeliveries(ctx, []uuid.UUID{d.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	_, err = store.GetDelivery(ctx, d.ID)
	require.ErrorIs(t, err, webhook.ErrDeliveryNotFound)
}

func TestStore_EndpointSecretsEncrypted(t *testing.T) {
	pool := setupPool(t)
	key, err := secrets.GenerateKey()
	require.NoError(t, err)
	cipher, err := secrets.New(key)
	require.NoError(t, err)
	store := pgstore.New(pool, pgstore.WithCipher(cipher))
	ctx := context.Background()

	e := newEndpoint(t, store)

	var raw string
	require.NoError(t, pool.QueryRow(ctx, `SELECT secret FROM webhook_endpoints WHERE id = $1`, e.ID).Scan(&raw))
	assert.True(t, secrets.IsEncrypted(raw))
	assert.NotContains(t, raw, "whsec_test")

	got, err := store.GetEndpoint(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "whsec_test", got.Secret)
	assert.Equal(t, []time.Duration{time.Second, time.Minute}, got.RetryIntervals)
	assert.Equal(t, []string{"order.*"}, got.Events)

	require.NoError(t, store.DeleteEndpoint(ctx, e.ID))
	_, err = store.GetEndpoint(ctx, e.ID)
	require.ErrorIs(t, err, webhook.ErrEndpointNotFound)
	require.ErrorIs(t, store.DeleteEndpoint(ctx, e.ID), webhook.ErrEndpointNotFound)
}

func TestStore_Subscriptions(t *testing.T) {
	pool := setupPool(t)
	store := pgstore.New(pool)
	ctx := context.Background()
	now := time.Now()
	e := newEndpoint(t, store)
	event := "invoice." + uuid.NewString()
	past := now.Add(-time.Hour)

	exact := &webhook.Subscription{EndpointID: e.ID, EventPattern: event, Active: true, MaxDeliveries: 1}
	prefix := &webhook.Subscription{EndpointID: e.ID, EventPattern: "invoice.*", Active: true, Filters: map[string]any{"plan": "pro"}}
	expired := &webhook.Subscription{EndpointID: e.ID, EventPattern: event, Active: true, ExpiresAt: &past}
	inactive := &webhook.Subscription{EndpointID: e.ID, EventPattern: event}
	for _, s := range []*webhook.Subscription{exact, prefix, expired, inactive} {
		require.NoError(t, store.CreateSubscription(ctx, s))
	}

	subs, err := store.ListSubscriptionsForEvent(ctx, event, now)
	require.NoError(t, err)
	ids := subscriptionIDs(subs)
	assert.Contains(t, ids, exact.ID)
	assert.Contains(t, ids, prefix.ID)
	assert.NotContains(t, ids, expired.ID)
	assert.NotContains(t, ids, inactive.ID)

	subs, err = store.ListSubscriptionsForEvent(ctx, "invoice", now)
	require.NoError(t, err)
	assert.NotContains(t, subscriptionIDs(subs), prefix.ID, "prefix pattern needs a suffix")

	ok, err := store.IncrementDeliveryCount(ctx, exact.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.IncrementDeliveryCount(ctx, exact.ID)
	require.NoError(t, err)
	assert.False(t, ok, "cap reached")
	_, err = store.IncrementDeliveryCount(ctx, uuid.New())
	require.ErrorIs(t, err, webhook.ErrSubscriptionNotFound)

	subs, err = store.ListSubscriptionsForEvent(ctx, event, now)
	require.NoError(t, err)
	assert.NotContains(t, subscriptionIDs(subs), exact.ID)

	got, err := store.GetSubscription(ctx, prefix.ID)
	require.NoError(t, err)
	assert.Equal(t, "pro", got.Filters["plan"])

	err = store.CreateSubscription(ctx, &webhook.Subscription{EndpointID: uuid.New(), EventPattern: "*", Active: true})
	require.ErrorIs(t, err, webhook.ErrEndpointNotFound)
}

func deliveryIDs(ds []*webhook.Delivery) []uuid.UUID {
	out := make([]uuid.UUID, len(ds))
	for i, d := range ds {
		out[i] = d.ID
	}
	return out
}

func subscriptionIDs(ss []*webhook.Subscription) []uuid.UUID {
	out := make([]uuid.UUID, len(ss))
	for i, s := range ss {
		out[i] = s.ID
	}
	return out
}
