package webhook_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/hookrelay/pkg/webhook"
)

func addEndpoint(t *testing.T, store *webhook.MemoryStore, url string, events ...string) *webhook.Endpoint {
	t.Helper()
	ep := &webhook.Endpoint{ID: uuid.New(), URL: url, Active: true, Events: events, Secret: "whsec"}
	require.NoError(t, store.CreateEndpoint(context.Background(), ep))
	return ep
}

func addSubscription(t *testing.T, store *webhook.MemoryStore, ep *webhook.Endpoint, pattern string, mutate ...func(*webhook.Subscription)) *webhook.Subscription {
	t.Helper()
	s := &webhook.Subscription{
		ID:           uuid.New(),
		EndpointID:   ep.ID,
		EventPattern: pattern,
		Active:       true,
		CreatedAt:    time.Now(),
	}
	for _, m := range mutate {
		m(s)
	}
	require.NoError(t, store.CreateSubscription(context.Background(), s))
	return s
}

func TestDispatcher_Broadcast(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("sync fan-out isolates failures", func(t *testing.T) {
		t.Parallel()
		ok := newRecorder(t, http.StatusOK)
		broken := newRecorder(t, http.StatusInternalServerError)
		other := newRecorder(t, http.StatusOK)
		f := newFixture(t)

		addSubscription(t, f.store, addEndpoint(t, f.store, ok.URL()), "order.*")
		addSubscription(t, f.store, addEndpoint(t, f.store, broken.URL()), "order.created")
		addSubscription(t, f.store, addEndpoint(t, f.store, other.URL()), "invoice.*")

		deliveries, err := f.dp.Broadcast(ctx, "order.created", map[string]any{"id": 1}, webhook.WithSync())
		require.NoError(t, err)
		require.Len(t, deliveries, 2)

		statuses := map[string]webhook.Status{}
		for _, d := range deliveries {
			statuses[d.Destination] = d.Status
			assert.NotEmpty(t, d.Metadata["subscription_id"])
			assert.NotNil(t, d.EndpointID)
		}
		assert.Equal(t, webhook.StatusSuccess, statuses[ok.URL()])
		assert.Equal(t, webhook.StatusFailed, statuses[broken.URL()])
		assert.Zero(t, other.hits.Load())
	})

	t.Run("queue mode enqueues each delivery", func(t *testing.T) {
		t.Parallel()
		dest := newRecorder(t, http.StatusOK)
		f := newFixture(t)
		ep := addEndpoint(t, f.store, dest.URL())
		addSubscription(t, f.store, ep, "*")
		addSubscription(t, f.store, ep, "user.signed_up")

		deliveries, err := f.dp.Broadcast(ctx, "user.signed_up", map[string]any{"id": 1})
		require.NoError(t, err)
		require.Len(t, deliveries, 2)
		for _, d := range deliveries {
			assert.Equal(t, webhook.StatusPending, d.Status)
		}
		assert.Equal(t, 2, f.queue.len())
		assert.Zero(t, dest.hits.Load())
	})

	t.Run("payload filters", func(t *testing.T) {
		t.Parallel()
		dest := newRecorder(t, http.StatusOK)
		f := newFixture(t)
		ep := addEndpoint(t, f.store, dest.URL())
		gold := addSubscription(t, f.store, ep, "order.*", func(s *webhook.Subscription) {
			s.Filters = map[string]any{"customer.tier": "gold"}
		})
		addSubscription(t, f.store, ep, "order.*", func(s *webhook.Subscription) {
			s.Filters = map[string]any{"customer.tier": []any{"silver", "bronze"}}
		})

		deliveries, err := f.dp.Broadcast(ctx, "order.created",
			map[string]any{"customer": map[string]any{"tier": "gold"}}, webhook.WithSync())
		require.NoError(t, err)
		require.Len(t, deliveries, 1)
		assert.Equal(t, gold.ID.String(), deliveries[0].Metadata["subscription_id"])
	})

	t.Run("delivery cap and inactive endpoints", func(t *testing.T) {
		t.Parallel()
		dest := newRecorder(t, http.StatusOK)
		f := newFixture(t)
		capped := addSubscription(t, f.store, addEndpoint(t, f.store, dest.URL()), "order.created",
			func(s *webhook.Subscription) { s.MaxDeliveries = 1 })

		inactive := addEndpoint(t, f.store, dest.URL())
		inactive.Active = false
		require.NoError(t, f.store.UpdateEndpoint(ctx, inactive))
		addSubscription(t, f.store, inactive, "order.created")

		deliveries, err := f.dp.Broadcast(ctx, "order.created", map[string]any{}, webhook.WithSync())
		require.NoError(t, err)
		assert.Len(t, deliveries, 1)

		deliveries, err = f.dp.Broadcast(ctx, "order.created", map[string]any{}, webhook.WithSync())
		require.NoError(t, err)
		assert.Empty(t, deliveries)

		sub, err := f.store.GetSubscription(ctx, capped.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, sub.DeliveryCount)
		assert.EqualValues(t, 1, dest.hits.Load())
	})

	t.Run("no subscribers", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		deliveries, err := f.dp.Broadcast(ctx, "order.created", map[string]any{})
		require.NoError(t, err)
		assert.Empty(t, deliveries)
	})

	t.Run("requires stores", func(t *testing.T) {
		t.Parallel()
		dp := webhook.NewDispatcher(webhook.NewMemoryStore(), nil, webhook.WithLogger(discard()))
		_, err := dp.Broadcast(ctx, "order.created", map[string]any{})
		require.ErrorIs(t, err, webhook.ErrConfiguration)
	})

	t.Run("falls back to sync without a queue", func(t *testing.T) {
		t.Parallel()
		dest := newRecorder(t, http.StatusOK)
		store := webhook.NewMemoryStore()
		dp := webhook.NewDispatcher(store, nil,
			webhook.WithEndpointStore(store),
			webhook.WithSubscriptionStore(store),
			webhook.WithLogger(discard()),
		)
		addSubscription(t, store, addEndpoint(t, store, dest.URL()), "order.created")

		deliveries, err := dp.Broadcast(ctx, "order.created", map[string]any{})
		require.NoError(t, err)
		require.Len(t, deliveries, 1)
		assert.Equal(t, webhook.StatusSuccess, deliveries[0].Status)
	})
}
