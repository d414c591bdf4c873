//go:build integration

package pgstore_test

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/hookrelay/migrations"
	"github.com/dmitrymomot/hookrelay/pkg/config"
	"github.com/dmitrymomot/hookrelay/pkg/inbound"
	"github.com/dmitrymomot/hookrelay/pkg/inbound/pgstore"
	"github.com/dmitrymomot/hookrelay/pkg/pg"
)

func newStore(t *testing.T) *pgstore.Store {
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
	return pgstore.New(pool)
}

func TestStore_EventLifecycle(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	e := &inbound.Event{
		Source:           "stripe-" + uuid.NewString(),
		Event:            "invoice.paid",
		Payload:          []byte(`{"type":"invoice.paid"}`),
		Headers:          http.Header{"Stripe-Signature": {"t=1,v1=abc"}},
		Signature:        "t=1,v1=abc",
		Valid:            true,
		ProcessingStatus: inbound.StatusPending,
		ReceivedAt:       now,
	}
	require.NoError(t, store.CreateEvent(ctx, e))

	got, err := store.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.Source, got.Source)
	assert.Equal(t, e.Payload, got.Payload)
	assert.Equal(t, "t=1,v1=abc", got.Headers.Get("Stripe-Signature"))
	assert.False(t, got.Processed)

	pending, err := store.ListUnprocessed(ctx, 0)
	require.NoError(t, err)
	assert.True(t, containsEvent(pending, e.ID))

	require.NoError(t, store.MarkProcessed(ctx, e.ID, inbound.StatusError, "boom", now))
	require.NoError(t, store.MarkProcessed(ctx, e.ID, inbound.StatusSuccess, "", now), "second mark is a no-op")

	got, err = store.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, got.Processed)
	assert.Equal(t, inbound.StatusError, got.ProcessingStatus)
	assert.Equal(t, "boom", got.ProcessingError)

	require.ErrorIs(t, store.MarkProcessed(ctx, uuid.New(), inbound.StatusSuccess, "", now), inbound.ErrEventNotFound)
	_, err = store.GetEvent(ctx, uuid.New())
	require.ErrorIs(t, err, inbound.ErrEventNotFound)
}

func containsEvent(events []*inbound.Event, id uuid.UUID) bool {
	for _, e := range events {
		if e.ID == id {
			return true
		}
	}
	return false
}
