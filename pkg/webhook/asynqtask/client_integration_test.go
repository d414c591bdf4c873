//go:build integration

package asynqtask_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testcontainersredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/dmitrymomot/hookrelay/pkg/webhook"
	"github.com/dmitrymomot/hookrelay/pkg/webhook/asynqtask"
)

func setupRedis(t *testing.T) asynq.RedisConnOpt {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainersredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err, "failed to start redis container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate redis container: %v", err)
		}
	})

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opt, err := asynq.ParseRedisURI(uri)
	require.NoError(t, err)
	return opt
}

func TestClient_DedupesByTaskKey(t *testing.T) {
	opt := setupRedis(t)
	client := asynqtask.NewClient(opt, asynqtask.WithQueue("test"))
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	task := webhook.DeliveryTask{DeliveryID: uuid.New(), Attempt: 1, Source: webhook.SourceQueue}
	require.NoError(t, client.EnqueueDelivery(ctx, task, time.Hour))
	require.ErrorIs(t, client.EnqueueDelivery(ctx, task, 0), webhook.ErrDuplicateTask)

	task.Nonce = webhook.SourceManual
	require.NoError(t, client.EnqueueDelivery(ctx, task, time.Hour))
}

func TestServer_RunsDeliveries(t *testing.T) {
	opt := setupRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var hits atomic.Int32
	dest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(dest.Close)

	cfg := asynqtask.Config{Queue: "webhooks", Concurrency: 2, MaxRetry: 1, TaskTimeout: 10 * time.Second, ShutdownTimeout: time.Second}
	client := asynqtask.ClientFromConfig(opt, cfg)
	t.Cleanup(func() { _ = client.Close() })

	log := slog.New(slog.DiscardHandler)
	store := webhook.NewMemoryStore()
	dp := webhook.NewDispatcher(store, nil, webhook.WithTaskQueue(client), webhook.WithLogger(log))

	srv := asynqtask.NewServer(opt, dp, cfg, log)
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	d, err := dp.Queue(ctx, dest.URL, "order.created", map[string]any{"id": 1})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := store.GetDelivery(ctx, d.ID)
		return err == nil && got.Status == webhook.StatusSuccess
	}, 10*time.Second, 50*time.Millisecond)
	assert.EqualValues(t, 1, hits.Load())

	cancel()
	require.NoError(t, <-done)
}
