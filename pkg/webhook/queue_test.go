package webhook_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/hookrelay/pkg/queue"
	"github.com/dmitrymomot/hookrelay/pkg/webhook"
)

func TestQueueAdapter_Dedupe(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	ms := queue.NewMemoryStorage()
	enq, err := queue.NewEnqueuer(ms)
	require.NoError(t, err)
	q := webhook.NewQueueAdapter(enq, "webhooks")

	task := webhook.DeliveryTask{DeliveryID: uuid.New(), Attempt: 2, Source: webhook.SourceRetry}
	require.NoError(t, q.EnqueueDelivery(ctx, task, time.Minute))

	swept := task
	swept.Source = webhook.SourceSweep
	require.ErrorIs(t, q.EnqueueDelivery(ctx, swept, 0), webhook.ErrDuplicateTask)

	manual := task
	manual.Nonce = webhook.SourceManual
	require.NoError(t, q.EnqueueDelivery(ctx, manual, 0))

	tasks := ms.Tasks(queue.TaskStatusPending)
	require.Len(t, tasks, 2)
	byKey := map[string]queue.Task{}
	for _, qt := range tasks {
		byKey[qt.UniqueKey] = qt
		assert.Equal(t, "webhooks", qt.Queue)
		assert.EqualValues(t, 3, qt.MaxRetries)
	}
	require.Contains(t, byKey, task.Key())
	require.Contains(t, byKey, manual.Key())

	var decoded webhook.DeliveryTask
	require.NoError(t, json.Unmarshal(byKey[task.Key()].Payload, &decoded))
	assert.Equal(t, task, decoded)
}

func TestQueueAdapter_WorkerRunsDeliveries(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dest := newRecorder(t, http.StatusOK)
	ms := queue.NewMemoryStorage()
	enq, err := queue.NewEnqueuer(ms)
	require.NoError(t, err)

	store := webhook.NewMemoryStore()
	dp := webhook.NewDispatcher(store, nil,
		webhook.WithTaskQueue(webhook.NewQueueAdapter(enq, "")),
		webhook.WithLogger(discard()),
	)

	w, err := queue.NewWorker(ms,
		queue.WithPullInterval(10*time.Millisecond),
		queue.WithWorkerLogger(discard()),
	)
	require.NoError(t, err)
	w.RegisterHandlers(webhook.DeliveryHandler(dp))
	require.NoError(t, w.Start(ctx))
	defer func() { _ = w.Stop() }()

	d, err := dp.Queue(ctx, dest.URL(), "order.created", map[string]any{"id": 1})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := store.GetDelivery(ctx, d.ID)
		return err == nil && got.Status == webhook.StatusSuccess
	}, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, dest.hits.Load())
}

func TestConfig_SweepScheduleSpec(t *testing.T) {
	t.Parallel()
	from := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)

	cfg := webhook.DefaultConfig()
	s, err := cfg.SweepScheduleSpec()
	require.NoError(t, err)
	assert.Equal(t, from.Add(time.Minute), s.Next(from))

	cfg.SweepSchedule = "*/5 * * * *"
	s, err = cfg.SweepScheduleSpec()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC), s.Next(from))

	cfg.SweepSchedule = "not a cron"
	_, err = cfg.SweepScheduleSpec()
	require.Error(t, err)
}
