package asynqtask_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/hookrelay/pkg/webhook"
	"github.com/dmitrymomot/hookrelay/pkg/webhook/asynqtask"
)

type processorFunc func(ctx context.Context, task webhook.DeliveryTask) error

func (f processorFunc) Process(ctx context.Context, task webhook.DeliveryTask) error { return f(ctx, task) }

func TestNewDeliveryTask(t *testing.T) {
	t.Parallel()

	task := webhook.DeliveryTask{DeliveryID: uuid.New(), Attempt: 2, Source: webhook.SourceRetry}
	at, err := asynqtask.NewDeliveryTask(task)
	require.NoError(t, err)
	assert.Equal(t, asynqtask.TypeDelivery, at.Type())

	var decoded webhook.DeliveryTask
	require.NoError(t, json.Unmarshal(at.Payload(), &decoded))
	assert.Equal(t, task, decoded)
}

func TestHandler(t *testing.T) {
	t.Parallel()

	t.Run("passes task to processor", func(t *testing.T) {
		t.Parallel()
		want := webhook.DeliveryTask{DeliveryID: uuid.New(), Attempt: 1, Source: webhook.SourceQueue}
		var got webhook.DeliveryTask
		h := asynqtask.Handler(processorFunc(func(_ context.Context, task webhook.DeliveryTask) error {
			got = task
			return nil
		}))

		at, err := asynqtask.NewDeliveryTask(want)
		require.NoError(t, err)
		require.NoError(t, h.ProcessTask(context.Background(), at))
		assert.Equal(t, want, got)
	})

	t.Run("returns processor errors for asynq retry", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("store unavailable")
		h := asynqtask.Handler(processorFunc(func(context.Context, webhook.DeliveryTask) error { return boom }))

		at, err := asynqtask.NewDeliveryTask(webhook.DeliveryTask{DeliveryID: uuid.New(), Attempt: 1})
		require.NoError(t, err)
		err = h.ProcessTask(context.Background(), at)
		require.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, asynq.SkipRetry)
	})

	t.Run("malformed payload skips retry", func(t *testing.T) {
		t.Parallel()
		h := asynqtask.Handler(processorFunc(func(context.Context, webhook.DeliveryTask) error {
			t.Fatal("processor must not run")
			return nil
		}))
		err := h.ProcessTask(context.Background(), asynq.NewTask(asynqtask.TypeDelivery, []byte("{")))
		require.ErrorIs(t, err, asynq.SkipRetry)
	})
}
