package webhook_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/hookrelay/pkg/webhook"
)

func newDelivery(maxAttempts int) *webhook.Delivery {
	return webhook.NewDelivery("https://example.com/hook", "order.created",
		json.RawMessage(`{"id":1}`), maxAttempts, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
}

func TestNewDelivery(t *testing.T) {
	t.Parallel()

	d := newDelivery(0)
	assert.Equal(t, webhook.StatusPending, d.Status)
	assert.Equal(t, 1, d.Attempt)
	assert.Equal(t, 1, d.MaxAttempts, "max attempts is at least one")
	assert.NotNil(t, d.Metadata)
	assert.NotNil(t, d.Headers)
	assert.False(t, d.IsTerminal())
	assert.True(t, d.CanBeCancelled())
	assert.False(t, d.CanBeRetried())
}

func TestDelivery_ScheduleRetry(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	d := newDelivery(3)
	require.True(t, d.ScheduleRetry(time.Minute, now))
	assert.Equal(t, webhook.StatusRetrying, d.Status)
	assert.Equal(t, 2, d.Attempt)
	require.NotNil(t, d.NextAttemptAt)
	assert.Equal(t, now.Add(time.Minute), *d.NextAttemptAt)
	assert.True(t, d.CanBeRetried())

	require.True(t, d.ScheduleRetry(time.Minute, now))
	assert.Equal(t, 3, d.Attempt)
	assert.False(t, d.CanBeRetried(), "no attempts left after the third is scheduled")

	assert.False(t, d.ScheduleRetry(time.Minute, now))
	assert.Equal(t, webhook.StatusFailed, d.Status)
	assert.Equal(t, 3, d.Attempt, "the counter never exceeds max attempts")
	assert.Nil(t, d.NextAttemptAt)
	assert.True(t, d.IsTerminal())
}

func TestDelivery_MarkSuccess(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	d := newDelivery(3)
	d.ScheduleRetry(time.Minute, now)
	d.ErrorMessage = "boom"
	d.MarkSuccess(now)

	assert.Equal(t, webhook.StatusSuccess, d.Status)
	assert.True(t, d.Success)
	assert.Nil(t, d.NextAttemptAt)
	assert.Empty(t, d.ErrorMessage)
	assert.True(t, d.IsTerminal())
	assert.False(t, d.CanBeCancelled())
}

func TestDelivery_Cancel(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		prepare func(d *webhook.Delivery)
		wantErr bool
	}{
		{name: "pending", prepare: func(*webhook.Delivery) {}},
		{name: "retrying", prepare: func(d *webhook.Delivery) { d.ScheduleRetry(time.Second, now) }},
		{name: "success", prepare: func(d *webhook.Delivery) { d.MarkSuccess(now) }, wantErr: true},
		{name: "failed", prepare: func(d *webhook.Delivery) { d.MarkFailed("x", "", now) }, wantErr: true},
		{name: "in progress", prepare: func(d *webhook.Delivery) { d.Status = webhook.StatusInProgress }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := newDelivery(3)
			tt.prepare(d)
			err := d.Cancel("stop", now)
			if tt.wantErr {
				require.ErrorIs(t, err, webhook.ErrInvalidTransition)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, webhook.StatusCancelled, d.Status)
			assert.Equal(t, "stop", d.Metadata["cancel_reason"])
			assert.Nil(t, d.NextAttemptAt)
		})
	}
}

func TestDelivery_ResetForRetry(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("failed consumes a new attempt", func(t *testing.T) {
		t.Parallel()
		d := newDelivery(3)
		d.MarkFailed("boom", "", now)
		require.NoError(t, d.ResetForRetry(now))
		assert.Equal(t, webhook.StatusPending, d.Status)
		assert.Equal(t, 2, d.Attempt)
	})

	t.Run("retrying keeps its attempt", func(t *testing.T) {
		t.Parallel()
		d := newDelivery(3)
		d.ScheduleRetry(time.Hour, now)
		require.NoError(t, d.ResetForRetry(now))
		assert.Equal(t, webhook.StatusPending, d.Status)
		assert.Equal(t, 2, d.Attempt)
		assert.Nil(t, d.NextAttemptAt)
	})

	t.Run("exhausted", func(t *testing.T) {
		t.Parallel()
		d := newDelivery(1)
		d.MarkFailed("boom", "", now)
		require.ErrorIs(t, d.ResetForRetry(now), webhook.ErrNotRetriable)
	})

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		d := newDelivery(3)
		d.MarkSuccess(now)
		require.ErrorIs(t, d.ResetForRetry(now), webhook.ErrNotRetriable)
	})
}

func TestDelivery_Clone(t *testing.T) {
	t.Parallel()

	d := newDelivery(3)
	d.SetMetadata("k", "v")
	d.Headers["X-A"] = "1"

	c := d.Clone()
	c.Metadata["k"] = "changed"
	c.Headers["X-A"] = "2"
	c.Payload[0] = '['

	assert.Equal(t, "v", d.Metadata["k"])
	assert.Equal(t, "1", d.Headers["X-A"])
	assert.JSONEq(t, `{"id":1}`, string(d.Payload))
}

func TestStatus_Valid(t *testing.T) {
	t.Parallel()
	assert.True(t, webhook.StatusRetrying.Valid())
	assert.False(t, webhook.Status("paused").Valid())
}
