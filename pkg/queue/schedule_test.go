package queue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/hookrelay/pkg/queue"
)

func TestSchedules(t *testing.T) {
	t.Parallel()
	from := time.Date(2026, 3, 10, 14, 7, 30, 0, time.UTC)

	assert.Equal(t, from.Add(90*time.Second), queue.EveryInterval(90*time.Second).Next(from))
	assert.Equal(t, time.Date(2026, 3, 11, 3, 0, 0, 0, time.UTC), queue.DailyAt(3, 0).Next(from))
	assert.Equal(t, time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC), queue.DailyAt(15, 0).Next(from))

	every5, err := queue.Cron("*/5 * * * *")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 14, 10, 0, 0, time.UTC), every5.Next(from))
	assert.Equal(t, "cron */5 * * * *", every5.String())

	hourly, err := queue.Cron("@hourly")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC), hourly.Next(from))

	_, err = queue.Cron("not a cron")
	assert.ErrorIs(t, err, queue.ErrInvalidSchedule)
}
