package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/hookrelay/pkg/queue"
)

type greeting struct {
	Name string `json:"name"`
}

func TestEnqueuer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("nil repository", func(t *testing.T) {
		_, err := queue.NewEnqueuer(nil)
		assert.ErrorIs(t, err, queue.ErrRepositoryNil)
	})

	t.Run("defaults", func(t *testing.T) {
		clk := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
		ms := queue.NewMemoryStorage()
		enq, err := queue.NewEnqueuer(ms, queue.WithEnqueuerClock(clk.Now))
		require.NoError(t, err)

		require.NoError(t, enq.Enqueue(ctx, greeting{Name: "ada"}, queue.WithDelay(time.Minute)))

		tasks := ms.Tasks(queue.TaskStatusPending)
		require.Len(t, tasks, 1)
		assert.Equal(t, "queue_test.greeting", tasks[0].TaskName)
		assert.Equal(t, queue.DefaultQueueName, tasks[0].Queue)
		assert.Equal(t, queue.PriorityDefault, tasks[0].Priority)
		assert.Equal(t, clk.Now().Add(time.Minute), tasks[0].ScheduledAt)
		assert.JSONEq(t, `{"name":"ada"}`, string(tasks[0].Payload))
	})

	t.Run("unique key", func(t *testing.T) {
		ms := queue.NewMemoryStorage()
		enq, err := queue.NewEnqueuer(ms)
		require.NoError(t, err)

		require.NoError(t, enq.Enqueue(ctx, greeting{}, queue.WithUniqueKey("k")))
		assert.ErrorIs(t, enq.Enqueue(ctx, greeting{}, queue.WithUniqueKey("k")), queue.ErrDuplicateTask)
		assert.NoError(t, enq.Enqueue(ctx, greeting{}, queue.WithUniqueKey("other")))
	})

	t.Run("validation", func(t *testing.T) {
		enq, err := queue.NewEnqueuer(queue.NewMemoryStorage())
		require.NoError(t, err)
		assert.ErrorIs(t, enq.Enqueue(ctx, nil), queue.ErrPayloadNil)
		assert.ErrorIs(t, enq.Enqueue(ctx, greeting{}, queue.WithPriority(101)), queue.ErrInvalidPriority)
	})
}
