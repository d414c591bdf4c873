package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrymomot/hookrelay/pkg/queue"
)

// Periodic task names registered with the queue scheduler.
const (
	TaskSweep   = "webhook.sweep"
	TaskCleanup = "webhook.cleanup"
)

// QueueAdapter runs delivery tasks on the in-process task queue.
type QueueAdapter struct {
	enqueuer *queue.Enqueuer
	name     string
}

// NewQueueAdapter wraps an enqueuer. Tasks go to queueName, or the enqueuer's default
// queue when empty.
func NewQueueAdapter(enqueuer *queue.Enqueuer, queueName string) *QueueAdapter {
	return &QueueAdapter{enqueuer: enqueuer, name: queueName}
}

// EnqueueDelivery stores the task under its per-attempt key. Queue-level retries only
// cover infrastructure errors returned by Process; delivery failures are rescheduled
// by the dispatcher as new tasks.
func (q *QueueAdapter) EnqueueDelivery(ctx context.Context, task DeliveryTask, delay time.Duration) error {
	err := q.enqueuer.Enqueue(ctx, task,
		queue.WithQueue(q.name),
		queue.WithUniqueKey(task.Key()),
		queue.WithDelay(delay),
		queue.WithMaxRetries(3),
	)
	if errors.Is(err, queue.ErrDuplicateTask) {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, task.Key())
	}
	return err
}

// DeliveryHandler runs queued delivery tasks through the dispatcher.
func DeliveryHandler(dp *Dispatcher) queue.Handler {
	return queue.NewTaskHandler(dp.Process)
}

// SweepHandler runs the retry sweep as a periodic task.
func SweepHandler(s *Sweeper) queue.Handler {
	return queue.NewPeriodicTaskHandler(TaskSweep, func(ctx context.Context) error {
		_, err := s.Run(ctx)
		return err
	})
}

// CleanupHandler runs retention cleanup as a periodic task.
func CleanupHandler(c *Cleaner) queue.Handler {
	return queue.NewPeriodicTaskHandler(TaskCleanup, func(ctx context.Context) error {
		_, err := c.Run(ctx)
		return err
	})
}

// SweepScheduleSpec is the cron expression from Config when set, else the fixed interval.
func (c Config) SweepScheduleSpec() (queue.Schedule, error) {
	if c.SweepSchedule != "" {
		return queue.Cron(c.SweepSchedule)
	}
	if c.SweepInterval <= 0 {
		return nil, fmt.Errorf("%w: sweep interval must be positive", ErrConfiguration)
	}
	return queue.EveryInterval(c.SweepInterval), nil
}
