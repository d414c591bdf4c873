package inbound

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/dmitrymomot/hookrelay/pkg/queue"
)

// TaskQueue defers event processing to a worker.
type TaskQueue interface {
	EnqueueEvent(ctx context.Context, id uuid.UUID) error
}

// ProcessTask is the queue payload for one stored event.
type ProcessTask struct {
	EventID uuid.UUID `json:"event_id"`
}

// QueueAdapter runs inbound processing on the task queue.
type QueueAdapter struct {
	enqueuer *queue.Enqueuer
	name     string
}

func NewQueueAdapter(enqueuer *queue.Enqueuer, queueName string) *QueueAdapter {
	return &QueueAdapter{enqueuer: enqueuer, name: queueName}
}

func (q *QueueAdapter) EnqueueEvent(ctx context.Context, id uuid.UUID) error {
	err := q.enqueuer.Enqueue(ctx, ProcessTask{EventID: id},
		queue.WithQueue(q.name),
		queue.WithUniqueKey("inbound:"+id.String()),
		queue.WithMaxRetries(3),
	)
	if errors.Is(err, queue.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue inbound event: %w", err)
	}
	return nil
}

// ProcessHandler runs queued events through r.
func ProcessHandler(r *Receiver) queue.Handler {
	return queue.NewTaskHandler(func(ctx context.Context, t ProcessTask) error {
		_, err := r.Process(ctx, t.EventID)
		if errors.Is(err, ErrEventNotFound) {
			return nil
		}
		return err
	})
}
