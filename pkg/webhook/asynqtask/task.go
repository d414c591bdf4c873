package asynqtask

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/dmitrymomot/hookrelay/pkg/webhook"
)

// TypeDelivery is the asynq task type for one delivery attempt.
const TypeDelivery = "webhook:deliver"

// NewDeliveryTask encodes task with its key as the asynq task id.
func NewDeliveryTask(task webhook.DeliveryTask, opts ...asynq.Option) (*asynq.Task, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("encode delivery task: %w", err)
	}
	opts = append([]asynq.Option{asynq.TaskID(task.Key())}, opts...)
	return asynq.NewTask(TypeDelivery, payload, opts...), nil
}

// processor is the part of webhook.Dispatcher the handler calls.
type processor interface {
	Process(ctx context.Context, task webhook.DeliveryTask) error
}

// Handler decodes delivery tasks and runs them. Malformed payloads are not retried.
func Handler(p processor) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		var task webhook.DeliveryTask
		if err := json.Unmarshal(t.Payload(), &task); err != nil {
			return fmt.Errorf("decode delivery task: %v: %w", err, asynq.SkipRetry)
		}
		return p.Process(ctx, task)
	})
}
