package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Task sources recorded on delivery tasks.
const (
	SourceQueue   = "queue"
	SourceRetry   = "retry"
	SourceSweep   = "sweep"
	SourceManual  = "manual"
	SourceCircuit = "circuit"
)

// DeliveryTask is the unit handed to the async layer. It names one attempt of one delivery.
type DeliveryTask struct {
	DeliveryID uuid.UUID `json:"delivery_id"`
	Attempt    int       `json:"attempt"`
	Source     string    `json:"source,omitempty"`
	// Nonce distinguishes tasks that intentionally target the same attempt twice,
	// such as a manual retry or a reschedule after an open circuit.
	Nonce string `json:"nonce,omitempty"`
}

// Key is the uniqueness key queues use to drop duplicate tasks.
func (t DeliveryTask) Key() string {
	key := fmt.Sprintf("delivery:%s:%d", t.DeliveryID, t.Attempt)
	if t.Nonce != "" {
		key += ":" + t.Nonce
	}
	return key
}

// TaskQueue schedules delivery tasks for async execution. Implementations return
// ErrDuplicateTask when a task with the same key is already queued.
type TaskQueue interface {
	EnqueueDelivery(ctx context.Context, task DeliveryTask, delay time.Duration) error
}
