package webhook

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType names a dispatcher notification.
type EventType string

const (
	EventDispatching    EventType = "dispatching"
	EventDispatched     EventType = "dispatched"
	EventDispatchFailed EventType = "dispatch-failed"
	EventRetryScheduled EventType = "retry-scheduled"
	EventCancelled      EventType = "cancelled"
)

// Event is published on the dispatcher's bus. Handlers observe it; the dispatcher
// never waits for them.
type Event struct {
	Type          EventType     `json:"type"`
	DeliveryID    uuid.UUID     `json:"delivery_id"`
	Destination   string        `json:"destination"`
	Event         string        `json:"event"`
	Attempt       int           `json:"attempt"`
	Status        Status        `json:"status"`
	StatusCode    int           `json:"status_code,omitempty"`
	Duration      time.Duration `json:"duration,omitempty"`
	Error         string        `json:"error,omitempty"`
	CircuitOpen   bool          `json:"circuit_open,omitempty"`
	NextAttemptAt *time.Time    `json:"next_attempt_at,omitempty"`
	At            time.Time     `json:"at"`
}

func newEvent(t EventType, d *Delivery, now time.Time) Event {
	e := Event{
		Type:        t,
		DeliveryID:  d.ID,
		Destination: d.Destination,
		Event:       d.Event,
		Attempt:     d.Attempt,
		Status:      d.Status,
		StatusCode:  d.ResponseStatus,
		Duration:    d.ResponseTime,
		Error:       d.ErrorMessage,
		At:          now,
	}
	if d.NextAttemptAt != nil {
		next := *d.NextAttemptAt
		e.NextAttemptAt = &next
	}
	return e
}

// BeforeHook runs before each attempt. A returned error aborts the attempt and
// fails the delivery.
type BeforeHook func(ctx context.Context, d *Delivery) error

// AfterHook runs after a successful attempt. Errors are logged only.
type AfterHook func(ctx context.Context, d *Delivery) error
