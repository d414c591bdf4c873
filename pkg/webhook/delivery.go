package webhook

import (
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
)

// NewDelivery creates a pending delivery at attempt 1.
func NewDelivery(destination, event string, payload json.RawMessage, maxAttempts int, now time.Time) *Delivery {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Delivery{
		ID:          uuid.New(),
		Destination: destination,
		Event:       event,
		Payload:     payload,
		Headers:     map[string]string{},
		Status:      StatusPending,
		Attempt:     1,
		MaxAttempts: maxAttempts,
		Metadata:    map[string]any{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// CanBeRetried reports whether another attempt is allowed.
func (d *Delivery) CanBeRetried() bool {
	return d.Attempt < d.MaxAttempts && (d.Status == StatusFailed || d.Status == StatusRetrying)
}

// CanBeCancelled reports whether future attempts can still be prevented.
func (d *Delivery) CanBeCancelled() bool {
	return d.Status == StatusPending || d.Status == StatusRetrying
}

// IsTerminal reports whether no attempt will ever run again without manual intervention.
func (d *Delivery) IsTerminal() bool {
	switch d.Status {
	case StatusSuccess, StatusCancelled:
		return true
	case StatusFailed:
		return d.Attempt >= d.MaxAttempts
	}
	return false
}

// startAttempt stamps the attempt start.
func (d *Delivery) startAttempt(now time.Time) {
	d.Status = StatusInProgress
	d.LastAttemptAt = &now
	d.UpdatedAt = now
}

// recordResponse stores what the destination answered.
func (d *Delivery) recordResponse(status int, header http.Header, body string, elapsed time.Duration) {
	d.ResponseStatus = status
	d.ResponseHeaders = header
	d.ResponseBody = body
	d.ResponseTime = elapsed
}

// clearResponse drops response fields from a previous attempt.
func (d *Delivery) clearResponse() {
	d.ResponseStatus = 0
	d.ResponseHeaders = nil
	d.ResponseBody = ""
}

// MarkSuccess finalizes a successful attempt.
func (d *Delivery) MarkSuccess(now time.Time) {
	d.Status = StatusSuccess
	d.Success = true
	d.NextAttemptAt = nil
	d.ErrorMessage = ""
	d.ErrorDetail = ""
	d.UpdatedAt = now
}

// MarkFailed ends the series as failed. The attempt counter is left untouched.
func (d *Delivery) MarkFailed(message, detail string, now time.Time) {
	d.Status = StatusFailed
	d.Success = false
	d.NextAttemptAt = nil
	d.ErrorMessage = message
	d.ErrorDetail = detail
	d.UpdatedAt = now
}

// ScheduleRetry applies the increment-then-check rule after a failed attempt:
// when attempts remain, the counter is incremented and the delivery moves to
// retrying at now+delay; otherwise it fails permanently. It reports whether a retry
// was scheduled.
func (d *Delivery) ScheduleRetry(delay time.Duration, now time.Time) bool {
	d.Success = false
	d.UpdatedAt = now
	if d.Attempt >= d.MaxAttempts {
		d.Status = StatusFailed
		d.NextAttemptAt = nil
		return false
	}
	next := now.Add(delay)
	d.Attempt++
	d.Status = StatusRetrying
	d.NextAttemptAt = &next
	return true
}

// Cancel stops future attempts. Only pending and retrying deliveries can be cancelled.
func (d *Delivery) Cancel(reason string, now time.Time) error {
	if !d.CanBeCancelled() {
		return fmt.Errorf("%w: cannot cancel %s delivery", ErrInvalidTransition, d.Status)
	}
	d.Status = StatusCancelled
	d.NextAttemptAt = nil
	d.UpdatedAt = now
	if reason != "" {
		d.SetMetadata("cancel_reason", reason)
	}
	d.SetMetadata("cancelled_at", now.UTC().Format(time.RFC3339))
	return nil
}

// ResetForRetry returns a retriable delivery to pending. A failed delivery consumes a
// new attempt; a retrying one already holds its next attempt number.
func (d *Delivery) ResetForRetry(now time.Time) error {
	if !d.CanBeRetried() {
		return fmt.Errorf("%w: attempt %d of %d, status %s", ErrNotRetriable, d.Attempt, d.MaxAttempts, d.Status)
	}
	if d.Status == StatusFailed {
		d.Attempt++
	}
	d.Status = StatusPending
	d.NextAttemptAt = nil
	d.UpdatedAt = now
	return nil
}

// SetMetadata sets a metadata key, allocating the map when needed.
func (d *Delivery) SetMetadata(key string, value any) {
	if d.Metadata == nil {
		d.Metadata = map[string]any{}
	}
	d.Metadata[key] = value
}

// Clone returns a deep enough copy for stores to hand out without aliasing.
func (d *Delivery) Clone() *Delivery {
	c := *d
	c.Payload = slices.Clone(d.Payload)
	c.Headers = maps.Clone(d.Headers)
	c.Metadata = maps.Clone(d.Metadata)
	c.ResponseHeaders = d.ResponseHeaders.Clone()
	c.Policy.Intervals = slices.Clone(d.Policy.Intervals)
	c.Policy.SuccessStatuses = slices.Clone(d.Policy.SuccessStatuses)
	if d.EndpointID != nil {
		id := *d.EndpointID
		c.EndpointID = &id
	}
	if d.LastAttemptAt != nil {
		t := *d.LastAttemptAt
		c.LastAttemptAt = &t
	}
	if d.NextAttemptAt != nil {
		t := *d.NextAttemptAt
		c.NextAttemptAt = &t
	}
	return &c
}
