package webhook

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/hookrelay/pkg/response"
	"github.com/dmitrymomot/hookrelay/pkg/signature"
)

// Status is the lifecycle state of a Delivery.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusRetrying   Status = "retrying"
	StatusCancelled  Status = "cancelled"
)

func (s Status) String() string { return string(s) }

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusSuccess, StatusFailed, StatusRetrying, StatusCancelled:
		return true
	}
	return false
}

// Endpoint is a registered destination with its delivery policy.
type Endpoint struct {
	ID                 uuid.UUID           `json:"id"`
	URL                string              `json:"url"`
	Description        string              `json:"description,omitempty"`
	Active             bool                `json:"active"`
	Secret             string              `json:"-"`
	SignatureAlgorithm signature.Algorithm `json:"signature_algorithm,omitempty"`
	SignatureHeader    string              `json:"signature_header,omitempty"`
	Timeout            time.Duration       `json:"timeout,omitempty"`
	ConnectTimeout     time.Duration       `json:"connect_timeout,omitempty"`
	InsecureSkipVerify bool                `json:"insecure_skip_verify,omitempty"`
	MaxAttempts        int                 `json:"max_attempts,omitempty"`
	RetryStrategy      RetryStrategy       `json:"retry_strategy,omitempty"`
	RetryIntervals     []time.Duration     `json:"retry_intervals,omitempty"`
	Headers            map[string]string   `json:"headers,omitempty"`
	Events             []string            `json:"events,omitempty"`
	Provider           response.Provider   `json:"provider,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
	DeletedAt          *time.Time          `json:"deleted_at,omitempty"`
}

// IsActive reports whether the endpoint may receive deliveries.
func (e *Endpoint) IsActive() bool {
	return e.Active && e.DeletedAt == nil
}

// Accepts reports whether the endpoint subscribes to event. An empty event list accepts everything.
func (e *Endpoint) Accepts(event string) bool {
	if len(e.Events) == 0 {
		return true
	}
	for _, p := range e.Events {
		if MatchPattern(p, event) {
			return true
		}
	}
	return false
}

// Subscription binds an endpoint to an event pattern with optional payload filters.
type Subscription struct {
	ID            uuid.UUID      `json:"id"`
	EndpointID    uuid.UUID      `json:"endpoint_id"`
	EventPattern  string         `json:"event_pattern"`
	Filters       map[string]any `json:"filters,omitempty"`
	Active        bool           `json:"active"`
	ExpiresAt     *time.Time     `json:"expires_at,omitempty"`
	MaxDeliveries int            `json:"max_deliveries,omitempty"` // 0 means unlimited
	DeliveryCount int            `json:"delivery_count"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Policy is the per-delivery transport and retry configuration, captured when the
// delivery is created so async attempts do not depend on later endpoint edits.
type Policy struct {
	Timeout            time.Duration     `json:"timeout"`
	ConnectTimeout     time.Duration     `json:"connect_timeout"`
	InsecureSkipVerify bool              `json:"insecure_skip_verify,omitempty"`
	Strategy           RetryStrategy     `json:"strategy"`
	BaseDelay          time.Duration     `json:"base_delay"`
	MaxDelay           time.Duration     `json:"max_delay"`
	Multiplier         float64           `json:"multiplier"`
	Intervals          []time.Duration   `json:"intervals,omitempty"`
	Provider           response.Provider `json:"provider,omitempty"`
	SuccessStatuses    []int             `json:"success_statuses,omitempty"`
	FailFast           bool              `json:"fail_fast,omitempty"`
}

// Delivery is one attempt series for one (event, destination) pair.
type Delivery struct {
	ID              uuid.UUID         `json:"id"`
	EndpointID      *uuid.UUID        `json:"endpoint_id,omitempty"`
	Destination     string            `json:"destination"`
	Event           string            `json:"event"`
	Payload         json.RawMessage   `json:"payload"`
	Headers         map[string]string `json:"headers,omitempty"`
	Signature       string            `json:"signature,omitempty"`
	Status          Status            `json:"status"`
	Attempt         int               `json:"attempt"`
	MaxAttempts     int               `json:"max_attempts"`
	LastAttemptAt   *time.Time        `json:"last_attempt_at,omitempty"`
	NextAttemptAt   *time.Time        `json:"next_attempt_at,omitempty"`
	ResponseStatus  int               `json:"response_status,omitempty"`
	ResponseBody    string            `json:"response_body,omitempty"`
	ResponseHeaders http.Header       `json:"response_headers,omitempty"`
	ResponseTime    time.Duration     `json:"response_time,omitempty"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	ErrorDetail     string            `json:"error_detail,omitempty"`
	Success         bool              `json:"success"`
	Policy          Policy            `json:"policy"`
	Metadata        map[string]any    `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}
