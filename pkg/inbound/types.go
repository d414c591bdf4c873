package inbound

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// ProcessingStatus records what happened after an event was stored.
type ProcessingStatus string

const (
	StatusPending ProcessingStatus = "pending"
	StatusSuccess ProcessingStatus = "success"
	StatusError   ProcessingStatus = "error"
	StatusSkipped ProcessingStatus = "skipped"
)

// Event is one received webhook request.
type Event struct {
	ID                uuid.UUID        `json:"id"`
	Source            string           `json:"source"`
	Event             string           `json:"event"`
	Payload           []byte           `json:"payload"`
	Headers           http.Header      `json:"headers,omitempty"`
	Signature         string           `json:"signature,omitempty"`
	Valid             bool             `json:"valid"`
	ValidationMessage string           `json:"validation_message,omitempty"`
	Processed         bool             `json:"processed"`
	ProcessingStatus  ProcessingStatus `json:"processing_status"`
	ProcessingError   string           `json:"processing_error,omitempty"`
	ProcessedAt       *time.Time       `json:"processed_at,omitempty"`
	ReceivedAt        time.Time        `json:"received_at"`
}

// Request is the raw material of an inbound webhook.
type Request struct {
	Body   []byte
	Header http.Header
}

// Result is what HandleRequest did with a request.
type Result struct {
	EventID   uuid.UUID        `json:"id"`
	Event     string           `json:"event,omitempty"`
	Valid     bool             `json:"valid"`
	Status    ProcessingStatus `json:"status"`
	Queued    bool             `json:"queued,omitempty"`
	Duplicate bool             `json:"duplicate,omitempty"`
}

// Notification is published on the receiver's bus after each request.
type Notification struct {
	Source string           `json:"source"`
	Event  string           `json:"event"`
	Valid  bool             `json:"valid"`
	Status ProcessingStatus `json:"status"`
	// Outcome is one of processed, queued, rejected or duplicate.
	Outcome string    `json:"outcome"`
	At      time.Time `json:"at"`
}

// Outcomes carried by Notification.
const (
	OutcomeProcessed = "processed"
	OutcomeQueued    = "queued"
	OutcomeRejected  = "rejected"
	OutcomeDuplicate = "duplicate"
)
