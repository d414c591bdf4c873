package webhook

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrDeliveryFailed       = errors.New("webhook delivery failed")
	ErrDeliveryNotFound     = errors.New("delivery not found")
	ErrEndpointNotFound     = errors.New("endpoint not found")
	ErrEndpointInactive     = errors.New("endpoint is inactive")
	ErrEventNotAccepted     = errors.New("endpoint does not accept event")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrConfiguration        = errors.New("invalid webhook configuration")
	ErrInvalidURL           = errors.New("invalid webhook URL")
	ErrInvalidPayload       = errors.New("invalid webhook payload")
	ErrInvalidTransition    = errors.New("invalid delivery status transition")
	ErrNotRetriable         = errors.New("delivery cannot be retried")
	ErrHookRejected         = errors.New("before hook rejected delivery")
	ErrNoTaskQueue          = errors.New("no task queue configured")
	ErrDuplicateTask        = errors.New("delivery task already queued")
)

// DeliveryError describes a failed attempt. StatusCode is zero for transport errors.
type DeliveryError struct {
	Destination  string
	DeliveryID   uuid.UUID
	StatusCode   int
	ResponseBody string
	Err          error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("delivery %s to %s failed with status %d: %v", e.DeliveryID, e.Destination, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("delivery %s to %s failed: %v", e.DeliveryID, e.Destination, e.Err)
}

func (e *DeliveryError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDeliveryFailed}
	}
	return []error{ErrDeliveryFailed, e.Err}
}

// IsDeliveryError reports whether err came from a failed attempt.
func IsDeliveryError(err error) bool {
	return errors.Is(err, ErrDeliveryFailed)
}
