package webhook

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DeliveryStore persists delivery records. It is the source of truth for retry scheduling.
type DeliveryStore interface {
	CreateDelivery(ctx context.Context, d *Delivery) error
	// GetDelivery returns ErrDeliveryNotFound when id is unknown.
	GetDelivery(ctx context.Context, id uuid.UUID) (*Delivery, error)
	UpdateDelivery(ctx context.Context, d *Delivery) error
	// UpdateDeliveryIf writes d only while the stored status and attempt still equal
	// expected and attempt. It reports whether the write happened.
	UpdateDeliveryIf(ctx context.Context, d *Delivery, expected Status, attempt int) (bool, error)
	// TransitionStatus atomically moves a delivery to `to` if it is still at attempt
	// and its current status is one of `from`. It reports whether the swap happened.
	TransitionStatus(ctx context.Context, id uuid.UUID, attempt int, from []Status, to Status) (bool, error)
	// AnnotateDelivery merges keys into metadata without touching any other column.
	AnnotateDelivery(ctx context.Context, id uuid.UUID, meta map[string]any) error
	// ListDueForRetry returns retrying deliveries with next_attempt_at <= now and attempts left.
	ListDueForRetry(ctx context.Context, now time.Time, limit int) ([]*Delivery, error)
	// ListStalled returns in-progress deliveries last updated before claimedBefore and
	// pending deliveries whose start time (next_attempt_at, else updated_at) is before
	// pendingBefore.
	ListStalled(ctx context.Context, claimedBefore, pendingBefore time.Time, limit int) ([]*Delivery, error)
	// ListFailedSince returns failed deliveries last attempted at or after since.
	ListFailedSince(ctx context.Context, since time.Time, limit int) ([]*Delivery, error)
	// ListFinishedBefore returns success, cancelled and failed deliveries last updated before t.
	ListFinishedBefore(ctx context.Context, t time.Time, limit int) ([]*Delivery, error)
	DeleteDeliveries(ctx context.Context, ids []uuid.UUID) (int64, error)
}

// EndpointStore persists endpoints. Deletes are soft so delivery history keeps its reference.
type EndpointStore interface {
	CreateEndpoint(ctx context.Context, e *Endpoint) error
	// GetEndpoint returns ErrEndpointNotFound when id is unknown or soft-deleted.
	GetEndpoint(ctx context.Context, id uuid.UUID) (*Endpoint, error)
	UpdateEndpoint(ctx context.Context, e *Endpoint) error
	DeleteEndpoint(ctx context.Context, id uuid.UUID) error
}

// SubscriptionStore persists subscriptions.
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, s *Subscription) error
	// GetSubscription returns ErrSubscriptionNotFound when id is unknown.
	GetSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error)
	UpdateSubscription(ctx context.Context, s *Subscription) error
	// ListSubscriptionsForEvent returns active, unexpired, uncapped subscriptions whose
	// pattern matches event. Payload filters are applied by the caller.
	ListSubscriptionsForEvent(ctx context.Context, event string, now time.Time) ([]*Subscription, error)
	// IncrementDeliveryCount bumps the counter unless the cap is reached and reports
	// whether it did.
	IncrementDeliveryCount(ctx context.Context, id uuid.UUID) (bool, error)
}
