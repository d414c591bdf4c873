package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/hookrelay/pkg/pg"
	"github.com/dmitrymomot/hookrelay/pkg/webhook"
)

const subscriptionColumns = `id, endpoint_id, event_pattern, filters, active, expires_at,
	max_deliveries, delivery_count, created_at, updated_at`

func scanSubscription(row pgx.Row) (*webhook.Subscription, error) {
	var sub webhook.Subscription
	err := row.Scan(
		&sub.ID, &sub.EndpointID, &sub.EventPattern, &sub.Filters, &sub.Active, &sub.ExpiresAt,
		&sub.MaxDeliveries, &sub.DeliveryCount, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *Store) CreateSubscription(ctx context.Context, sub *webhook.Subscription) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	now := s.now()
	sub.CreatedAt, sub.UpdatedAt = now, now

	_, err := s.db.Exec(ctx, `INSERT INTO webhook_subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		sub.ID, sub.EndpointID, sub.EventPattern, anyMap(sub.Filters), sub.Active, sub.ExpiresAt,
		sub.MaxDeliveries, sub.DeliveryCount, sub.CreatedAt, sub.UpdatedAt,
	)
	if pg.IsForeignKeyViolationError(err) {
		return fmt.Errorf("create subscription: %w", webhook.ErrEndpointNotFound)
	}
	if err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, id uuid.UUID) (*webhook.Subscription, error) {
	sub, err := scanSubscription(s.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM webhook_subscriptions WHERE id = $1`, id))
	if pg.IsNotFoundError(err) {
		return nil, webhook.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *webhook.Subscription) error {
	sub.UpdatedAt = s.now()
	tag, err := s.db.Exec(ctx, `UPDATE webhook_subscriptions SET
		event_pattern = $2, filters = $3, active = $4, expires_at = $5,
		max_deliveries = $6, delivery_count = $7, updated_at = $8
		WHERE id = $1`,
		sub.ID, sub.EventPattern, anyMap(sub.Filters), sub.Active, sub.ExpiresAt,
		sub.MaxDeliveries, sub.DeliveryCount, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return webhook.ErrSubscriptionNotFound
	}
	return nil
}

// ListSubscriptionsForEvent narrows candidates in SQL with the same pattern rules
// as webhook.MatchPattern: "*", an exact name, or a "prefix.*" that needs at least
// one character after the prefix.
func (s *Store) ListSubscriptionsForEvent(ctx context.Context, event string, now time.Time) ([]*webhook.Subscription, error) {
	rows, err := s.db.Query(ctx, `SELECT `+subscriptionColumns+` FROM webhook_subscriptions
		WHERE active
			AND (expires_at IS NULL OR expires_at > $2)
			AND (max_deliveries <= 0 OR delivery_count < max_deliveries)
			AND (
				event_pattern = '*'
				OR event_pattern = $1
				OR (
					right(event_pattern, 1) = '*'
					AND starts_with($1, left(event_pattern, -1))
					AND length($1) > length(event_pattern) - 1
				)
			)
		ORDER BY created_at, id`, event, now)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*webhook.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		if webhook.MatchPattern(sub.EventPattern, event) {
			out = append(out, sub)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return out, nil
}

func (s *Store) IncrementDeliveryCount(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.db.Exec(ctx, `UPDATE webhook_subscriptions
		SET delivery_count = delivery_count + 1, updated_at = $2
		WHERE id = $1 AND (max_deliveries <= 0 OR delivery_count < max_deliveries)`,
		id, s.now(),
	)
	if err != nil {
		return false, fmt.Errorf("increment delivery count: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	ok, err := s.exists(ctx, `SELECT EXISTS (SELECT 1 FROM webhook_subscriptions WHERE id = $1)`, id)
	if err != nil {
		return false, fmt.Errorf("check subscription: %w", err)
	}
	if !ok {
		return false, webhook.ErrSubscriptionNotFound
	}
	return false, nil
}
