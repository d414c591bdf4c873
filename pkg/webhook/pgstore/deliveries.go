package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/hookrelay/pkg/pg"
	"github.com/dmitrymomot/hookrelay/pkg/webhook"
)

const deliveryColumns = `id, endpoint_id, destination, event, payload, headers, signature, status,
	attempt, max_attempts, last_attempt_at, next_attempt_at, response_status, response_body,
	response_headers, response_time_ms, error_message, error_detail, success, policy, metadata,
	created_at, updated_at`

func scanDelivery(row pgx.Row) (*webhook.Delivery, error) {
	var (
		d              webhook.Delivery
		payload        []byte
		status         string
		responseTimeMs int64
	)
	err := row.Scan(
		&d.ID, &d.EndpointID, &d.Destination, &d.Event, &payload, &d.Headers, &d.Signature, &status,
		&d.Attempt, &d.MaxAttempts, &d.LastAttemptAt, &d.NextAttemptAt, &d.ResponseStatus, &d.ResponseBody,
		&d.ResponseHeaders, &responseTimeMs, &d.ErrorMessage, &d.ErrorDetail, &d.Success, &d.Policy, &d.Metadata,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Payload = json.RawMessage(payload)
	d.Status = webhook.Status(status)
	d.ResponseTime = fromMillis(responseTimeMs)
	return &d, nil
}

func (s *Store) queryDeliveries(ctx context.Context, query string, args ...any) ([]*webhook.Delivery, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*webhook.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) CreateDelivery(ctx context.Context, d *webhook.Delivery) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	_, err := s.db.Exec(ctx, `INSERT INTO webhook_deliveries (`+deliveryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
		d.ID, d.EndpointID, d.Destination, d.Event, []byte(d.Payload), stringMap(d.Headers), d.Signature, string(d.Status),
		d.Attempt, d.MaxAttempts, d.LastAttemptAt, d.NextAttemptAt, d.ResponseStatus, d.ResponseBody,
		header(d.ResponseHeaders), toMillis(d.ResponseTime), d.ErrorMessage, d.ErrorDetail, d.Success, d.Policy, anyMap(d.Metadata),
		d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create delivery: %w", err)
	}
	return nil
}

func (s *Store) GetDelivery(ctx context.Context, id uuid.UUID) (*webhook.Delivery, error) {
	d, err := scanDelivery(s.db.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE id = $1`, id))
	if pg.IsNotFoundError(err) {
		return nil, webhook.ErrDeliveryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get delivery: %w", err)
	}
	return d, nil
}

const updateDelivery = `UPDATE webhook_deliveries SET
	headers = $2, signature = $3, status = $4, attempt = $5, max_attempts = $6,
	last_attempt_at = $7, next_attempt_at = $8, response_status = $9, response_body = $10,
	response_headers = $11, response_time_ms = $12, error_message = $13, error_detail = $14,
	success = $15, policy = $16, metadata = $17, updated_at = $18
	WHERE id = $1`

func updateArgs(d *webhook.Delivery) []any {
	return []any{
		d.ID, stringMap(d.Headers), d.Signature, string(d.Status), d.Attempt, d.MaxAttempts,
		d.LastAttemptAt, d.NextAttemptAt, d.ResponseStatus, d.ResponseBody,
		header(d.ResponseHeaders), toMillis(d.ResponseTime), d.ErrorMessage, d.ErrorDetail,
		d.Success, d.Policy, anyMap(d.Metadata), d.UpdatedAt,
	}
}

func (s *Store) UpdateDelivery(ctx context.Context, d *webhook.Delivery) error {
	tag, err := s.db.Exec(ctx, updateDelivery, updateArgs(d)...)
	if err != nil {
		return fmt.Errorf("update delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return webhook.ErrDeliveryNotFound
	}
	return nil
}

func (s *Store) UpdateDeliveryIf(ctx context.Context, d *webhook.Delivery, expected webhook.Status, attempt int) (bool, error) {
	tag, err := s.db.Exec(ctx, updateDelivery+` AND status = $19 AND attempt = $20`,
		append(updateArgs(d), string(expected), attempt)...)
	if err != nil {
		return false, fmt.Errorf("update delivery: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	return false, s.deliveryExists(ctx, d.ID)
}

func (s *Store) TransitionStatus(ctx context.Context, id uuid.UUID, attempt int, from []webhook.Status, to webhook.Status) (bool, error) {
	states := make([]string, len(from))
	for i, st := range from {
		states[i] = string(st)
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE webhook_deliveries SET status = $2, updated_at = $3
		WHERE id = $1 AND status = ANY($4) AND attempt = $5`,
		id, string(to), s.now(), states, attempt,
	)
	if err != nil {
		return false, fmt.Errorf("transition delivery: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	return false, s.deliveryExists(ctx, id)
}

func (s *Store) deliveryExists(ctx context.Context, id uuid.UUID) error {
	ok, err := s.exists(ctx, `SELECT EXISTS (SELECT 1 FROM webhook_deliveries WHERE id = $1)`, id)
	if err != nil {
		return fmt.Errorf("check delivery: %w", err)
	}
	if !ok {
		return webhook.ErrDeliveryNotFound
	}
	return nil
}

func (s *Store) AnnotateDelivery(ctx context.Context, id uuid.UUID, meta map[string]any) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE webhook_deliveries SET metadata = metadata || $2::jsonb WHERE id = $1`,
		id, anyMap(meta),
	)
	if err != nil {
		return fmt.Errorf("annotate delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return webhook.ErrDeliveryNotFound
	}
	return nil
}

// A zero limit becomes LIMIT NULL, which Postgres reads as no limit.

func (s *Store) ListDueForRetry(ctx context.Context, now time.Time, limit int) ([]*webhook.Delivery, error) {
	out, err := s.queryDeliveries(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries
		WHERE status = 'retrying' AND next_attempt_at <= $1 AND attempt <= max_attempts
		ORDER BY next_attempt_at
		LIMIT NULLIF($2, 0)`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due deliveries: %w", err)
	}
	return out, nil
}

func (s *Store) ListStalled(ctx context.Context, claimedBefore, pendingBefore time.Time, limit int) ([]*webhook.Delivery, error) {
	out, err := s.queryDeliveries(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries
		WHERE (status = 'in_progress' AND updated_at < $1)
			OR (status = 'pending' AND COALESCE(next_attempt_at, updated_at) < $2)
		ORDER BY created_at
		LIMIT NULLIF($3, 0)`, claimedBefore, pendingBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list stalled deliveries: %w", err)
	}
	return out, nil
}

func (s *Store) ListFailedSince(ctx context.Context, since time.Time, limit int) ([]*webhook.Delivery, error) {
	out, err := s.queryDeliveries(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries
		WHERE status = 'failed' AND last_attempt_at >= $1
		ORDER BY created_at
		LIMIT NULLIF($2, 0)`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed deliveries: %w", err)
	}
	return out, nil
}

func (s *Store) ListFinishedBefore(ctx context.Context, t time.Time, limit int) ([]*webhook.Delivery, error) {
	out, err := s.queryDeliveries(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries
		WHERE status IN ('success', 'failed', 'cancelled') AND updated_at < $1
		ORDER BY created_at
		LIMIT NULLIF($2, 0)`, t, limit)
	if err != nil {
		return nil, fmt.Errorf("list finished deliveries: %w", err)
	}
	return out, nil
}

func (s *Store) DeleteDeliveries(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM webhook_deliveries WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("delete deliveries: %w", err)
	}
	return tag.RowsAffected(), nil
}
