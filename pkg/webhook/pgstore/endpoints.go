package pgstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/hookrelay/pkg/pg"
	"github.com/dmitrymomot/hookrelay/pkg/response"
	"github.com/dmitrymomot/hookrelay/pkg/signature"
	"github.com/dmitrymomot/hookrelay/pkg/webhook"
)

const endpointColumns = `id, url, description, active, secret, signature_algorithm, signature_header,
	timeout_ms, connect_timeout_ms, insecure_skip_verify, max_attempts, retry_strategy,
	retry_intervals_ms, headers, events, provider, created_at, updated_at, deleted_at`

func (s *Store) scanEndpoint(row pgx.Row) (*webhook.Endpoint, error) {
	var (
		e                             webhook.Endpoint
		algorithm, strategy, provider string
		timeoutMs, connectTimeoutMs   int64
		intervalsMs                   []int64
	)
	err := row.Scan(
		&e.ID, &e.URL, &e.Description, &e.Active, &e.Secret, &algorithm, &e.SignatureHeader,
		&timeoutMs, &connectTimeoutMs, &e.InsecureSkipVerify, &e.MaxAttempts, &strategy,
		&intervalsMs, &e.Headers, &e.Events, &provider, &e.CreatedAt, &e.UpdatedAt, &e.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	e.SignatureAlgorithm = signature.Algorithm(algorithm)
	e.RetryStrategy = webhook.RetryStrategy(strategy)
	e.Provider = response.Provider(provider)
	e.Timeout = fromMillis(timeoutMs)
	e.ConnectTimeout = fromMillis(connectTimeoutMs)
	e.RetryIntervals = durationList(intervalsMs)

	if e.Secret, err = s.cipher.Decrypt(e.ID.String(), e.Secret); err != nil {
		return nil, fmt.Errorf("decrypt endpoint secret: %w", err)
	}
	return &e, nil
}

func (s *Store) sealSecret(e *webhook.Endpoint) (string, error) {
	sealed, err := s.cipher.Encrypt(e.ID.String(), e.Secret)
	if err != nil {
		return "", fmt.Errorf("encrypt endpoint secret: %w", err)
	}
	return sealed, nil
}

func (s *Store) CreateEndpoint(ctx context.Context, e *webhook.Endpoint) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	secret, err := s.sealSecret(e)
	if err != nil {
		return err
	}
	now := s.now()
	e.CreatedAt, e.UpdatedAt = now, now

	_, err = s.db.Exec(ctx, `INSERT INTO webhook_endpoints (`+endpointColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		e.ID, e.URL, e.Description, e.Active, secret, string(e.SignatureAlgorithm), e.SignatureHeader,
		toMillis(e.Timeout), toMillis(e.ConnectTimeout), e.InsecureSkipVerify, e.MaxAttempts, string(e.RetryStrategy),
		millisList(e.RetryIntervals), stringMap(e.Headers), stringList(e.Events), string(e.Provider),
		e.CreatedAt, e.UpdatedAt, e.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("create endpoint: %w", err)
	}
	return nil
}

func (s *Store) GetEndpoint(ctx context.Context, id uuid.UUID) (*webhook.Endpoint, error) {
	e, err := s.scanEndpoint(s.db.QueryRow(ctx,
		`SELECT `+endpointColumns+` FROM webhook_endpoints WHERE id = $1 AND deleted_at IS NULL`, id))
	if pg.IsNotFoundError(err) {
		return nil, webhook.ErrEndpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get endpoint: %w", err)
	}
	return e, nil
}

func (s *Store) UpdateEndpoint(ctx context.Context, e *webhook.Endpoint) error {
	secret, err := s.sealSecret(e)
	if err != nil {
		return err
	}
	e.UpdatedAt = s.now()

	tag, err := s.db.Exec(ctx, `UPDATE webhook_endpoints SET
		url = $2, description = $3, active = $4, secret = $5, signature_algorithm = $6,
		signature_header = $7, timeout_ms = $8, connect_timeout_ms = $9, insecure_skip_verify = $10,
		max_attempts = $11, retry_strategy = $12, retry_intervals_ms = $13, headers = $14,
		events = $15, provider = $16, updated_at = $17
		WHERE id = $1 AND deleted_at IS NULL`,
		e.ID, e.URL, e.Description, e.Active, secret, string(e.SignatureAlgorithm),
		e.SignatureHeader, toMillis(e.Timeout), toMillis(e.ConnectTimeout), e.InsecureSkipVerify,
		e.MaxAttempts, string(e.RetryStrategy), millisList(e.RetryIntervals), stringMap(e.Headers),
		stringList(e.Events), string(e.Provider), e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update endpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return webhook.ErrEndpointNotFound
	}
	return nil
}

func (s *Store) DeleteEndpoint(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE webhook_endpoints SET deleted_at = $2, active = FALSE, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL`,
		id, s.now(),
	)
	if err != nil {
		return fmt.Errorf("delete endpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return webhook.ErrEndpointNotFound
	}
	return nil
}
