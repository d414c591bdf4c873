// Package pgstore persists inbound events in PostgreSQL.
package pgstore

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrymomot/hookrelay/pkg/inbound"
	"github.com/dmitrymomot/hookrelay/pkg/pg"
)

// DB is satisfied by *pgxpool.Pool and pgx.Tx.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements inbound.Store.
type Store struct {
	db DB
}

var _ inbound.Store = (*Store)(nil)

func New(db DB) *Store {
	return &Store{db: db}
}

const columns = `id, source, event, payload, headers, signature, valid, validation_message,
	processed, processing_status, processing_error, processed_at, received_at`

func scanEvent(row pgx.Row) (*inbound.Event, error) {
	var (
		e      inbound.Event
		status string
	)
	err := row.Scan(
		&e.ID, &e.Source, &e.Event, &e.Payload, &e.Headers, &e.Signature, &e.Valid, &e.ValidationMessage,
		&e.Processed, &status, &e.ProcessingError, &e.ProcessedAt, &e.ReceivedAt,
	)
	if err != nil {
		return nil, err
	}
	e.ProcessingStatus = inbound.ProcessingStatus(status)
	return &e, nil
}

func (s *Store) CreateEvent(ctx context.Context, e *inbound.Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	headers := e.Headers
	if headers == nil {
		headers = http.Header{}
	}
	payload := e.Payload
	if payload == nil {
		payload = []byte{}
	}
	_, err := s.db.Exec(ctx, `INSERT INTO inbound_events (`+columns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID, e.Source, e.Event, payload, headers, e.Signature, e.Valid, e.ValidationMessage,
		e.Processed, string(e.ProcessingStatus), e.ProcessingError, e.ProcessedAt, e.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("create inbound event: %w", err)
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, id uuid.UUID) (*inbound.Event, error) {
	e, err := scanEvent(s.db.QueryRow(ctx, `SELECT `+columns+` FROM inbound_events WHERE id = $1`, id))
	if pg.IsNotFoundError(err) {
		return nil, inbound.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get inbound event: %w", err)
	}
	return e, nil
}

// MarkProcessed only touches events that are still unprocessed.
func (s *Store) MarkProcessed(ctx context.Context, id uuid.UUID, status inbound.ProcessingStatus, processingErr string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE inbound_events
		SET processed = TRUE, processing_status = $2, processing_error = $3, processed_at = $4
		WHERE id = $1 AND NOT processed`,
		id, string(status), processingErr, at,
	)
	if err != nil {
		return fmt.Errorf("mark inbound event processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetEvent(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ListUnprocessed(ctx context.Context, limit int) ([]*inbound.Event, error) {
	rows, err := s.db.Query(ctx, `SELECT `+columns+` FROM inbound_events
		WHERE NOT processed AND processing_status = 'pending'
		ORDER BY received_at
		LIMIT NULLIF($1, 0)`, limit)
	if err != nil {
		return nil, fmt.Errorf("list inbound events: %w", err)
	}
	defer rows.Close()

	var out []*inbound.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan inbound event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
