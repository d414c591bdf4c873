package pgstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrymomot/hookrelay/pkg/secrets"
	"github.com/dmitrymomot/hookrelay/pkg/webhook"
)

// DB is the subset of pgxpool.Pool the store needs. A pgx.Tx satisfies it too.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements webhook.DeliveryStore, webhook.EndpointStore and
// webhook.SubscriptionStore.
type Store struct {
	db     DB
	cipher *secrets.Cipher
	now    func() time.Time
}

var (
	_ webhook.DeliveryStore     = (*Store)(nil)
	_ webhook.EndpointStore     = (*Store)(nil)
	_ webhook.SubscriptionStore = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithCipher encrypts endpoint secrets at rest.
func WithCipher(c *secrets.Cipher) Option {
	return func(s *Store) { s.cipher = c }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(db DB, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// exists distinguishes "row missing" from "guard did not match" after a
// conditional update touched nothing.
func (s *Store) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var ok bool
	if err := s.db.QueryRow(ctx, query, args...).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}
