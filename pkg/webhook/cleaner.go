package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/hookrelay/pkg/logger"
)

// Archiver stores deliveries before the cleaner deletes them.
type Archiver interface {
	Archive(ctx context.Context, deliveries []*Delivery) error
}

// CleanupStats summarizes one cleanup run.
type CleanupStats struct {
	Archived int   `json:"archived"`
	Deleted  int64 `json:"deleted"`
}

// Cleaner removes finished deliveries older than the retention period.
type Cleaner struct {
	deliveries DeliveryStore
	archiver   Archiver
	retention  time.Duration
	batchSize  int
	logger     *slog.Logger
	now        func() time.Time
}

// CleanerOption configures a Cleaner.
type CleanerOption func(*Cleaner)

// WithArchiver archives every batch before it is deleted.
func WithArchiver(a Archiver) CleanerOption {
	return func(c *Cleaner) { c.archiver = a }
}

func WithRetention(d time.Duration) CleanerOption {
	return func(c *Cleaner) {
		if d > 0 {
			c.retention = d
		}
	}
}

func WithCleanupBatchSize(n int) CleanerOption {
	return func(c *Cleaner) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

func WithCleanerLogger(l *slog.Logger) CleanerOption {
	return func(c *Cleaner) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithCleanerClock(now func() time.Time) CleanerOption {
	return func(c *Cleaner) { c.now = now }
}

func NewCleaner(deliveries DeliveryStore, opts ...CleanerOption) *Cleaner {
	c := &Cleaner{
		deliveries: deliveries,
		retention:  DefaultConfig().Retention,
		batchSize:  500,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(logger.Component("webhook.cleaner"))
	return c
}

// Run deletes success, cancelled and failed deliveries last updated before
// now minus retention, batch by batch. An archive failure stops the run before
// the batch is deleted.
func (c *Cleaner) Run(ctx context.Context) (CleanupStats, error) {
	var stats CleanupStats
	cutoff := c.now().Add(-c.retention)

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		batch, err := c.deliveries.ListFinishedBefore(ctx, cutoff, c.batchSize)
		if err != nil {
			return stats, fmt.Errorf("list finished deliveries: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		if c.archiver != nil {
			if err := c.archiver.Archive(ctx, batch); err != nil {
				return stats, fmt.Errorf("archive deliveries: %w", err)
			}
			stats.Archived += len(batch)
		}

		ids := make([]uuid.UUID, len(batch))
		for i, d := range batch {
			ids[i] = d.ID
		}
		n, err := c.deliveries.DeleteDeliveries(ctx, ids)
		if err != nil {
			return stats, fmt.Errorf("delete deliveries: %w", err)
		}
		stats.Deleted += n

		if len(batch) < c.batchSize {
			break
		}
	}

	if stats.Deleted > 0 {
		c.logger.InfoContext(ctx, "delivery cleanup finished",
			slog.Int("archived", stats.Archived),
			slog.Int64("deleted", stats.Deleted),
			slog.Time("cutoff", cutoff),
		)
	}
	return stats, nil
}
