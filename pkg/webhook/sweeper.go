package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/dmitrymomot/hookrelay/pkg/logger"
)

// SweepStats summarizes one sweep run.
type SweepStats struct {
	Due        int `json:"due"`
	Requeued   int `json:"requeued"`
	Duplicates int `json:"duplicates"`
	Stalled    int `json:"stalled"`
	Reclaimed  int `json:"reclaimed"`
	Failed     int `json:"failed"`
	Retried    int `json:"retried"`
}

// Sweeper recovers retries whose queue task was lost, reclaims attempts a dead worker
// left in progress and, optionally, re-attempts recently failed deliveries. Sweeps are
// idempotent: re-enqueued tasks carry the same per-attempt key as the original task
// and the dispatcher claims every attempt with a status and attempt compare-and-swap.
type Sweeper struct {
	dp           *Dispatcher
	limiter      *rate.Limiter
	batchSize    int
	stallTimeout time.Duration
	window       time.Duration
	autoRetry    bool
	logger       *slog.Logger
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepRate caps re-enqueues per second. Zero or negative disables pacing.
func WithSweepRate(perSecond float64) SweeperOption {
	return func(s *Sweeper) { s.limiter = newSweepLimiter(perSecond) }
}

func WithSweepBatchSize(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithStallTimeout sets how long a delivery may stay in progress, or pending past its
// start time, before the sweep recovers it. Zero disables the stalled sweep.
func WithStallTimeout(d time.Duration) SweeperOption {
	return func(s *Sweeper) { s.stallTimeout = d }
}

// WithFailedWindow enables SweepFailed as part of Run, looking back window.
func WithFailedWindow(window time.Duration) SweeperOption {
	return func(s *Sweeper) {
		s.window = window
		s.autoRetry = window > 0
	}
}

func WithSweeperLogger(l *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSweeper creates a sweeper over the dispatcher's store and queue. Defaults come
// from the dispatcher Config.
func NewSweeper(dp *Dispatcher, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		dp:           dp,
		limiter:      newSweepLimiter(dp.cfg.SweepRate),
		batchSize:    cmpOr(dp.cfg.SweepBatchSize, 100),
		stallTimeout: dp.cfg.StallTimeout,
		window:       dp.cfg.FailedWindow,
		autoRetry:    dp.cfg.AutoRetryFailed,
		logger:       dp.logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.Component("webhook.sweeper"))
	return s
}

func newSweepLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perSecond), max(int(perSecond), 1))
}

// Run performs SweepDue, SweepStalled when a stall timeout is set and, when enabled,
// SweepFailed.
func (s *Sweeper) Run(ctx context.Context) (SweepStats, error) {
	stats, err := s.SweepDue(ctx)
	if err != nil {
		return stats, err
	}
	if s.stallTimeout > 0 {
		stalled, err := s.SweepStalled(ctx)
		stats.add(stalled)
		if err != nil {
			return stats, err
		}
	}
	if !s.autoRetry {
		return stats, nil
	}
	failed, err := s.SweepFailed(ctx, s.window)
	stats.Failed = failed.Failed
	stats.Retried = failed.Retried
	return stats, err
}

// SweepDue re-enqueues retrying deliveries whose next attempt time has passed.
func (s *Sweeper) SweepDue(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	if s.dp.queue == nil {
		return stats, ErrNoTaskQueue
	}

	due, err := s.dp.deliveries.ListDueForRetry(ctx, s.dp.now(), s.batchSize)
	if err != nil {
		return stats, fmt.Errorf("list due deliveries: %w", err)
	}
	stats.Due = len(due)

	for _, d := range due {
		if err := s.limiter.Wait(ctx); err != nil {
			return stats, err
		}
		task := DeliveryTask{DeliveryID: d.ID, Attempt: d.Attempt, Source: SourceSweep}
		err := s.dp.queue.EnqueueDelivery(ctx, task, 0)
		switch {
		case errors.Is(err, ErrDuplicateTask):
			stats.Duplicates++
			continue
		case err != nil:
			s.logger.ErrorContext(ctx, "re-enqueue due delivery", logger.DeliveryID(d.ID.String()), logger.Error(err))
			continue
		}
		stats.Requeued++

		meta := map[string]any{
			"retry_source": SourceSweep,
			"retried_at":   s.dp.now().UTC().Format(time.RFC3339),
		}
		if err := s.dp.deliveries.AnnotateDelivery(ctx, d.ID, meta); err != nil {
			s.logger.WarnContext(ctx, "annotate swept delivery", logger.DeliveryID(d.ID.String()), logger.Error(err))
		}
	}

	if stats.Due > 0 {
		s.logger.InfoContext(ctx, "retry sweep finished",
			slog.Int("due", stats.Due),
			slog.Int("requeued", stats.Requeued),
			slog.Int("duplicates", stats.Duplicates),
		)
	}
	return stats, nil
}

// SweepStalled recovers deliveries nothing would pick up again. An attempt left in
// progress for longer than the stall timeout belongs to a worker that died or could
// not persist its outcome: it is counted as failed and retried while attempts remain.
// A pending delivery past its start time by the stall timeout lost its queue task and
// is enqueued again.
func (s *Sweeper) SweepStalled(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	if s.dp.queue == nil {
		return stats, ErrNoTaskQueue
	}
	if s.stallTimeout <= 0 {
		return stats, nil
	}

	now := s.dp.now()
	cutoff := now.Add(-s.stallTimeout)
	stalled, err := s.dp.deliveries.ListStalled(ctx, cutoff, cutoff, s.batchSize)
	if err != nil {
		return stats, fmt.Errorf("list stalled deliveries: %w", err)
	}
	stats.Stalled = len(stalled)

	for _, d := range stalled {
		if err := s.limiter.Wait(ctx); err != nil {
			return stats, err
		}
		if d.Status == StatusInProgress {
			if !s.reclaim(ctx, d, now) {
				continue
			}
			stats.Reclaimed++
			if d.Status != StatusRetrying {
				continue
			}
		}

		task := DeliveryTask{DeliveryID: d.ID, Attempt: d.Attempt, Source: SourceSweep}
		err := s.dp.queue.EnqueueDelivery(ctx, task, 0)
		switch {
		case errors.Is(err, ErrDuplicateTask):
			stats.Duplicates++
		case err != nil:
			s.logger.ErrorContext(ctx, "re-enqueue stalled delivery", logger.DeliveryID(d.ID.String()), logger.Error(err))
		default:
			stats.Requeued++
		}
	}

	if stats.Stalled > 0 {
		s.logger.InfoContext(ctx, "stalled sweep finished",
			slog.Int("stalled", stats.Stalled),
			slog.Int("reclaimed", stats.Reclaimed),
			slog.Int("requeued", stats.Requeued),
		)
	}
	return stats, nil
}

// reclaim closes an interrupted attempt. It reports whether the delivery was still
// held by that attempt.
func (s *Sweeper) reclaim(ctx context.Context, d *Delivery, now time.Time) bool {
	claimed := d.Attempt
	since := d.UpdatedAt
	d.ErrorMessage = "attempt interrupted"
	d.ErrorDetail = "in progress since " + since.UTC().Format(time.RFC3339)
	d.SetMetadata("reclaimed_at", now.UTC().Format(time.RFC3339))
	if !d.ScheduleRetry(0, now) {
		d.SetMetadata("failure_reason", "max_attempts_reached")
	}

	ok, err := s.dp.deliveries.UpdateDeliveryIf(ctx, d, StatusInProgress, claimed)
	if err != nil {
		s.logger.ErrorContext(ctx, "reclaim stalled delivery", logger.DeliveryID(d.ID.String()), logger.Error(err))
		return false
	}
	if !ok {
		return false
	}
	s.logger.WarnContext(ctx, "reclaimed stalled delivery",
		logger.DeliveryID(d.ID.String()),
		logger.Attempt(claimed),
		slog.Time("in_progress_since", since),
	)
	s.dp.publish(EventDispatchFailed, d)
	if d.Status == StatusRetrying {
		s.dp.publish(EventRetryScheduled, d)
	}
	return true
}

func (st *SweepStats) add(o SweepStats) {
	st.Requeued += o.Requeued
	st.Duplicates += o.Duplicates
	st.Stalled += o.Stalled
	st.Reclaimed += o.Reclaimed
}

// SweepFailed retries failed deliveries last attempted within window that still have
// attempts left. Deliveries rejected with a non-retryable status are left alone.
func (s *Sweeper) SweepFailed(ctx context.Context, window time.Duration) (SweepStats, error) {
	var stats SweepStats
	since := s.dp.now().Add(-window)
	failed, err := s.dp.deliveries.ListFailedSince(ctx, since, s.batchSize)
	if err != nil {
		return stats, fmt.Errorf("list failed deliveries: %w", err)
	}

	for _, d := range failed {
		if !d.CanBeRetried() || d.Metadata["failure_reason"] == "non_retryable_status" {
			continue
		}
		stats.Failed++
		if err := s.limiter.Wait(ctx); err != nil {
			return stats, err
		}
		if _, err := s.dp.Retry(ctx, d.ID, withSource(SourceSweep)); err != nil && !IsDeliveryError(err) {
			s.logger.WarnContext(ctx, "retry failed delivery", logger.DeliveryID(d.ID.String()), logger.Error(err))
			continue
		}
		stats.Retried++
	}
	return stats, nil
}
