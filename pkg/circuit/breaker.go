package circuit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// State is the circuit state of a destination.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// Snapshot is the stored circuit data for one destination.
type Snapshot struct {
	State     State
	Failures  int
	Successes int
	OpenUntil time.Time
}

// Store persists circuit state. Increments must be atomic because many dispatch
// workers record outcomes for the same destination concurrently.
type Store interface {
	Load(ctx context.Context, dest string) (Snapshot, error)
	IncrFailures(ctx context.Context, dest string) (int, error)
	IncrSuccesses(ctx context.Context, dest string) (int, error)
	ResetFailures(ctx context.Context, dest string) error
	Open(ctx context.Context, dest string, until time.Time) error
	HalfOpen(ctx context.Context, dest string) error
	Close(ctx context.Context, dest string) error
	Delete(ctx context.Context, dest string) error
}

const (
	DefaultThreshold    = 5
	DefaultOpenDuration = 5 * time.Minute
)

// Breaker gates delivery attempts per destination.
// Open circuits move to half-open lazily when read after OpenUntil; no timers run.
type Breaker struct {
	store        Store
	threshold    int
	openDuration time.Duration
	now          func() time.Time
	logger       *slog.Logger
	onChange     func(dest string, from, to State)
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithThreshold sets the consecutive failure count that opens the circuit.
func WithThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.threshold = n
		}
	}
}

// WithOpenDuration sets how long a tripped circuit stays open.
func WithOpenDuration(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.openDuration = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Breaker) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithStateChange registers a callback fired after every state transition.
func WithStateChange(fn func(dest string, from, to State)) Option {
	return func(b *Breaker) { b.onChange = fn }
}

// New creates a Breaker backed by store.
func New(store Store, opts ...Option) *Breaker {
	b := &Breaker{
		store:        store,
		threshold:    DefaultThreshold,
		openDuration: DefaultOpenDuration,
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Threshold returns the configured failure threshold.
func (b *Breaker) Threshold() int { return b.threshold }

// State returns the current snapshot, applying the open to half-open transition
// when OpenUntil has passed. Concurrent readers may both apply it; the write is idempotent.
func (b *Breaker) State(ctx context.Context, dest string) (Snapshot, error) {
	snap, err := b.store.Load(ctx, dest)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load circuit %q: %w", dest, err)
	}
	if snap.State == "" {
		snap.State = Closed
	}
	if snap.State == Open && !b.now().Before(snap.OpenUntil) {
		if err := b.store.HalfOpen(ctx, dest); err != nil {
			return Snapshot{}, fmt.Errorf("half-open circuit %q: %w", dest, err)
		}
		b.changed(dest, Open, HalfOpen)
		snap.State = HalfOpen
	}
	return snap, nil
}

// IsOpen reports whether calls to dest are currently rejected.
func (b *Breaker) IsOpen(ctx context.Context, dest string) (bool, error) {
	snap, err := b.State(ctx, dest)
	if err != nil {
		return false, err
	}
	return snap.State == Open, nil
}

// Check returns an *OpenError when dest is open.
func (b *Breaker) Check(ctx context.Context, dest string) error {
	snap, err := b.State(ctx, dest)
	if err != nil {
		return err
	}
	if snap.State == Open {
		return &OpenError{Destination: dest, FailureCount: snap.Failures, ReopenAt: snap.OpenUntil}
	}
	return nil
}

// RecordSuccess zeroes the failure counter and closes a half-open circuit.
func (b *Breaker) RecordSuccess(ctx context.Context, dest string) error {
	snap, err := b.State(ctx, dest)
	if err != nil {
		return err
	}
	if snap.State == HalfOpen {
		if err := b.store.Close(ctx, dest); err != nil {
			return fmt.Errorf("close circuit %q: %w", dest, err)
		}
		b.changed(dest, HalfOpen, Closed)
		return nil
	}
	if err := b.store.ResetFailures(ctx, dest); err != nil {
		return fmt.Errorf("reset failures %q: %w", dest, err)
	}
	if _, err := b.store.IncrSuccesses(ctx, dest); err != nil {
		return fmt.Errorf("count success %q: %w", dest, err)
	}
	return nil
}

// RecordFailure counts a failure. Reaching the threshold while closed, or any
// failure while half-open, opens the circuit.
func (b *Breaker) RecordFailure(ctx context.Context, dest string) error {
	snap, err := b.State(ctx, dest)
	if err != nil {
		return err
	}
	n, err := b.store.IncrFailures(ctx, dest)
	if err != nil {
		return fmt.Errorf("count failure %q: %w", dest, err)
	}

	switch {
	case snap.State == HalfOpen:
		return b.open(ctx, dest, HalfOpen, b.openDuration, n)
	case snap.State == Closed && n >= b.threshold:
		return b.open(ctx, dest, Closed, b.openDuration, n)
	}
	return nil
}

// ForceOpen opens the circuit for d, or the configured duration when d is zero.
func (b *Breaker) ForceOpen(ctx context.Context, dest string, d time.Duration) error {
	if d <= 0 {
		d = b.openDuration
	}
	snap, err := b.store.Load(ctx, dest)
	if err != nil {
		return fmt.Errorf("load circuit %q: %w", dest, err)
	}
	return b.open(ctx, dest, orClosed(snap.State), d, snap.Failures)
}

// ForceClose closes the circuit and zeroes its counters.
func (b *Breaker) ForceClose(ctx context.Context, dest string) error {
	snap, err := b.store.Load(ctx, dest)
	if err != nil {
		return fmt.Errorf("load circuit %q: %w", dest, err)
	}
	if err := b.store.Close(ctx, dest); err != nil {
		return fmt.Errorf("close circuit %q: %w", dest, err)
	}
	b.changed(dest, orClosed(snap.State), Closed)
	return nil
}

// Reset drops all stored state for dest.
func (b *Breaker) Reset(ctx context.Context, dest string) error {
	if err := b.store.Delete(ctx, dest); err != nil {
		return fmt.Errorf("reset circuit %q: %w", dest, err)
	}
	return nil
}

func (b *Breaker) open(ctx context.Context, dest string, from State, d time.Duration, failures int) error {
	until := b.now().Add(d)
	if err := b.store.Open(ctx, dest, until); err != nil {
		return fmt.Errorf("open circuit %q: %w", dest, err)
	}
	b.logger.WarnContext(ctx, "circuit opened",
		slog.String("destination", dest),
		slog.Int("failures", failures),
		slog.Time("open_until", until),
	)
	b.changed(dest, from, Open)
	return nil
}

func (b *Breaker) changed(dest string, from, to State) {
	if b.onChange != nil && from != to {
		b.onChange(dest, from, to)
	}
}

func orClosed(s State) State {
	if s == "" {
		return Closed
	}
	return s
}

// Execute runs fn through the breaker. When the circuit is open fn is skipped and
// fallback, if given, receives the *OpenError. Errors from fn are recorded as
// failures; if that failure opened the circuit the fallback handles it, otherwise
// the error is returned as is.
func Execute[T any](
	ctx context.Context,
	b *Breaker,
	dest string,
	fn func(context.Context) (T, error),
	fallback func(context.Context, error) (T, error),
) (T, error) {
	var zero T

	if err := b.Check(ctx, dest); err != nil {
		if fallback != nil && IsOpen(err) {
			return fallback(ctx, err)
		}
		return zero, err
	}

	res, err := fn(ctx)
	if err != nil {
		if recErr := b.RecordFailure(ctx, dest); recErr != nil {
			b.logger.ErrorContext(ctx, "record circuit failure", slog.String("destination", dest), slog.Any("error", recErr))
		}
		if fallback != nil {
			if open, _ := b.IsOpen(ctx, dest); open {
				return fallback(ctx, err)
			}
		}
		return zero, err
	}

	if recErr := b.RecordSuccess(ctx, dest); recErr != nil {
		b.logger.ErrorContext(ctx, "record circuit success", slog.String("destination", dest), slog.Any("error", recErr))
	}
	return res, nil
}
