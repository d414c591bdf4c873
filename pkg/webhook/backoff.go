package webhook

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// RetryStrategy selects how the delay between attempts grows.
type RetryStrategy string

const (
	StrategyExponential RetryStrategy = "exponential"
	StrategyLinear      RetryStrategy = "linear"
	StrategyFixed       RetryStrategy = "fixed"
)

const (
	DefaultBaseDelay   = 30 * time.Second
	DefaultMaxDelay    = time.Hour
	DefaultMultiplier  = 2.0
	DefaultMaxAttempts = 3
)

// ParseRetryStrategy validates a strategy name. Empty resolves to exponential.
func ParseRetryStrategy(s string) (RetryStrategy, error) {
	switch RetryStrategy(s) {
	case "", StrategyExponential:
		return StrategyExponential, nil
	case StrategyLinear, StrategyFixed:
		return RetryStrategy(s), nil
	}
	return "", fmt.Errorf("%w: unknown retry strategy %q", ErrConfiguration, s)
}

// BackoffStrategy calculates retry delays. Attempt is the number of the attempt
// that just failed, starting at 1.
type BackoffStrategy interface {
	NextInterval(attempt int) time.Duration
}

// ExponentialBackoff grows as InitialInterval * Multiplier^(attempt-1), capped at MaxInterval.
type ExponentialBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	JitterFactor    float64
}

func (e ExponentialBackoff) NextInterval(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	initial := cmpOr(e.InitialInterval, DefaultBaseDelay)
	maxInterval := cmpOr(e.MaxInterval, DefaultMaxDelay)
	multiplier := cmpOr(e.Multiplier, DefaultMultiplier)

	interval := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if e.JitterFactor > 0 {
		interval *= 1 + (rand.Float64()*2-1)*e.JitterFactor
	}
	if interval > float64(maxInterval) {
		interval = float64(maxInterval)
	}
	return time.Duration(interval)
}

// LinearBackoff grows as Interval * attempt, capped at MaxInterval.
type LinearBackoff struct {
	Interval    time.Duration
	MaxInterval time.Duration
}

func (l LinearBackoff) NextInterval(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := cmpOr(l.Interval, DefaultBaseDelay) * time.Duration(attempt)
	return min(delay, cmpOr(l.MaxInterval, DefaultMaxDelay))
}

// FixedBackoff always waits Interval.
type FixedBackoff struct {
	Interval time.Duration
}

func (f FixedBackoff) NextInterval(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return cmpOr(f.Interval, DefaultBaseDelay)
}

// IntervalBackoff uses an explicit per-attempt list. Attempts past the end reuse
// the last entry.
type IntervalBackoff []time.Duration

func (l IntervalBackoff) NextInterval(attempt int) time.Duration {
	if attempt <= 0 || len(l) == 0 {
		return 0
	}
	return l[min(attempt, len(l))-1]
}

// Backoff builds the strategy described by the policy. An explicit interval list
// takes precedence over the named strategy.
func (p Policy) Backoff() BackoffStrategy {
	if len(p.Intervals) > 0 {
		return IntervalBackoff(p.Intervals)
	}
	switch p.Strategy {
	case StrategyLinear:
		return LinearBackoff{Interval: p.BaseDelay, MaxInterval: p.MaxDelay}
	case StrategyFixed:
		return FixedBackoff{Interval: p.BaseDelay}
	default:
		return ExponentialBackoff{
			InitialInterval: p.BaseDelay,
			MaxInterval:     p.MaxDelay,
			Multiplier:      p.Multiplier,
		}
	}
}

func cmpOr[T int | float64 | time.Duration](v, fallback T) T {
	if v <= 0 {
		return fallback
	}
	return v
}
