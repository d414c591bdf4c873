package webhook

import (
	"fmt"
	"time"

	"github.com/dmitrymomot/hookrelay/pkg/signature"
)

// Broadcast modes.
const (
	ModeQueue = "queue"
	ModeSync  = "sync"
)

// Config holds global delivery defaults. Endpoint and per-call settings override it.
type Config struct {
	MaxAttempts        int           `env:"WEBHOOK_MAX_ATTEMPTS" envDefault:"3"`
	Timeout            time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"30s"`
	ConnectTimeout     time.Duration `env:"WEBHOOK_CONNECT_TIMEOUT" envDefault:"10s"`
	RetryStrategy      string        `env:"WEBHOOK_RETRY_STRATEGY" envDefault:"exponential"`
	BaseDelay          time.Duration `env:"WEBHOOK_BASE_DELAY" envDefault:"30s"`
	Multiplier         float64       `env:"WEBHOOK_MULTIPLIER" envDefault:"2"`
	MaxDelay           time.Duration `env:"WEBHOOK_MAX_DELAY" envDefault:"1h"`
	SignatureHeader    string        `env:"WEBHOOK_SIGNATURE_HEADER" envDefault:"X-Webhook-Signature"`
	SignatureAlgorithm string        `env:"WEBHOOK_SIGNATURE_ALGORITHM" envDefault:"sha256"`
	UserAgent          string        `env:"WEBHOOK_USER_AGENT" envDefault:"hookrelay/1.0"`
	MaxResponseBody    int64         `env:"WEBHOOK_MAX_RESPONSE_BODY" envDefault:"65536"`
	FailFast           bool          `env:"WEBHOOK_FAIL_FAST" envDefault:"false"`

	BroadcastMode        string `env:"WEBHOOK_BROADCAST_MODE" envDefault:"queue"`
	BroadcastConcurrency int    `env:"WEBHOOK_BROADCAST_CONCURRENCY" envDefault:"8"`

	SweepInterval   time.Duration `env:"WEBHOOK_SWEEP_INTERVAL" envDefault:"1m"`
	SweepSchedule   string        `env:"WEBHOOK_SWEEP_CRON"`
	SweepBatchSize  int           `env:"WEBHOOK_SWEEP_BATCH" envDefault:"100"`
	SweepRate       float64       `env:"WEBHOOK_SWEEP_RATE" envDefault:"50"`
	StallTimeout    time.Duration `env:"WEBHOOK_STALL_TIMEOUT" envDefault:"5m"`
	FailedWindow    time.Duration `env:"WEBHOOK_FAILED_WINDOW" envDefault:"24h"`
	AutoRetryFailed bool          `env:"WEBHOOK_AUTO_RETRY_FAILED" envDefault:"false"`

	Retention time.Duration `env:"WEBHOOK_RETENTION" envDefault:"720h"`
}

// DefaultConfig mirrors the envDefault values for callers that do not load the environment.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:          DefaultMaxAttempts,
		Timeout:              30 * time.Second,
		ConnectTimeout:       10 * time.Second,
		RetryStrategy:        string(StrategyExponential),
		BaseDelay:            DefaultBaseDelay,
		Multiplier:           DefaultMultiplier,
		MaxDelay:             DefaultMaxDelay,
		SignatureHeader:      signature.DefaultHeader,
		SignatureAlgorithm:   string(signature.SHA256),
		UserAgent:            "hookrelay/1.0",
		MaxResponseBody:      64 << 10,
		BroadcastMode:        ModeQueue,
		BroadcastConcurrency: 8,
		SweepInterval:        time.Minute,
		SweepBatchSize:       100,
		SweepRate:            50,
		StallTimeout:         5 * time.Minute,
		FailedWindow:         24 * time.Hour,
		Retention:            30 * 24 * time.Hour,
	}
}

// Validate checks values that would otherwise fail at delivery time.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be positive", ErrConfiguration)
	}
	if _, err := ParseRetryStrategy(c.RetryStrategy); err != nil {
		return err
	}
	if !signature.Algorithm(c.SignatureAlgorithm).Valid() {
		return fmt.Errorf("%w: signature algorithm %q", ErrConfiguration, c.SignatureAlgorithm)
	}
	if c.StallTimeout > 0 && c.StallTimeout <= c.Timeout+c.ConnectTimeout {
		return fmt.Errorf("%w: stall timeout must exceed the request timeout", ErrConfiguration)
	}
	if c.BroadcastMode != ModeQueue && c.BroadcastMode != ModeSync {
		return fmt.Errorf("%w: broadcast mode %q", ErrConfiguration, c.BroadcastMode)
	}
	return nil
}

func (c Config) policy() Policy {
	strategy, err := ParseRetryStrategy(c.RetryStrategy)
	if err != nil {
		strategy = StrategyExponential
	}
	return Policy{
		Timeout:        c.Timeout,
		ConnectTimeout: c.ConnectTimeout,
		Strategy:       strategy,
		BaseDelay:      c.BaseDelay,
		MaxDelay:       c.MaxDelay,
		Multiplier:     c.Multiplier,
		FailFast:       c.FailFast,
	}
}
