package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrymomot/hookrelay/pkg/archive"
	"github.com/dmitrymomot/hookrelay/pkg/config"
	"github.com/dmitrymomot/hookrelay/pkg/httpserver"
	"github.com/dmitrymomot/hookrelay/pkg/logger"
	"github.com/dmitrymomot/hookrelay/pkg/pg"
	"github.com/dmitrymomot/hookrelay/pkg/queue"
	"github.com/dmitrymomot/hookrelay/pkg/redis"
	"github.com/dmitrymomot/hookrelay/pkg/secrets"
	"github.com/dmitrymomot/hookrelay/pkg/webhook"
	"github.com/dmitrymomot/hookrelay/pkg/webhook/asynqtask"
)

// Task queue backends.
const (
	BackendMemory = "memory"
	BackendAsynq  = "asynq"
)

// Settings is the full process configuration.
type Settings struct {
	App     AppConfig
	Log     logger.Config
	DB      pg.Config
	Redis   redis.Config
	HTTP    httpserver.Config
	Webhook webhook.Config
	Queue   queue.Config
	Asynq   asynqtask.Config
	Secrets secrets.Config
	Archive archive.Config
}

// AppConfig wires the components together.
type AppConfig struct {
	QueueBackend string `env:"QUEUE_BACKEND" envDefault:"memory"`

	CircuitThreshold    int           `env:"CIRCUIT_THRESHOLD" envDefault:"5"`
	CircuitOpenDuration time.Duration `env:"CIRCUIT_OPEN_DURATION" envDefault:"5m"`

	InboundSourcesFile string        `env:"INBOUND_SOURCES_FILE"`
	InboundMaxBody     int64         `env:"INBOUND_MAX_BODY" envDefault:"1048576"`
	InboundDedupeTTL   time.Duration `env:"INBOUND_DEDUPE_TTL" envDefault:"24h"`
	InboundRelay       bool          `env:"INBOUND_RELAY" envDefault:"true"`

	JobLockTTL      time.Duration `env:"JOB_LOCK_TTL" envDefault:"5m"`
	CleanupSchedule string        `env:"CLEANUP_CRON" envDefault:"0 3 * * *"`
	MetricsEnabled  bool          `env:"METRICS_ENABLED" envDefault:"true"`
	ReadyTimeout    time.Duration `env:"READY_TIMEOUT" envDefault:"2s"`
}

// Validate checks cross-component settings.
func (s *Settings) Validate() error {
	if err := s.Webhook.Validate(); err != nil {
		return err
	}
	switch s.App.QueueBackend {
	case BackendMemory:
	case BackendAsynq:
		if s.Redis.URL == "" {
			return errors.New("QUEUE_BACKEND=asynq requires REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown QUEUE_BACKEND %q", s.App.QueueBackend)
	}
	if s.App.CircuitThreshold < 1 {
		return errors.New("CIRCUIT_THRESHOLD must be positive")
	}
	if _, err := queue.Cron(s.App.CleanupSchedule); err != nil {
		return fmt.Errorf("CLEANUP_CRON: %w", err)
	}
	return nil
}

func loadSettings(opts ...config.Option) (Settings, error) {
	var s Settings
	if err := config.Load(&s, opts...); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func loadEnvFiles(paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	return config.LoadEnv(paths...)
}
