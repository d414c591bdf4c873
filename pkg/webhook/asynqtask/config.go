package asynqtask

import "time"

// Config is the worker side configuration.
type Config struct {
	Queue           string        `env:"ASYNQ_QUEUE" envDefault:"webhooks"`
	Concurrency     int           `env:"ASYNQ_CONCURRENCY" envDefault:"10"`
	MaxRetry        int           `env:"ASYNQ_MAX_RETRY" envDefault:"3"`
	TaskTimeout     time.Duration `env:"ASYNQ_TASK_TIMEOUT" envDefault:"2m"`
	ShutdownTimeout time.Duration `env:"ASYNQ_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}
