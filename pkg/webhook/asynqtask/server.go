package asynqtask

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"

	"github.com/dmitrymomot/hookrelay/pkg/logger"
)

// Server consumes delivery tasks from one queue.
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *slog.Logger
}

// NewServer builds a server that runs every delivery task through p, usually a
// *webhook.Dispatcher.
func NewServer(opt asynq.RedisConnOpt, p processor, cfg Config, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(logger.Component("asynq"))

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency:     max(cfg.Concurrency, 1),
		Queues:          map[string]int{cmp.Or(cfg.Queue, "webhooks"): 1},
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          slogAdapter{log: log},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
			log.ErrorContext(ctx, "delivery task failed",
				slog.String("task_type", t.Type()),
				logger.Error(err),
			)
		}),
	})

	mux := asynq.NewServeMux()
	mux.Handle(TypeDelivery, Handler(p))

	return &Server{server: server, mux: mux, logger: log}
}

// Run processes tasks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if err := s.server.Start(s.mux); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}
	s.logger.InfoContext(ctx, "asynq server started")
	<-ctx.Done()
	s.server.Shutdown()
	s.logger.InfoContext(context.WithoutCancel(ctx), "asynq server stopped")
	return nil
}

// slogAdapter satisfies asynq.Logger.
type slogAdapter struct {
	log *slog.Logger
}

func (a slogAdapter) Debug(args ...any) { a.log.Debug(fmt.Sprint(args...)) }
func (a slogAdapter) Info(args ...any)  { a.log.Info(fmt.Sprint(args...)) }
func (a slogAdapter) Warn(args ...any)  { a.log.Warn(fmt.Sprint(args...)) }
func (a slogAdapter) Error(args ...any) { a.log.Error(fmt.Sprint(args...)) }
func (a slogAdapter) Fatal(args ...any) {
	a.log.Error(fmt.Sprint(args...))
	os.Exit(1)
}
