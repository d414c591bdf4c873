package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/hookrelay/pkg/eventbus"
	"github.com/dmitrymomot/hookrelay/pkg/httpserver"
	"github.com/dmitrymomot/hookrelay/pkg/inbound"
	inboundpg "github.com/dmitrymomot/hookrelay/pkg/inbound/pgstore"
	"github.com/dmitrymomot/hookrelay/pkg/logger"
	"github.com/dmitrymomot/hookrelay/pkg/pg"
	"github.com/dmitrymomot/hookrelay/pkg/queue"
	"github.com/dmitrymomot/hookrelay/pkg/redis"
	"github.com/dmitrymomot/hookrelay/pkg/webhook"
	"github.com/dmitrymomot/hookrelay/pkg/webhook/asynqtask"
)

const pendingInboundBatch = 500

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server, delivery workers and periodic jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := loadSettings()
		if err != nil {
			return err
		}
		a, err := newApp(ctx, s)
		if err != nil {
			return err
		}
		defer a.close()
		return a.serve(ctx)
	},
}

func (a *app) serve(ctx context.Context) error {
	s := a.settings
	queueName := queue.DefaultQueueName
	if len(s.Queue.Queues) > 0 {
		queueName = s.Queue.Queues[0]
	}

	receiver, inboundBus, err := a.newReceiver()
	if err != nil {
		return err
	}

	worker, err := queue.NewWorker(a.tasks, append(s.Queue.WorkerOptions(), queue.WithWorkerLogger(a.log))...)
	if err != nil {
		return err
	}
	worker.RegisterHandlers(
		webhook.DeliveryHandler(a.dispatcher),
		queue.NewPeriodicTaskHandler(webhook.TaskSweep, a.sweep),
		queue.NewPeriodicTaskHandler(webhook.TaskCleanup, a.cleanup),
	)
	if receiver != nil {
		worker.RegisterHandlers(inbound.ProcessHandler(receiver))
	}

	scheduler, err := a.newScheduler(queueName)
	if err != nil {
		return err
	}

	router := a.router(receiver)
	server := httpserver.NewFromConfig(s.HTTP, httpserver.WithLogger(a.log))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx, router) })
	g.Go(worker.Run(gctx))
	g.Go(func() error {
		if err := scheduler.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if s.App.MetricsEnabled {
		g.Go(func() error {
			a.metrics.Run(gctx, a.deliveries, inboundBus)
			return nil
		})
	}
	if s.App.QueueBackend == BackendAsynq {
		opt, err := asynqRedisOpt(s.Redis.URL)
		if err != nil {
			return err
		}
		srv := asynqtask.NewServer(opt, a.dispatcher, s.Asynq, a.log)
		g.Go(func() error { return srv.Run(gctx) })
	}
	if receiver != nil {
		g.Go(func() error {
			n, err := receiver.ProcessPending(gctx, pendingInboundBatch)
			if err != nil {
				a.log.ErrorContext(gctx, "process pending inbound events", logger.Error(err))
			} else if n > 0 {
				a.log.InfoContext(gctx, "processed pending inbound events", slog.Int("count", n))
			}
			return nil
		})
	}

	a.log.InfoContext(ctx, "hookrelay started",
		slog.String("version", version),
		slog.String("addr", s.HTTP.Addr),
		slog.String("queue_backend", s.App.QueueBackend),
	)
	return g.Wait()
}

// newReceiver returns nil when no inbound sources are configured.
func (a *app) newReceiver() (*inbound.Receiver, *eventbus.Bus[inbound.Notification], error) {
	s := a.settings.App
	if s.InboundSourcesFile == "" {
		return nil, nil, nil
	}
	sources, err := inbound.LoadSourcesFile(s.InboundSourcesFile)
	if err != nil {
		return nil, nil, err
	}

	bus := eventbus.New[inbound.Notification](256)
	a.closers = append(a.closers, bus.Close)

	opts := []inbound.Option{
		inbound.WithTaskQueue(inbound.NewQueueAdapter(a.enqueuer, "")),
		inbound.WithEventBus(bus),
		inbound.WithLogger(a.log),
	}
	if a.redis != nil {
		opts = append(opts, inbound.WithDeduper(inbound.NewRedisDeduper(a.redis, ""), s.InboundDedupeTTL))
	} else {
		opts = append(opts, inbound.WithDeduper(inbound.NewMemoryDeduper(), s.InboundDedupeTTL))
	}

	receiver, err := inbound.NewReceiver(inboundpg.New(a.pool), sources, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("inbound receiver: %w", err)
	}
	if s.InboundRelay {
		for _, src := range sources {
			receiver.OnAny(src.Name, relayHandler(a.dispatcher, a.log))
		}
	}
	return receiver, bus, nil
}

func (a *app) newScheduler(queueName string) (*queue.Scheduler, error) {
	s := a.settings
	scheduler, err := queue.NewScheduler(a.tasks,
		queue.WithCheckInterval(s.Queue.SchedulerInterval),
		queue.WithSchedulerLogger(a.log),
	)
	if err != nil {
		return nil, err
	}
	sweepSchedule, err := s.Webhook.SweepScheduleSpec()
	if err != nil {
		return nil, err
	}
	if err := scheduler.AddTask(webhook.TaskSweep, sweepSchedule, queue.WithTaskQueue(queueName)); err != nil {
		return nil, err
	}
	cleanupSchedule, err := queue.Cron(s.App.CleanupSchedule)
	if err != nil {
		return nil, err
	}
	if err := scheduler.AddTask(webhook.TaskCleanup, cleanupSchedule, queue.WithTaskQueue(queueName)); err != nil {
		return nil, err
	}
	return scheduler, nil
}

func (a *app) router(receiver *inbound.Receiver) http.Handler {
	s := a.settings
	r := httpserver.NewRouter(a.log, s.HTTP.RequestTimeout)

	checks := map[string]httpserver.Check{"postgres": pg.Healthcheck(a.pool)}
	if a.redis != nil {
		checks["redis"] = redis.Healthcheck(a.redis)
	}
	r.Get("/healthz", httpserver.LivenessHandler())
	r.Get("/readyz", httpserver.ReadinessHandler(a.log, s.App.ReadyTimeout, checks))
	if s.App.MetricsEnabled {
		r.Method(http.MethodGet, "/metrics", a.metrics.Handler())
	}
	if receiver != nil {
		r.Mount("/webhooks", receiver.Routes(s.App.InboundMaxBody))
	}
	return r
}

func asynqRedisOpt(url string) (asynq.RedisConnOpt, error) {
	opt, err := asynq.ParseRedisURI(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url for asynq: %w", err)
	}
	return opt, nil
}
