package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/hookrelay/pkg/archive"
	"github.com/dmitrymomot/hookrelay/pkg/circuit"
	"github.com/dmitrymomot/hookrelay/pkg/eventbus"
	"github.com/dmitrymomot/hookrelay/pkg/httpserver"
	"github.com/dmitrymomot/hookrelay/pkg/logger"
	"github.com/dmitrymomot/hookrelay/pkg/metrics"
	"github.com/dmitrymomot/hookrelay/pkg/pg"
	"github.com/dmitrymomot/hookrelay/pkg/queue"
	"github.com/dmitrymomot/hookrelay/pkg/redis"
	"github.com/dmitrymomot/hookrelay/pkg/secrets"
	"github.com/dmitrymomot/hookrelay/pkg/webhook"
	"github.com/dmitrymomot/hookrelay/pkg/webhook/asynqtask"
	"github.com/dmitrymomot/hookrelay/pkg/webhook/pgstore"
)

// app holds the components shared by every command.
type app struct {
	settings Settings
	log      *slog.Logger

	pool  *pgxpool.Pool
	redis *goredis.Client

	metrics    *metrics.Metrics
	deliveries *eventbus.Bus[webhook.Event]

	store      *pgstore.Store
	dispatcher *webhook.Dispatcher
	sweeper    *webhook.Sweeper
	cleaner    *webhook.Cleaner

	tasks       *queue.MemoryStorage
	enqueuer    *queue.Enqueuer
	asynqClient *asynqtask.Client

	closers []func()
}

func newLogger(cfg logger.Config) (*slog.Logger, error) {
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	opts = append(opts, logger.WithContextExtractors(httpserver.RequestIDExtractor))
	return logger.New(opts...), nil
}

// newApp connects to the database and, when configured, Redis, then builds the
// outbound delivery stack. Callers must call close.
func newApp(ctx context.Context, s Settings) (_ *app, err error) {
	log, err := newLogger(s.Log)
	if err != nil {
		return nil, err
	}
	a := &app{
		settings:   s,
		log:        log,
		metrics:    metrics.New(),
		deliveries: eventbus.New[webhook.Event](256),
	}
	defer func() {
		if err != nil {
			a.close()
		}
	}()
	a.closers = append(a.closers, a.deliveries.Close)

	a.pool, err = pg.Connect(ctx, s.DB)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	a.closers = append(a.closers, a.pool.Close)

	if s.Redis.URL != "" {
		a.redis, err = redis.Connect(ctx, s.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = a.redis.Close() })
	}

	cipher, err := secrets.FromConfig(s.Secrets)
	if err != nil {
		return nil, fmt.Errorf("secrets key: %w", err)
	}
	a.store = pgstore.New(a.pool, pgstore.WithCipher(cipher))

	var circuitStore circuit.Store = circuit.NewMemoryStore()
	if a.redis != nil {
		circuitStore = circuit.NewRedisStore(a.redis)
	}
	breaker := circuit.New(circuitStore,
		circuit.WithThreshold(s.App.CircuitThreshold),
		circuit.WithOpenDuration(s.App.CircuitOpenDuration),
		circuit.WithLogger(log),
		circuit.WithStateChange(a.metrics.CircuitStateChanged),
	)

	a.tasks = queue.NewMemoryStorage()
	a.enqueuer, err = queue.NewEnqueuer(a.tasks)
	if err != nil {
		return nil, err
	}

	var taskQueue webhook.TaskQueue = webhook.NewQueueAdapter(a.enqueuer, "")
	if s.App.QueueBackend == BackendAsynq {
		opt, err := asynqRedisOpt(s.Redis.URL)
		if err != nil {
			return nil, err
		}
		a.asynqClient = asynqtask.ClientFromConfig(opt, s.Asynq)
		a.closers = append(a.closers, func() { _ = a.asynqClient.Close() })
		taskQueue = a.asynqClient
	}

	a.dispatcher = webhook.NewDispatcher(a.store, breaker,
		webhook.WithEndpointStore(a.store),
		webhook.WithSubscriptionStore(a.store),
		webhook.WithTaskQueue(taskQueue),
		webhook.WithEventBus(a.deliveries),
		webhook.WithConfig(s.Webhook),
		webhook.WithLogger(log),
	)

	a.sweeper = webhook.NewSweeper(a.dispatcher,
		webhook.WithSweepRate(s.Webhook.SweepRate),
		webhook.WithSweepBatchSize(s.Webhook.SweepBatchSize),
		webhook.WithStallTimeout(s.Webhook.StallTimeout),
		webhook.WithFailedWindow(s.Webhook.FailedWindow),
		webhook.WithSweeperLogger(log),
	)

	cleanerOpts := []webhook.CleanerOption{
		webhook.WithRetention(s.Webhook.Retention),
		webhook.WithCleanerLogger(log),
	}
	if s.Archive.Enabled() {
		archiver, err := archive.NewS3Archiver(ctx, s.Archive)
		if err != nil {
			return nil, fmt.Errorf("archive: %w", err)
		}
		cleanerOpts = append(cleanerOpts, webhook.WithArchiver(archiver))
	}
	a.cleaner = webhook.NewCleaner(a.store, cleanerOpts...)

	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// exclusive runs fn under a Redis lease named key so only one replica runs a
// periodic job at a time. Without Redis fn runs directly.
func (a *app) exclusive(ctx context.Context, key string, fn func(context.Context) error) error {
	if a.redis == nil {
		return fn(ctx)
	}
	err := redis.NewLock(a.redis, "hookrelay:lock:"+key, a.settings.App.JobLockTTL).Do(ctx, fn)
	if errors.Is(err, redis.ErrLockHeld) {
		a.log.DebugContext(ctx, "job skipped, lock held elsewhere", slog.String("job", key))
		return nil
	}
	return err
}

func (a *app) sweep(ctx context.Context) error {
	return a.exclusive(ctx, webhook.TaskSweep, func(ctx context.Context) error {
		stats, err := a.sweeper.Run(ctx)
		a.metrics.ObserveSweep(stats)
		return err
	})
}

func (a *app) cleanup(ctx context.Context) error {
	return a.exclusive(ctx, webhook.TaskCleanup, func(ctx context.Context) error {
		stats, err := a.cleaner.Run(ctx)
		a.metrics.ObserveCleanup(stats)
		return err
	})
}
