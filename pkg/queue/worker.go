package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/hookrelay/pkg/logger"
)

// WorkerRepository is what the worker needs from storage.
type WorkerRepository interface {
	// ClaimTask returns ErrNoTaskToClaim when nothing is due.
	ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*Task, error)
	CompleteTask(ctx context.Context, taskID uuid.UUID) error
	// FailTask records the error and increments the retry count.
	FailTask(ctx context.Context, taskID uuid.UUID, errorMsg string) error
	MoveToDLQ(ctx context.Context, taskID uuid.UUID) error
	ExtendLock(ctx context.Context, taskID uuid.UUID, duration time.Duration) error
}

// Worker claims due tasks and runs their handlers with bounded concurrency.
type Worker struct {
	repo     WorkerRepository
	handlers map[string]Handler
	queues   []string
	workerID uuid.UUID
	sem      chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopMu   sync.Mutex

	pullInterval time.Duration
	lockTimeout  time.Duration
	logger       *slog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	stopping atomic.Bool
}

func NewWorker(repo WorkerRepository, opts ...WorkerOption) (*Worker, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}
	options := &workerOptions{
		queues:             []string{DefaultQueueName},
		pullInterval:       time.Second,
		lockTimeout:        5 * time.Minute,
		maxConcurrentTasks: 1,
		logger:             slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	id := uuid.New()
	return &Worker{
		repo:         repo,
		handlers:     make(map[string]Handler),
		queues:       options.queues,
		workerID:     id,
		sem:          make(chan struct{}, options.maxConcurrentTasks),
		pullInterval: options.pullInterval,
		lockTimeout:  options.lockTimeout,
		logger: options.logger.With(
			logger.Component("queue.worker"),
			slog.String("worker_id", id.String()),
		),
	}, nil
}

// RegisterHandlers registers handlers by name. A later handler replaces an earlier
// one with the same name.
func (w *Worker) RegisterHandlers(handlers ...Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, h := range handlers {
		if h != nil {
			w.handlers[h.Name()] = h
		}
	}
}

// Start launches the polling loop in the background.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return ErrWorkerStarted
	}
	if len(w.handlers) == 0 {
		w.mu.Unlock()
		return ErrNoHandlers
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	w.stopping.Store(false)
	go w.run()

	w.logger.Info("worker started", slog.Any("queues", w.queues), slog.Int("max_concurrent", cap(w.sem)))
	return nil
}

// Stop cancels polling and waits for running handlers to return.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return ErrWorkerNotStarted
	}
	w.stopMu.Lock()
	w.stopping.Store(true)
	w.stopMu.Unlock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	cancel()
	w.wg.Wait()
	w.logger.Info("worker stopped")
	return nil
}

// Run returns a function for errgroup that runs the worker until ctx is done.
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		if err := w.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return w.Stop()
	}
}

func (w *Worker) run() {
	ticker := time.NewTicker(w.pullInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			// Drain as many due tasks as there are free slots.
			for w.acquire() {
				go func() {
					defer w.wg.Done()
					defer func() { <-w.sem }()
					if err := w.pullAndProcess(); err != nil && !errors.Is(err, ErrHandlerNotFound) {
						w.logger.Error("failed to process task", logger.Error(err))
					}
				}()
			}
		}
	}
}

// acquire takes a concurrency slot when one is free and the worker is running.
func (w *Worker) acquire() bool {
	select {
	case w.sem <- struct{}{}:
	default:
		return false
	}
	w.stopMu.Lock()
	defer w.stopMu.Unlock()
	if w.stopping.Load() {
		<-w.sem
		return false
	}
	w.wg.Add(1)
	return true
}

func (w *Worker) pullAndProcess() error {
	task, err := w.repo.ClaimTask(w.ctx, w.workerID, w.queues, w.lockTimeout)
	if errors.Is(err, ErrNoTaskToClaim) || (err == nil && task == nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("claim task: %w", err)
	}
	return w.processTask(task)
}

func (w *Worker) processTask(task *Task) (retErr error) {
	start := time.Now()
	// Bookkeeping writes must survive worker cancellation.
	ctx := context.WithoutCancel(w.ctx)
	log := w.logger.With(slog.String("task_id", task.ID.String()), slog.String("task_name", task.TaskName))

	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("panic in handler: %v", r)
			log.Error("handler panicked", slog.Any("panic", r))
			_ = w.handleFailure(ctx, log, task, retErr, time.Since(start))
		}
	}()

	w.mu.RLock()
	handler, ok := w.handlers[task.TaskName]
	w.mu.RUnlock()
	if !ok {
		return w.handleMissingHandler(ctx, log, task)
	}

	// Handlers outlive worker cancellation so shutdown lets them finish.
	hctx, cancel := context.WithTimeout(ctx, w.lockTimeout)
	defer cancel()

	if err := handler.Handle(hctx, task.Payload); err != nil {
		return w.handleFailure(ctx, log, task, err, time.Since(start))
	}

	if err := w.repo.CompleteTask(ctx, task.ID); err != nil {
		return fmt.Errorf("complete task %s: %w", task.ID, err)
	}
	log.Debug("task completed", logger.Duration(time.Since(start)))
	return nil
}

// handleMissingHandler dead-letters the task right away; retrying cannot help.
func (w *Worker) handleMissingHandler(ctx context.Context, log *slog.Logger, task *Task) error {
	log.Error("no handler registered for task")
	if err := w.repo.FailTask(ctx, task.ID, "no handler registered for task type: "+task.TaskName); err != nil {
		return fmt.Errorf("fail task %s: %w", task.ID, err)
	}
	if err := w.repo.MoveToDLQ(ctx, task.ID); err != nil {
		return fmt.Errorf("move task %s to DLQ: %w", task.ID, err)
	}
	return ErrHandlerNotFound
}

func (w *Worker) handleFailure(ctx context.Context, log *slog.Logger, task *Task, execErr error, elapsed time.Duration) error {
	log.Warn("task failed",
		slog.Int("retry_count", int(task.RetryCount)),
		slog.Int("max_retries", int(task.MaxRetries)),
		logger.Duration(elapsed),
		logger.Error(execErr),
	)
	if err := w.repo.FailTask(ctx, task.ID, execErr.Error()); err != nil {
		return fmt.Errorf("fail task %s: %w", task.ID, err)
	}
	if task.RetryCount+1 >= task.MaxRetries {
		if err := w.repo.MoveToDLQ(ctx, task.ID); err != nil {
			return fmt.Errorf("move task %s to DLQ: %w", task.ID, err)
		}
		log.Warn("task moved to dead letter queue")
	}
	return nil
}

func (w *Worker) ID() uuid.UUID { return w.workerID }
