package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/hookrelay/pkg/logger"
)

// SchedulerRepository is what the scheduler needs from storage.
type SchedulerRepository interface {
	CreateTask(ctx context.Context, task *Task) error
	// GetPendingTaskByName returns ErrTaskNotFound when no pending task has the name.
	GetPendingTaskByName(ctx context.Context, taskName string) (*Task, error)
}

// Scheduler turns registered Schedules into pending periodic tasks. Only one pending
// instance of a periodic task exists at a time.
type Scheduler struct {
	repo     SchedulerRepository
	tasks    map[string]*scheduledTask
	mu       sync.RWMutex
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

type scheduledTask struct {
	name            string
	schedule        Schedule
	queue           string
	priority        Priority
	maxRetries      int8
	lastScheduledAt *time.Time
}

func NewScheduler(repo SchedulerRepository, opts ...SchedulerOption) (*Scheduler, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}
	options := &schedulerOptions{
		checkInterval: 30 * time.Second,
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(options)
	}
	return &Scheduler{
		repo:     repo,
		tasks:    make(map[string]*scheduledTask),
		interval: options.checkInterval,
		logger:   options.logger.With(logger.Component("queue.scheduler")),
		now:      options.now,
	}, nil
}

// AddTask registers a periodic task. The worker must have a handler with the same name.
func (s *Scheduler) AddTask(name string, schedule Schedule, opts ...SchedulerTaskOption) error {
	if schedule == nil {
		return ErrInvalidSchedule
	}
	taskOpts := &schedulerTaskOptions{
		queue:      DefaultQueueName,
		priority:   PriorityDefault,
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(taskOpts)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[name]; exists {
		return ErrTaskAlreadyRegistered
	}
	s.tasks[name] = &scheduledTask{
		name:       name,
		schedule:   schedule,
		queue:      taskOpts.queue,
		priority:   taskOpts.priority,
		maxRetries: taskOpts.maxRetries,
	}
	s.logger.Info("registered periodic task", slog.String("task_name", name), slog.String("schedule", schedule.String()))
	return nil
}

// Start checks due tasks immediately and then on every tick until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.RLock()
	n := len(s.tasks)
	s.mu.RUnlock()
	if n == 0 {
		return ErrSchedulerNotConfigured
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler shutting down")
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one scheduling pass.
func (s *Scheduler) Tick(ctx context.Context) {
	s.mu.RLock()
	tasks := make([]*scheduledTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.RUnlock()

	now := s.now()
	for _, t := range tasks {
		if err := s.scheduleIfDue(ctx, t, now); err != nil {
			s.logger.ErrorContext(ctx, "failed to schedule task", slog.String("task_name", t.name), logger.Error(err))
		}
	}
}

func (s *Scheduler) scheduleIfDue(ctx context.Context, t *scheduledTask, now time.Time) error {
	s.mu.RLock()
	last := t.lastScheduledAt
	s.mu.RUnlock()

	var next time.Time
	if last == nil {
		next = t.schedule.Next(now)
	} else {
		next = t.schedule.Next(*last)
		if next.After(now) {
			return nil
		}
	}

	existing, err := s.repo.GetPendingTaskByName(ctx, t.name)
	switch {
	case err == nil && existing != nil:
		s.markScheduled(t.name, existing.ScheduledAt)
		return nil
	case err != nil && !errors.Is(err, ErrTaskNotFound):
		return fmt.Errorf("look up pending task: %w", err)
	}

	task := &Task{
		ID:          uuid.New(),
		Queue:       t.queue,
		TaskType:    TaskTypePeriodic,
		TaskName:    t.name,
		Status:      TaskStatusPending,
		Priority:    t.priority,
		MaxRetries:  t.maxRetries,
		ScheduledAt: next,
		CreatedAt:   now,
	}
	if err := s.repo.CreateTask(ctx, task); err != nil {
		return fmt.Errorf("create periodic task: %w", err)
	}
	s.markScheduled(t.name, next)
	s.logger.DebugContext(ctx, "created periodic task", slog.String("task_name", t.name), slog.Time("scheduled_for", next))
	return nil
}

func (s *Scheduler) markScheduled(name string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[name]; ok {
		t.lastScheduledAt = &at
	}
}

func (s *Scheduler) RemoveTask(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, name)
}

// ListTasks returns registered task names, sorted.
func (s *Scheduler) ListTasks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
