package queue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStorage implements every repository interface in process. It backs the
// single-binary deployment and tests.
type MemoryStorage struct {
	mu      sync.Mutex
	tasks   map[uuid.UUID]*Task
	unique  map[string]uuid.UUID
	dead    []DeadTask
	now     func() time.Time
	backoff func(retry int8) time.Duration
}

// MemoryStorageOption configures a MemoryStorage.
type MemoryStorageOption func(*MemoryStorage)

// WithStorageClock overrides time.Now.
func WithStorageClock(now func() time.Time) MemoryStorageOption {
	return func(ms *MemoryStorage) { ms.now = now }
}

// WithRetryBackoff sets the delay before a failed task becomes claimable again.
func WithRetryBackoff(fn func(retry int8) time.Duration) MemoryStorageOption {
	return func(ms *MemoryStorage) { ms.backoff = fn }
}

func NewMemoryStorage(opts ...MemoryStorageOption) *MemoryStorage {
	ms := &MemoryStorage{
		tasks:  make(map[uuid.UUID]*Task),
		unique: make(map[string]uuid.UUID),
		now:    time.Now,
		backoff: func(retry int8) time.Duration {
			return time.Duration(retry) * 30 * time.Second
		},
	}
	for _, opt := range opts {
		opt(ms)
	}
	return ms
}

func (ms *MemoryStorage) CreateTask(_ context.Context, task *Task) error {
	if task == nil {
		return errors.New("task cannot be nil")
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.tasks[task.ID]; exists {
		return fmt.Errorf("task with ID %s already exists", task.ID)
	}
	if task.UniqueKey != "" {
		if id, held := ms.unique[task.UniqueKey]; held {
			if holder, ok := ms.tasks[id]; ok && holder.Active() {
				return fmt.Errorf("%w: %s", ErrDuplicateTask, task.UniqueKey)
			}
		}
		ms.unique[task.UniqueKey] = task.ID
	}

	c := *task
	ms.tasks[task.ID] = &c
	return nil
}

// ClaimTask locks the highest priority due task in queues, earliest first within a
// priority. Tasks whose lock expired are claimable again.
func (ms *MemoryStorage) ClaimTask(_ context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*Task, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	var best *Task
	for _, t := range ms.tasks {
		if !slices.Contains(queues, t.Queue) || t.ScheduledAt.After(now) {
			continue
		}
		switch t.Status {
		case TaskStatusPending:
		case TaskStatusProcessing:
			if t.LockedUntil == nil || t.LockedUntil.After(now) {
				continue
			}
		default:
			continue
		}
		if best == nil || t.Priority > best.Priority ||
			(t.Priority == best.Priority && t.ScheduledAt.Before(best.ScheduledAt)) {
			best = t
		}
	}
	if best == nil {
		return nil, ErrNoTaskToClaim
	}

	until := now.Add(lockDuration)
	best.Status = TaskStatusProcessing
	best.LockedUntil = &until
	best.LockedBy = &workerID

	c := *best
	return &c, nil
}

func (ms *MemoryStorage) CompleteTask(_ context.Context, taskID uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	t, err := ms.processing(taskID)
	if err != nil {
		return err
	}
	// Completed tasks are dropped; their unique key becomes free.
	delete(ms.tasks, taskID)
	ms.releaseKey(t)
	return nil
}

// FailTask records the error. The task returns to pending after the retry backoff
// or becomes failed once retries are exhausted.
func (ms *MemoryStorage) FailTask(_ context.Context, taskID uuid.UUID, errorMsg string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	t, err := ms.processing(taskID)
	if err != nil {
		return err
	}
	t.RetryCount++
	t.Error = &errorMsg
	t.LockedUntil = nil
	t.LockedBy = nil
	if t.RetryCount >= t.MaxRetries {
		t.Status = TaskStatusFailed
		return nil
	}
	t.Status = TaskStatusPending
	t.ScheduledAt = ms.now().Add(ms.backoff(t.RetryCount))
	return nil
}

func (ms *MemoryStorage) MoveToDLQ(_ context.Context, taskID uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	t, ok := ms.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	dt := DeadTask{
		ID:         uuid.New(),
		TaskID:     t.ID,
		Queue:      t.Queue,
		TaskName:   t.TaskName,
		Payload:    t.Payload,
		RetryCount: t.RetryCount,
		FailedAt:   ms.now(),
	}
	if t.Error != nil {
		dt.Error = *t.Error
	}
	ms.dead = append(ms.dead, dt)
	delete(ms.tasks, taskID)
	ms.releaseKey(t)
	return nil
}

func (ms *MemoryStorage) releaseKey(t *Task) {
	if t.UniqueKey != "" && ms.unique[t.UniqueKey] == t.ID {
		delete(ms.unique, t.UniqueKey)
	}
}

func (ms *MemoryStorage) ExtendLock(_ context.Context, taskID uuid.UUID, d time.Duration) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	t, err := ms.processing(taskID)
	if err != nil {
		return err
	}
	until := ms.now().Add(d)
	t.LockedUntil = &until
	return nil
}

// GetPendingTaskByName returns the pending task named taskName or ErrTaskNotFound.
func (ms *MemoryStorage) GetPendingTaskByName(_ context.Context, taskName string) (*Task, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	for _, t := range ms.tasks {
		if t.TaskName == taskName && t.Status == TaskStatusPending {
			c := *t
			return &c, nil
		}
	}
	return nil, ErrTaskNotFound
}

// Tasks returns a snapshot of stored tasks with the given status, oldest first.
func (ms *MemoryStorage) Tasks(status TaskStatus) []Task {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var out []Task
	for _, t := range ms.tasks {
		if t.Status == status {
			out = append(out, *t)
		}
	}
	slices.SortFunc(out, func(a, b Task) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

// DeadTasks returns a snapshot of the dead letter list.
func (ms *MemoryStorage) DeadTasks() []DeadTask {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return slices.Clone(ms.dead)
}

func (ms *MemoryStorage) processing(id uuid.UUID) (*Task, error) {
	t, ok := ms.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if t.Status != TaskStatusProcessing {
		return nil, fmt.Errorf("task %s is not in processing state", id)
	}
	return t, nil
}
