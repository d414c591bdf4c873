package queue

import "errors"

var (
	ErrRepositoryNil          = errors.New("repository cannot be nil")
	ErrPayloadNil             = errors.New("payload cannot be nil")
	ErrInvalidPriority        = errors.New("priority must be between 0 and 100")
	ErrDuplicateTask          = errors.New("task with the same unique key is already queued")
	ErrTaskNotFound           = errors.New("task not found")
	ErrNoTaskToClaim          = errors.New("no task to claim")
	ErrHandlerNotFound        = errors.New("no handler registered for task type")
	ErrNoHandlers             = errors.New("no task handlers registered")
	ErrInvalidSchedule        = errors.New("invalid schedule format")
	ErrTaskAlreadyRegistered  = errors.New("task already registered")
	ErrSchedulerNotConfigured = errors.New("scheduler has no registered tasks")
	ErrWorkerStarted          = errors.New("worker already started")
	ErrWorkerNotStarted       = errors.New("worker not started")
)
