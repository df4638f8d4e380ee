package scheduler

import "errors"

// Ошибки планировщика.
var (
	// ErrSchedulerStopped - планировщик не в состоянии RUNNING.
	ErrSchedulerStopped = errors.New("scheduler is not running")

	// ErrSchedulerStopping - Start во время остановки.
	ErrSchedulerStopping = errors.New("scheduler is stopping")

	// ErrQueueFull - очередь work items заполнена.
	ErrQueueFull = errors.New("work queue is full")

	// ErrUnknownWorkType - нет handler'а для типа work item.
	ErrUnknownWorkType = errors.New("unknown work type")

	// ErrTenantMismatch - work item другого tenant'а.
	ErrTenantMismatch = errors.New("work item belongs to another tenant")

	// ErrInvalidWorkItem - work item без обязательных полей.
	ErrInvalidWorkItem = errors.New("invalid work item")

	// ErrNoRunner - transactional handler без txn.Runner.
	ErrNoRunner = errors.New("transaction runner is not configured")

	// ErrInvalidJob - job без cron и интервала или с неверным выражением.
	ErrInvalidJob = errors.New("invalid job")
)
