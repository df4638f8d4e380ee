package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shaiso/automata-engine/internal/domain"
	"github.com/shaiso/automata-engine/internal/lock"
	"github.com/shaiso/automata-engine/internal/telemetry"
	"github.com/shaiso/automata-engine/internal/txn"
)

// Default configuration values.
const (
	defaultWorkers      = 4
	defaultQueueSize    = 256
	defaultTickInterval = time.Second
)

// WorkScheduler - планировщик работ одного tenant'а.
//
// WorkScheduler:
//   - принимает work items через Submit (очередь ограниченного размера)
//   - выполняет их пулом воркеров, каждый item - через txn.Runner
//   - раз в TickInterval создаёт work items для периодических jobs
//
// Stop не прерывает принятую работу: планировщик становится STOPPED
// только после того, как все воркеры завершились.
type WorkScheduler struct {
	tenantID     int64
	runner       *txn.Runner
	registry     *Registry
	workers      int
	queueSize    int
	tickInterval time.Duration
	logger       *slog.Logger

	// Lifecycle
	mu         sync.RWMutex
	state      atomic.Int32
	queue      chan domain.WorkItem
	workCancel context.CancelFunc
	tickCancel context.CancelFunc
	wg         sync.WaitGroup
	done       chan struct{}

	jobsMu sync.Mutex
	jobs   map[string]*domain.Job

	tenantLabel string
}

// Config - конфигурация WorkScheduler.
type Config struct {
	TenantID int64

	// Runner выполняет transactional handler'ы.
	Runner *txn.Runner

	// Registry (опционально; если nil - пустой NewRegistry()).
	Registry *Registry

	Workers      int           // число воркеров (default: 4)
	QueueSize    int           // размер очереди (default: 256)
	TickInterval time.Duration // период проверки jobs (default: 1s)

	// Logger
	Logger *slog.Logger
}

// New создаёт WorkScheduler в состоянии STOPPED.
func New(cfg Config) *WorkScheduler {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	tickInterval := cfg.TickInterval
	if tickInterval <= 0 {
		tickInterval = defaultTickInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}

	s := &WorkScheduler{
		tenantID:     cfg.TenantID,
		runner:       cfg.Runner,
		registry:     registry,
		workers:      workers,
		queueSize:    queueSize,
		tickInterval: tickInterval,
		logger:       telemetry.WithTenantID(logger, cfg.TenantID),
		jobs:         make(map[string]*domain.Job),
		tenantLabel:  telemetry.TenantLabel(cfg.TenantID),
	}
	s.setState(domain.TenantStopped)
	return s
}

// TenantID возвращает tenant планировщика.
func (s *WorkScheduler) TenantID() int64 {
	return s.tenantID
}

// Registry возвращает реестр handler'ов.
func (s *WorkScheduler) Registry() *Registry {
	return s.registry
}

// Start запускает планировщик. Повторный вызов в RUNNING ничего не делает.
//
// Воркеры не зависят от отмены ctx: их останавливает только Stop.
func (s *WorkScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State() {
	case domain.TenantRunning:
		return nil
	case domain.TenantStopping:
		return ErrSchedulerStopping
	}

	base := context.WithoutCancel(ctx)
	workCtx, workCancel := context.WithCancel(base)
	tickCtx, tickCancel := context.WithCancel(base)

	s.queue = make(chan domain.WorkItem, s.queueSize)
	s.workCancel = workCancel
	s.tickCancel = tickCancel
	s.done = make(chan struct{})

	s.logger.Info("starting work scheduler",
		"workers", s.workers,
		"queue_size", s.queueSize,
	)

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.workLoop(workCtx, s.queue)
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.tickLoop(tickCtx)
	}()

	s.setState(domain.TenantRunning)
	s.logger.Info("work scheduler started")
	return nil
}

// Stop останавливает планировщик и ждёт завершения принятой работы.
//
// Если ctx истекает раньше, контекст работы отменяется, Stop всё равно
// дожидается выхода воркеров и возвращает ошибку ctx.
func (s *WorkScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	switch s.State() {
	case domain.TenantStopped:
		s.mu.Unlock()
		return nil
	case domain.TenantStopping:
		// Остановка уже идёт в другой горутине
		done := s.done
		s.mu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.setState(domain.TenantStopping)
	s.logger.Info("stopping work scheduler...", "queued", len(s.queue))

	// Submit больше не пишет в очередь: состояние сменено под mu
	close(s.queue)
	s.tickCancel()
	workCancel := s.workCancel
	done := s.done
	s.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = ctx.Err()
		s.logger.Warn("stop deadline exceeded, cancelling in-flight work", "error", err)
		workCancel()
		<-drained
	}
	workCancel()

	s.mu.Lock()
	s.setState(domain.TenantStopped)
	close(done)
	s.mu.Unlock()

	s.logger.Info("work scheduler stopped")
	return err
}

// IsStopped возвращает true только после выхода всех воркеров.
func (s *WorkScheduler) IsStopped() bool {
	return s.State() == domain.TenantStopped
}

// IsStarted возвращает true в состоянии RUNNING.
func (s *WorkScheduler) IsStarted() bool {
	return s.State() == domain.TenantRunning
}

// State возвращает текущее состояние.
func (s *WorkScheduler) State() domain.TenantExecutionState {
	return domain.TenantExecutionState(s.state.Load())
}

func (s *WorkScheduler) setState(st domain.TenantExecutionState) {
	s.state.Store(int32(st))
	telemetry.SchedulerState.WithLabelValues(s.tenantLabel).Set(float64(st))
}

// Submit ставит work item в очередь. Не блокирует.
func (s *WorkScheduler) Submit(ctx context.Context, item domain.WorkItem) error {
	if item.TenantID == 0 {
		item.TenantID = s.tenantID
	}
	if item.TenantID != s.tenantID {
		return fmt.Errorf("%w: item tenant %d, scheduler tenant %d", ErrTenantMismatch, item.TenantID, s.tenantID)
	}
	if !s.registry.Has(item.Type) {
		return fmt.Errorf("%w: %s", ErrUnknownWorkType, item.Type)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.State() != domain.TenantRunning {
		return ErrSchedulerStopped
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case s.queue <- item:
		return nil
	default:
		return ErrQueueFull
	}
}

// workLoop выполняет work items, пока очередь не закрыта и не пуста.
func (s *WorkScheduler) workLoop(ctx context.Context, queue <-chan domain.WorkItem) {
	for item := range queue {
		s.process(ctx, item)
	}
}

// process выполняет один work item.
func (s *WorkScheduler) process(ctx context.Context, item domain.WorkItem) {
	logger := telemetry.WithWorkItemID(s.logger, item.ID.String())

	inFlight := telemetry.WorkInFlight.WithLabelValues(s.tenantLabel)
	inFlight.Inc()
	defer inFlight.Dec()

	start := time.Now()
	err := s.execute(ctx, &item)

	result := "ok"
	if err != nil {
		result = "error"
		logger.Error("work item failed",
			"type", item.Type,
			"flow_node_id", item.FlowNodeInstanceID,
			"duration", time.Since(start),
			"error", err,
		)
	} else {
		logger.Debug("work item completed",
			"type", item.Type,
			"duration", time.Since(start),
		)
	}
	telemetry.WorkProcessedTotal.WithLabelValues(s.tenantLabel, item.Type, result).Inc()
}

// execute находит handler и выполняет item в транзакции.
func (s *WorkScheduler) execute(ctx context.Context, item *domain.WorkItem) (err error) {
	reg, err := s.registry.get(item.Type)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()

	ctx = telemetry.WithLogger(lock.WithExecution(ctx), telemetry.WithWorkItemID(s.logger, item.ID.String()))

	if reg.managed {
		return reg.handler.Handle(ctx, item)
	}
	if s.runner == nil {
		return ErrNoRunner
	}
	return s.runner.Do(ctx, func(txCtx context.Context) error {
		return reg.handler.Handle(txCtx, item)
	})
}

// --- Recurring jobs ---

// AddJob добавляет или заменяет периодическую job.
// Следующее время запуска вычисляется от текущего момента.
func (s *WorkScheduler) AddJob(job domain.Job) error {
	if job.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidJob)
	}
	if !s.registry.Has(job.ItemType) {
		return fmt.Errorf("%w: job %q: %s", ErrUnknownWorkType, job.Name, job.ItemType)
	}

	nextDue, err := CalculateNextDue(&job, time.Now())
	if err != nil {
		return err
	}
	job.NextDueAt = &nextDue

	s.jobsMu.Lock()
	s.jobs[job.Name] = &job
	s.jobsMu.Unlock()

	s.logger.Info("job registered",
		"job", job.Name,
		"item_type", job.ItemType,
		"next_due_at", nextDue,
	)
	return nil
}

// RemoveJob удаляет job. Возвращает false, если job не было.
func (s *WorkScheduler) RemoveJob(name string) bool {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	_, ok := s.jobs[name]
	delete(s.jobs, name)
	return ok
}

// Jobs возвращает копию зарегистрированных jobs, упорядоченную по имени.
func (s *WorkScheduler) Jobs() []domain.Job {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	jobs := make([]domain.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, *j)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].Name < jobs[k].Name })
	return jobs
}

// tickLoop периодически вызывает Tick.
func (s *WorkScheduler) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Tick(ctx, now)
		}
	}
}

// Tick создаёт work items для jobs, у которых наступил NextDueAt.
// Возвращает число поставленных в очередь items.
//
// Ошибки одной job не блокируют обработку остальных.
func (s *WorkScheduler) Tick(ctx context.Context, now time.Time) int {
	s.jobsMu.Lock()
	var due []*domain.Job
	for _, j := range s.jobs {
		if j.IsDue(now) {
			due = append(due, j)
		}
	}
	s.jobsMu.Unlock()

	var submitted int
	for _, j := range due {
		item := domain.NewWorkItem(s.tenantID, j.ItemType, j.FlowNodeInstanceID, j.Payload)
		err := s.Submit(ctx, item)
		if err != nil {
			s.logger.Warn("failed to submit job work item",
				"job", j.Name,
				"error", err,
			)
			if errors.Is(err, ErrSchedulerStopped) {
				return submitted
			}
		} else {
			submitted++
		}

		nextDue, err := CalculateNextDue(j, now)
		s.jobsMu.Lock()
		if err != nil {
			// Некорректная job: не трогаем next_due_at
			s.logger.Error("failed to calculate next due", "job", j.Name, "error", err)
		} else {
			j.RecordRun(now, nextDue)
		}
		s.jobsMu.Unlock()
	}

	if len(due) > 0 {
		s.logger.Debug("scheduler tick completed", "due", len(due), "submitted", submitted)
	}
	return submitted
}
