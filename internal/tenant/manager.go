package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/shaiso/automata-engine/internal/domain"
	"github.com/shaiso/automata-engine/internal/recovery"
	"github.com/shaiso/automata-engine/internal/telemetry"
)

// Lifecycle - управление выполнением работ tenant'а.
//
// Реализация: scheduler.WorkScheduler.
type Lifecycle interface {
	IsStopped() bool
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// WorkSink принимает work items tenant'а.
//
// Реализация: scheduler.WorkScheduler.
type WorkSink interface {
	Submit(ctx context.Context, item domain.WorkItem) error
}

// Recoverer восстанавливает состояние tenant'а после рестарта.
//
// Реализация: recovery.Coordinator.
type Recoverer interface {
	RecoverTenant(ctx context.Context) (recovery.RecoveryReport, error)
}

// Service - компоненты одного tenant'а.
type Service struct {
	Scheduler Lifecycle

	// Recovery (опционально) вызывается в Boot перед Start.
	Recovery Recoverer
}

// entry - сервис tenant'а. mu сериализует Recover и Resume.
type entry struct {
	svc Service
	mu  sync.Mutex
}

// Manager - реестр tenant'ов.
type Manager struct {
	mu       sync.RWMutex
	services map[int64]*entry
	logger   *slog.Logger
}

// NewManager создаёт пустой Manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		services: make(map[int64]*entry),
		logger:   logger,
	}
}

// Register добавляет tenant.
func (m *Manager) Register(tenantID int64, svc Service) error {
	if svc.Scheduler == nil {
		return fmt.Errorf("%w: tenant %d has no scheduler", ErrInvalidService, tenantID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.services[tenantID]; ok {
		return fmt.Errorf("%w: %d", ErrTenantExists, tenantID)
	}
	m.services[tenantID] = &entry{svc: svc}
	return nil
}

// Tenants возвращает зарегистрированные tenant'ы по возрастанию id.
func (m *Manager) Tenants() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]int64, 0, len(m.services))
	for id := range m.services {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Lifecycle возвращает Lifecycle tenant'а.
func (m *Manager) Lifecycle(tenantID int64) (Lifecycle, error) {
	e, err := m.entry(tenantID)
	if err != nil {
		return nil, err
	}
	return e.svc.Scheduler, nil
}

// Pause останавливает работу tenant'а и ждёт завершения принятых items.
// Другие tenant'ы не затрагиваются.
func (m *Manager) Pause(ctx context.Context, tenantID int64) error {
	e, err := m.entry(tenantID)
	if err != nil {
		return err
	}

	logger := telemetry.WithTenantID(m.logger, tenantID)
	logger.Info("pausing tenant")

	if err := e.svc.Scheduler.Stop(ctx); err != nil {
		return fmt.Errorf("pause tenant %d: %w", tenantID, err)
	}

	logger.Info("tenant paused")
	return nil
}

// Resume запускает работу tenant'а.
func (m *Manager) Resume(ctx context.Context, tenantID int64) error {
	e, err := m.entry(tenantID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.svc.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("resume tenant %d: %w", tenantID, err)
	}

	telemetry.WithTenantID(m.logger, tenantID).Info("tenant resumed")
	return nil
}

// Recover выполняет восстановление tenant'а без запуска планировщика.
//
// Tenant должен быть остановлен: восстановление помечает EXECUTING
// connector'ы как прерванные. Для работающего tenant'а возвращается
// ErrTenantRunning. Resume ждёт завершения Recover.
func (m *Manager) Recover(ctx context.Context, tenantID int64) (recovery.RecoveryReport, error) {
	e, err := m.entry(tenantID)
	if err != nil {
		return recovery.RecoveryReport{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.svc.Scheduler.IsStopped() {
		return recovery.RecoveryReport{TenantID: tenantID}, fmt.Errorf("recover tenant %d: %w", tenantID, ErrTenantRunning)
	}
	if e.svc.Recovery == nil {
		return recovery.RecoveryReport{TenantID: tenantID}, nil
	}

	report, err := e.svc.Recovery.RecoverTenant(ctx)
	if err != nil {
		return report, fmt.Errorf("recover tenant %d: %w", tenantID, err)
	}
	return report, nil
}

// Submit передаёт work item планировщику его tenant'а.
func (m *Manager) Submit(ctx context.Context, item domain.WorkItem) error {
	e, err := m.entry(item.TenantID)
	if err != nil {
		return err
	}
	sink, ok := e.svc.Scheduler.(WorkSink)
	if !ok {
		return fmt.Errorf("%w: tenant %d does not accept work items", ErrInvalidService, item.TenantID)
	}
	return sink.Submit(ctx, item)
}

// Boot восстанавливает и запускает все tenant'ы параллельно.
//
// Tenant, восстановление которого завершилось ошибкой, не запускается;
// остальные запускаются. Ошибки собираются через errors.Join.
func (m *Manager) Boot(ctx context.Context) error {
	return m.each(ctx, func(ctx context.Context, tenantID int64) error {
		if _, err := m.Recover(ctx, tenantID); err != nil {
			telemetry.WithTenantID(m.logger, tenantID).Error("tenant recovery failed, tenant not started", "error", err)
			return err
		}
		return m.Resume(ctx, tenantID)
	})
}

// Shutdown останавливает все tenant'ы параллельно.
func (m *Manager) Shutdown(ctx context.Context) error {
	return m.each(ctx, m.Pause)
}

// each вызывает fn для каждого tenant'а параллельно и собирает ошибки.
func (m *Manager) each(ctx context.Context, fn func(ctx context.Context, tenantID int64) error) error {
	var (
		mu   sync.Mutex
		errs []error
	)

	var g errgroup.Group
	for _, tenantID := range m.Tenants() {
		g.Go(func() error {
			if err := fn(ctx, tenantID); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			// Ошибка одного tenant'а не отменяет остальные
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

func (m *Manager) entry(tenantID int64) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.services[tenantID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrTenantNotFound, tenantID)
	}
	return e, nil
}
