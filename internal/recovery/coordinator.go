package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shaiso/automata-engine/internal/domain"
	"github.com/shaiso/automata-engine/internal/lock"
	"github.com/shaiso/automata-engine/internal/telemetry"
	"github.com/shaiso/automata-engine/internal/txn"
)

const (
	defaultPageSize    = 100
	defaultConcurrency = 4

	interruptedMessage = "interrupted by engine restart"
)

// ConnectorStore - доступ к connector instances тенанта.
//
// Реализации: repo.ConnectorRepo (PostgreSQL), repo.MemoryConnectorStore.
type ConnectorStore interface {
	Get(ctx context.Context, id int64) (*domain.ConnectorInstance, error)
	Update(ctx context.Context, id int64, upd domain.ConnectorUpdate) error

	// ListByFlowNode возвращает connector'ы flow node, упорядоченные по id.
	// Пустой state - без фильтра по состоянию.
	ListByFlowNode(ctx context.Context, flowNodeID int64, state domain.ConnectorState, offset, limit int) ([]domain.ConnectorInstance, error)
}

// FlowNodeLister находит flow nodes, требующие восстановления после рестарта.
type FlowNodeLister interface {
	ListFlowNodesToRecover(ctx context.Context, offset, limit int) ([]int64, error)
}

// Coordinator - координатор reset'ов connector instances одного тенанта.
type Coordinator struct {
	tenantID    int64
	locks       lock.Locker
	store       ConnectorStore
	nodes       FlowNodeLister
	runner      *txn.Runner
	lockTimeout time.Duration
	concurrency int
	pageSize    int
	logger      *slog.Logger
}

// Config - конфигурация Coordinator.
type Config struct {
	TenantID int64
	Locks    lock.Locker
	Store    ConnectorStore
	Runner   *txn.Runner

	// Nodes нужен только для RecoverTenant.
	Nodes FlowNodeLister

	// LockTimeout - ожидание FLOWNODE_RESET блокировки (0 - по умолчанию locker'а).
	LockTimeout time.Duration

	// Concurrency - число flow nodes, восстанавливаемых параллельно.
	Concurrency int

	// PageSize - размер страницы при чтении connector'ов.
	PageSize int

	Logger *slog.Logger
}

// NewCoordinator создаёт Coordinator.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.Locks == nil || cfg.Store == nil || cfg.Runner == nil {
		return nil, fmt.Errorf("%w: locks, store and runner are required", ErrInvalidConfig)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Coordinator{
		tenantID:    cfg.TenantID,
		locks:       cfg.Locks,
		store:       cfg.Store,
		nodes:       cfg.Nodes,
		runner:      cfg.Runner,
		lockTimeout: cfg.LockTimeout,
		concurrency: cfg.Concurrency,
		pageSize:    cfg.PageSize,
		logger:      telemetry.WithTenantID(cfg.Logger, cfg.TenantID),
	}, nil
}

// TenantID возвращает тенант координатора.
func (c *Coordinator) TenantID() int64 {
	return c.tenantID
}

// ResetConnectors переводит connector instances flow node из FAILED
// в целевые состояния и проверяет, что FAILED connector'ов не осталось.
//
// Допустимые переходы: FAILED → TO_RE_EXECUTE, SKIPPED, CANCELLED;
// failure info очищается. Любой другой переход, ошибка хранилища или
// оставшийся FAILED connector возвращают KindActivityExecution,
// транзакция при этом откатывается. Проверка выполняется и при пустом targets.
func (c *Coordinator) ResetConnectors(ctx context.Context, flowNodeID int64, targets map[int64]domain.ConnectorState) error {
	return c.withResetLock(ctx, flowNodeID, func(ctx context.Context) error {
		return c.runReset(ctx, flowNodeID, func(ctx context.Context) (map[int64]domain.ConnectorState, error) {
			return targets, nil
		})
	})
}

// ResetFailedConnectors переводит все FAILED connector'ы flow node в target.
// Возвращает число сброшенных connector'ов.
func (c *Coordinator) ResetFailedConnectors(ctx context.Context, flowNodeID int64, target domain.ConnectorState) (int, error) {
	var reset int
	err := c.withResetLock(ctx, flowNodeID, func(ctx context.Context) error {
		return c.runReset(ctx, flowNodeID, func(ctx context.Context) (map[int64]domain.ConnectorState, error) {
			failed, err := c.listAll(ctx, flowNodeID, domain.ConnectorFailed)
			if err != nil {
				return nil, err
			}
			targets := make(map[int64]domain.ConnectorState, len(failed))
			for _, fc := range failed {
				targets[fc.ID] = target
			}
			reset = len(targets)
			return targets, nil
		})
	})
	if err != nil {
		return 0, err
	}
	return reset, nil
}

// MarkInterrupted переводит connector'ы flow node, оставшиеся в EXECUTING
// после падения процесса, в FAILED. Возвращает число изменённых connector'ов.
func (c *Coordinator) MarkInterrupted(ctx context.Context, flowNodeID int64) (int, error) {
	var marked int
	err := c.withResetLock(ctx, flowNodeID, func(ctx context.Context) error {
		return c.runner.Do(ctx, func(ctx context.Context) error {
			executing, err := c.listAll(ctx, flowNodeID, domain.ConnectorExecuting)
			if err != nil {
				return err
			}
			upd := domain.FailWith(domain.FailureInfo{ExceptionMessage: interruptedMessage})
			for _, ec := range executing {
				if err := c.store.Update(ctx, ec.ID, upd); err != nil {
					return fmt.Errorf("mark connector instance %d failed: %w", ec.ID, err)
				}
			}
			marked = len(executing)
			return nil
		})
	})
	if err != nil {
		return 0, c.wrapStoreError(err, "mark interrupted connectors of flow node %d", flowNodeID)
	}

	if marked > 0 {
		c.logger.Info("interrupted connectors marked failed",
			"flow_node_id", flowNodeID,
			"count", marked,
		)
	}
	return marked, nil
}

// withResetLock выполняет fn под блокировкой (flowNodeID, FLOWNODE_RESET).
func (c *Coordinator) withResetLock(ctx context.Context, flowNodeID int64, fn func(ctx context.Context) error) error {
	if _, ok := lock.ExecutionFromContext(ctx); !ok {
		ctx = lock.WithExecution(ctx)
	}

	l, err := c.locks.Acquire(ctx, c.tenantID, flowNodeID, domain.LockTypeFlowNodeReset, c.lockTimeout)
	if err != nil {
		return err
	}
	defer c.locks.Release(l)

	return fn(ctx)
}

// runReset в одной транзакции получает targets, применяет reset'ы
// и проверяет отсутствие FAILED connector'ов.
func (c *Coordinator) runReset(ctx context.Context, flowNodeID int64, collect func(ctx context.Context) (map[int64]domain.ConnectorState, error)) error {
	logger := telemetry.WithFlowNodeID(c.logger, flowNodeID)

	var applied map[int64]domain.ConnectorState
	err := c.runner.Do(ctx, func(ctx context.Context) error {
		targets, err := collect(ctx)
		if err != nil {
			return err
		}

		for _, id := range sortedIDs(targets) {
			if err := c.resetOne(ctx, flowNodeID, id, targets[id]); err != nil {
				return err
			}
		}

		remaining, err := c.store.ListByFlowNode(ctx, flowNodeID, domain.ConnectorFailed, 0, 1)
		if err != nil {
			return fmt.Errorf("check failed connectors: %w", err)
		}
		if len(remaining) > 0 {
			return domain.ActivityExecution(nil, "flow node %d still has failed connectors", flowNodeID)
		}

		applied = targets
		return nil
	})
	if err != nil {
		telemetry.RecoveryFailuresTotal.WithLabelValues(telemetry.TenantLabel(c.tenantID)).Inc()
		err = c.wrapStoreError(err, "reset connectors of flow node %d", flowNodeID)
		logger.Warn("connector reset failed", "error", err)
		return err
	}

	tenant := telemetry.TenantLabel(c.tenantID)
	for _, target := range applied {
		telemetry.ConnectorResetsTotal.WithLabelValues(tenant, string(target)).Inc()
	}
	if len(applied) > 0 {
		logger.Info("connectors reset", "count", len(applied))
	}
	return nil
}

// resetOne проверяет переход и обновляет один connector.
func (c *Coordinator) resetOne(ctx context.Context, flowNodeID, id int64, target domain.ConnectorState) error {
	ci, err := c.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("get connector instance %d: %w", id, err)
	}
	if ci.FlowNodeInstanceID != flowNodeID {
		return domain.ActivityExecution(nil, "connector instance %d does not belong to flow node %d", id, flowNodeID)
	}
	if !ci.IsFailed() {
		return domain.ActivityExecution(nil, "cannot reset connector instance %d in state %s: it is not FAILED", id, ci.State)
	}
	if !target.IsResetTarget() {
		return domain.ActivityExecution(nil, "cannot reset connector instance %d to %s", id, target)
	}

	if err := c.store.Update(ctx, id, domain.ResetTo(target)); err != nil {
		return fmt.Errorf("update connector instance %d: %w", id, err)
	}
	return nil
}

// listAll читает все connector'ы flow node в состоянии state постранично.
func (c *Coordinator) listAll(ctx context.Context, flowNodeID int64, state domain.ConnectorState) ([]domain.ConnectorInstance, error) {
	var all []domain.ConnectorInstance
	for offset := 0; ; offset += c.pageSize {
		page, err := c.store.ListByFlowNode(ctx, flowNodeID, state, offset, c.pageSize)
		if err != nil {
			return nil, fmt.Errorf("list %s connectors: %w", state, err)
		}
		all = append(all, page...)
		if len(page) < c.pageSize {
			return all, nil
		}
	}
}

// wrapStoreError оборачивает ошибку в KindActivityExecution.
// Ошибки блокировок и уже типизированные ошибки возвращаются как есть.
func (c *Coordinator) wrapStoreError(err error, format string, args ...any) error {
	if _, ok := domain.KindOf(err); ok {
		return err
	}
	return domain.ActivityExecution(err, format, args...)
}

func sortedIDs(targets map[int64]domain.ConnectorState) []int64 {
	ids := make([]int64, 0, len(targets))
	for id := range targets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
