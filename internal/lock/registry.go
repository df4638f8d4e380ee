package lock

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/automata-engine/internal/domain"
	"github.com/shaiso/automata-engine/internal/telemetry"
)

const defaultTimeout = 30 * time.Second

// Locker - сервис блокировок, используемый ядром.
//
// Реализации: Registry (in-memory), PGLocker (advisory locks).
type Locker interface {
	// Acquire блокирует вызывающего, пока ключ занят другим исполнителем,
	// но не дольше timeout (timeout <= 0 - таймаут по умолчанию).
	Acquire(ctx context.Context, tenantID, objectID int64, objectType string, timeout time.Duration) (*Lock, error)

	// Release освобождает блокировку. Повторный вызов безопасен.
	Release(l *Lock)

	// IsHeld сообщает, занят ли ключ. Не блокирует.
	IsHeld(tenantID, objectID int64, objectType string) bool
}

// Lock - handle захваченной блокировки.
type Lock struct {
	tenantID   int64
	key        domain.LockKey
	execution  string
	token      uint64
	acquiredAt time.Time
	released   atomic.Bool
}

// TenantID возвращает tenant блокировки.
func (l *Lock) TenantID() int64 { return l.tenantID }

// Key возвращает ключ блокировки.
func (l *Lock) Key() domain.LockKey { return l.key }

// Execution возвращает идентификатор исполнителя-владельца.
func (l *Lock) Execution() string { return l.execution }

// Token возвращает уникальный номер захвата.
func (l *Lock) Token() uint64 { return l.token }

// AcquiredAt возвращает время захвата.
func (l *Lock) AcquiredAt() time.Time { return l.acquiredAt }

// IsReleased возвращает true после Release.
func (l *Lock) IsReleased() bool { return l.released.Load() }

// entry - занятый ключ. released закрывается при освобождении
// и будит всех ожидающих.
type entry struct {
	holder   *Lock
	released chan struct{}
}

// tenantShard - блокировки одного tenant'а под собственным mutex.
type tenantShard struct {
	mu      sync.Mutex
	entries map[domain.LockKey]*entry
}

// Registry - in-memory реестр блокировок.
//
// Каждый tenant имеет свой shard: операции разных tenant'ов
// не сериализуются общим mutex (кроме короткого поиска shard'а).
type Registry struct {
	defaultTimeout time.Duration
	logger         *slog.Logger

	mu     sync.RWMutex
	shards map[int64]*tenantShard

	tokens atomic.Uint64
}

// Config - конфигурация Registry.
type Config struct {
	// DefaultTimeout - таймаут для Acquire с timeout <= 0 (default: 30s).
	DefaultTimeout time.Duration

	// Logger
	Logger *slog.Logger
}

// NewRegistry создаёт пустой Registry.
func NewRegistry(cfg Config) *Registry {
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		defaultTimeout: timeout,
		logger:         logger,
		shards:         make(map[int64]*tenantShard),
	}
}

// DefaultTimeout возвращает таймаут по умолчанию.
func (r *Registry) DefaultTimeout() time.Duration {
	return r.defaultTimeout
}

// Acquire захватывает (objectID, objectType) в tenant'е tenantID.
//
// Ошибки:
//   - KindReentrantLock - ключ уже захвачен этим же исполнителем
//   - KindLockTimeout - ключ не освободился за timeout
//   - ctx.Err() - контекст вызывающего отменён
func (r *Registry) Acquire(ctx context.Context, tenantID, objectID int64, objectType string, timeout time.Duration) (*Lock, error) {
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}

	key := domain.LockKey{ObjectID: objectID, ObjectType: objectType}
	execution, tracked := ExecutionFromContext(ctx)
	if !tracked {
		// Без идентичности проверить реентерабельность нельзя
		execution = "anonymous-" + uuid.NewString()
		r.logger.Warn("lock acquired without execution id, reentrancy is not checked",
			"tenant_id", tenantID,
			"key", key.String(),
		)
	}

	shard := r.shard(tenantID, true)
	start := time.Now()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		shard.mu.Lock()
		e, held := shard.entries[key]
		if !held {
			l := &Lock{
				tenantID:   tenantID,
				key:        key,
				execution:  execution,
				token:      r.tokens.Add(1),
				acquiredAt: time.Now(),
			}
			shard.entries[key] = &entry{holder: l, released: make(chan struct{})}
			shard.mu.Unlock()

			telemetry.LockWaitSeconds.
				WithLabelValues(telemetry.TenantLabel(tenantID), objectType).
				Observe(time.Since(start).Seconds())
			return l, nil
		}

		if e.holder.execution == execution {
			shard.mu.Unlock()
			return nil, domain.Reentrant(tenantID, key, execution)
		}

		released := e.released
		shard.mu.Unlock()

		// Просыпаемся при освобождении и проверяем заново:
		// ключ мог успеть захватить другой ожидающий
		select {
		case <-released:
		case <-timer.C:
			telemetry.LockTimeoutsTotal.
				WithLabelValues(telemetry.TenantLabel(tenantID), objectType).
				Inc()
			return nil, domain.LockTimeout(tenantID, key, timeout)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release освобождает блокировку.
//
// nil, уже освобождённый или чужой handle - аномалия:
// логируется и учитывается в метриках, но не возвращает ошибку.
func (r *Registry) Release(l *Lock) {
	if l == nil {
		r.anomaly("nil_handle", nil)
		return
	}

	shard := r.shard(l.tenantID, false)
	if shard == nil {
		r.anomaly(releasedOrForeign(l), l)
		return
	}

	shard.mu.Lock()
	e, held := shard.entries[l.key]
	if !held || e.holder != l {
		shard.mu.Unlock()
		r.anomaly(releasedOrForeign(l), l)
		return
	}

	l.released.Store(true)
	delete(shard.entries, l.key)
	close(e.released)
	shard.mu.Unlock()
}

// IsHeld сообщает, захвачен ли ключ.
func (r *Registry) IsHeld(tenantID, objectID int64, objectType string) bool {
	shard := r.shard(tenantID, false)
	if shard == nil {
		return false
	}

	shard.mu.Lock()
	defer shard.mu.Unlock()
	_, held := shard.entries[domain.LockKey{ObjectID: objectID, ObjectType: objectType}]
	return held
}

// HeldCount возвращает количество захваченных ключей tenant'а.
func (r *Registry) HeldCount(tenantID int64) int {
	shard := r.shard(tenantID, false)
	if shard == nil {
		return 0
	}

	shard.mu.Lock()
	defer shard.mu.Unlock()
	return len(shard.entries)
}

// Reset освобождает все блокировки. Ожидающие просыпаются
// и конкурируют за ключи заново.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, shard := range r.shards {
		shard.mu.Lock()
		for key, e := range shard.entries {
			e.holder.released.Store(true)
			close(e.released)
			delete(shard.entries, key)
		}
		shard.mu.Unlock()
	}
}

// shard возвращает shard tenant'а, создавая его при create == true.
func (r *Registry) shard(tenantID int64, create bool) *tenantShard {
	r.mu.RLock()
	shard := r.shards[tenantID]
	r.mu.RUnlock()

	if shard != nil || !create {
		return shard
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if shard = r.shards[tenantID]; shard == nil {
		shard = &tenantShard{entries: make(map[domain.LockKey]*entry)}
		r.shards[tenantID] = shard
	}
	return shard
}

func (r *Registry) anomaly(reason string, l *Lock) {
	telemetry.LockAnomaliesTotal.WithLabelValues(reason).Inc()

	if l == nil {
		r.logger.Warn("lock release anomaly", "reason", reason)
		return
	}
	r.logger.Warn("lock release anomaly",
		"reason", reason,
		"tenant_id", l.tenantID,
		"key", l.key.String(),
		"execution", l.execution,
		"token", l.token,
	)
}

func releasedOrForeign(l *Lock) string {
	if l.released.Load() {
		return "double_release"
	}
	return "foreign_handle"
}
