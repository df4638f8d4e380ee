package lock

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/automata-engine/internal/domain"
	"github.com/shaiso/automata-engine/internal/telemetry"
)

const (
	defaultPollInterval = 10 * time.Millisecond
	maxPollInterval     = 250 * time.Millisecond
	unlockTimeout       = 5 * time.Second
)

// PGLocker - Locker поверх PostgreSQL session advisory locks.
//
// Внутри процесса исключение и проверку реентерабельности обеспечивает
// локальный Registry, между процессами - pg_try_advisory_lock на
// выделенном соединении из пула. Advisory lock живёт, пока живёт
// соединение: при падении процесса блокировки освобождаются сами.
type PGLocker struct {
	pool   *pgxpool.Pool
	local  *Registry
	logger *slog.Logger

	pollInterval time.Duration

	mu    sync.Mutex
	conns map[uint64]*pgxpool.Conn // token → соединение, держащее advisory lock
}

// PGConfig - конфигурация PGLocker.
type PGConfig struct {
	Pool *pgxpool.Pool

	// Local - локальный реестр (опционально; если nil - создаётся новый).
	Local *Registry

	// PollInterval - начальный интервал повторных попыток (default: 10ms).
	PollInterval time.Duration

	// Logger
	Logger *slog.Logger
}

// NewPGLocker создаёт PGLocker.
func NewPGLocker(cfg PGConfig) *PGLocker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	local := cfg.Local
	if local == nil {
		local = NewRegistry(Config{Logger: logger})
	}

	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}

	return &PGLocker{
		pool:         cfg.Pool,
		local:        local,
		logger:       logger,
		pollInterval: poll,
		conns:        make(map[uint64]*pgxpool.Conn),
	}
}

// Acquire захватывает локальную блокировку, затем advisory lock.
// Общий бюджет ожидания - timeout.
func (p *PGLocker) Acquire(ctx context.Context, tenantID, objectID int64, objectType string, timeout time.Duration) (*Lock, error) {
	if timeout <= 0 {
		timeout = p.local.DefaultTimeout()
	}
	deadline := time.Now().Add(timeout)

	l, err := p.local.Acquire(ctx, tenantID, objectID, objectType, timeout)
	if err != nil {
		return nil, err
	}

	// Ожидание соединения из пула входит в тот же бюджет.
	connCtx, cancel := context.WithDeadline(ctx, deadline)
	conn, err := p.pool.Acquire(connCtx)
	cancel()
	if err != nil {
		p.local.Release(l)
		if ctx.Err() == nil && errors.Is(connCtx.Err(), context.DeadlineExceeded) {
			return nil, p.timeout(tenantID, l.Key(), timeout)
		}
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	key := AdvisoryKey(tenantID, l.Key())
	delay := p.pollInterval

	for {
		var ok bool
		if err := conn.QueryRow(ctx, "select pg_try_advisory_lock($1)", key).Scan(&ok); err != nil {
			conn.Release()
			p.local.Release(l)
			return nil, fmt.Errorf("try advisory lock: %w", err)
		}
		if ok {
			break
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			conn.Release()
			p.local.Release(l)
			return nil, p.timeout(tenantID, l.Key(), timeout)
		}

		select {
		case <-time.After(min(delay, remaining)):
		case <-ctx.Done():
			conn.Release()
			p.local.Release(l)
			return nil, ctx.Err()
		}
		delay = min(delay*2, maxPollInterval)
	}

	p.mu.Lock()
	p.conns[l.Token()] = conn
	p.mu.Unlock()

	return l, nil
}

func (p *PGLocker) timeout(tenantID int64, key domain.LockKey, timeout time.Duration) error {
	telemetry.LockTimeoutsTotal.
		WithLabelValues(telemetry.TenantLabel(tenantID), key.ObjectType).
		Inc()
	return domain.LockTimeout(tenantID, key, timeout)
}

// Release снимает advisory lock и освобождает локальную блокировку.
func (p *PGLocker) Release(l *Lock) {
	if l == nil {
		p.local.Release(nil)
		return
	}

	p.mu.Lock()
	conn := p.conns[l.Token()]
	delete(p.conns, l.Token())
	p.mu.Unlock()

	if conn != nil {
		ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
		_, err := conn.Exec(ctx, "select pg_advisory_unlock($1)", AdvisoryKey(l.TenantID(), l.Key()))
		cancel()
		if err != nil {
			// Закрытие сессии гарантированно снимает advisory lock
			p.logger.Warn("advisory unlock failed, closing session",
				"tenant_id", l.TenantID(),
				"key", l.Key().String(),
				"error", err,
			)
			_ = conn.Conn().Close(context.Background())
		}
		conn.Release()
	}

	p.local.Release(l)
}

// IsHeld сообщает, захвачен ли ключ в этом процессе.
func (p *PGLocker) IsHeld(tenantID, objectID int64, objectType string) bool {
	return p.local.IsHeld(tenantID, objectID, objectType)
}

// AdvisoryKey вычисляет bigint-ключ advisory lock для (tenant, key).
func AdvisoryKey(tenantID int64, key domain.LockKey) int64 {
	h := fnv.New64a()
	h.Write([]byte(strconv.FormatInt(tenantID, 10)))
	h.Write([]byte{0})
	h.Write([]byte(key.ObjectType))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(key.ObjectID, 10)))
	return int64(h.Sum64())
}
