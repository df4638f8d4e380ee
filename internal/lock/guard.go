package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/automata-engine/internal/domain"
)

// LockTypeTenantServe - тип advisory-ключа обслуживаемого tenant'а.
const LockTypeTenantServe = "TENANT_SERVE"

// ErrTenantServed - tenant обслуживается другим процессом.
var ErrTenantServed = errors.New("tenant is served by another process")

// ServeGuard - межпроцессная отметка обслуживаемых tenant'ов.
//
// serve держит shared advisory lock на каждого своего tenant'а,
// восстановление вне serve берёт тот же ключ монопольно. Ключи живут
// на одном выделенном соединении до Close.
type ServeGuard struct {
	pool *pgxpool.Pool

	mu   sync.Mutex
	conn *pgxpool.Conn
}

// NewServeGuard создаёт ServeGuard.
func NewServeGuard(pool *pgxpool.Pool) *ServeGuard {
	return &ServeGuard{pool: pool}
}

// ServeKey вычисляет advisory-ключ tenant'а.
func ServeKey(tenantID int64) int64 {
	return AdvisoryKey(tenantID, domain.LockKey{ObjectType: LockTypeTenantServe})
}

// Share отмечает tenant'ы как обслуживаемые. Ждёт, пока идущее
// восстановление отпустит монопольный ключ.
func (g *ServeGuard) Share(ctx context.Context, tenantIDs []int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	conn, err := g.session(ctx)
	if err != nil {
		return err
	}
	for _, id := range tenantIDs {
		if _, err := conn.Exec(ctx, "select pg_advisory_lock_shared($1)", ServeKey(id)); err != nil {
			return fmt.Errorf("share tenant %d: %w", id, err)
		}
	}
	return nil
}

// Exclusive захватывает tenant'ы монопольно без ожидания.
// Если хотя бы один tenant обслуживается, захваченные ключи
// отпускаются и возвращается ErrTenantServed.
func (g *ServeGuard) Exclusive(ctx context.Context, tenantIDs []int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	conn, err := g.session(ctx)
	if err != nil {
		return err
	}

	taken := make([]int64, 0, len(tenantIDs))
	for _, id := range tenantIDs {
		var ok bool
		if err := conn.QueryRow(ctx, "select pg_try_advisory_lock($1)", ServeKey(id)).Scan(&ok); err != nil {
			g.unlock(taken)
			return fmt.Errorf("lock tenant %d: %w", id, err)
		}
		if !ok {
			g.unlock(taken)
			return fmt.Errorf("%w: %d", ErrTenantServed, id)
		}
		taken = append(taken, id)
	}
	return nil
}

// Close снимает все ключи и возвращает соединение в пул.
func (g *ServeGuard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.conn == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
	defer cancel()
	if _, err := g.conn.Exec(ctx, "select pg_advisory_unlock_all()"); err != nil {
		// Закрытие сессии снимает ключи
		_ = g.conn.Conn().Close(ctx)
	}
	g.conn.Release()
	g.conn = nil
}

func (g *ServeGuard) session(ctx context.Context) (*pgxpool.Conn, error) {
	if g.conn != nil {
		return g.conn, nil
	}
	conn, err := g.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	g.conn = conn
	return conn, nil
}

func (g *ServeGuard) unlock(tenantIDs []int64) {
	ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
	defer cancel()
	for _, id := range tenantIDs {
		_, _ = g.conn.Exec(ctx, "select pg_advisory_unlock($1)", ServeKey(id))
	}
}
