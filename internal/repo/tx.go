package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/automata-engine/internal/txn"
)

// querier - общее подмножество pgxpool.Pool и pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

// pgTx - открытая транзакция в контексте.
type pgTx struct {
	tx    pgx.Tx
	state txn.State
}

// TxManager - txn.TransactionContext поверх pgxpool.
//
// Транзакция хранится в context, репозитории берут её через conn(ctx).
// По умолчанию используется REPEATABLE READ: конкурентные изменения
// одной строки дают serialization failure, который runner повторяет.
type TxManager struct {
	pool *pgxpool.Pool
	opts pgx.TxOptions
}

// NewTxManager создаёт TxManager.
func NewTxManager(pool *pgxpool.Pool, isoLevel pgx.TxIsoLevel) *TxManager {
	if isoLevel == "" {
		isoLevel = pgx.RepeatableRead
	}
	return &TxManager{
		pool: pool,
		opts: pgx.TxOptions{IsoLevel: isoLevel},
	}
}

// Begin открывает транзакцию.
func (m *TxManager) Begin(ctx context.Context) (context.Context, error) {
	if t, ok := ctx.Value(txKey{}).(*pgTx); ok && t.state == txn.StateActive {
		return ctx, txn.ErrNestedTransaction
	}

	tx, err := m.pool.BeginTx(ctx, m.opts)
	if err != nil {
		return ctx, translate("begin", err)
	}
	return context.WithValue(ctx, txKey{}, &pgTx{tx: tx, state: txn.StateActive}), nil
}

// SetRollbackOnly помечает транзакцию для отката.
func (m *TxManager) SetRollbackOnly(ctx context.Context) error {
	t, ok := ctx.Value(txKey{}).(*pgTx)
	if !ok {
		return txn.ErrNoTransaction
	}
	if t.state == txn.StateActive {
		t.state = txn.StateRollbackOnly
	}
	return nil
}

// Complete фиксирует или откатывает транзакцию.
func (m *TxManager) Complete(ctx context.Context) error {
	t, ok := ctx.Value(txKey{}).(*pgTx)
	if !ok {
		return txn.ErrNoTransaction
	}

	switch t.state {
	case txn.StateRollbackOnly:
		// Откат использует собственный контекст: исходный мог быть отменён
		err := t.tx.Rollback(context.WithoutCancel(ctx))
		t.state = txn.StateRolledBack
		if err != nil {
			return fmt.Errorf("rollback: %w", err)
		}
		return nil
	case txn.StateActive:
		err := t.tx.Commit(ctx)
		if err != nil {
			t.state = txn.StateRolledBack
			return translate("commit", err)
		}
		t.state = txn.StateCommitted
		return nil
	default:
		return fmt.Errorf("complete transaction in state %s", t.state)
	}
}

// State возвращает состояние транзакции.
func (m *TxManager) State(ctx context.Context) txn.State {
	if t, ok := ctx.Value(txKey{}).(*pgTx); ok {
		return t.state
	}
	return txn.StateNoTransaction
}

// conn возвращает транзакцию из контекста или пул.
func conn(ctx context.Context, pool *pgxpool.Pool) querier {
	if t, ok := ctx.Value(txKey{}).(*pgTx); ok && (t.state == txn.StateActive || t.state == txn.StateRollbackOnly) {
		return t.tx
	}
	return pool
}
