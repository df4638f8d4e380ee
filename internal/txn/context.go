package txn

import "context"

// State - состояние транзакции.
type State int

const (
	// StateNoTransaction - в контексте нет транзакции.
	StateNoTransaction State = iota

	// StateActive - транзакция открыта.
	StateActive

	// StateRollbackOnly - транзакция будет откачена при Complete.
	StateRollbackOnly

	// StateCommitted - транзакция зафиксирована.
	StateCommitted

	// StateRolledBack - транзакция откачена.
	StateRolledBack
)

// String возвращает строковое представление State.
func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateRollbackOnly:
		return "ROLLBACKONLY"
	case StateCommitted:
		return "COMMITTED"
	case StateRolledBack:
		return "ROLLEDBACK"
	default:
		return "NO_TRANSACTION"
	}
}

// TransactionContext - граница транзакции, предоставляемая хранилищем.
//
// Реализации: repo.TxManager (PostgreSQL), repo.MemoryConnectorStore.
type TransactionContext interface {
	// Begin открывает транзакцию и возвращает контекст, несущий её.
	Begin(ctx context.Context) (context.Context, error)

	// SetRollbackOnly помечает транзакцию из ctx для отката.
	SetRollbackOnly(ctx context.Context) error

	// Complete фиксирует транзакцию или откатывает, если она
	// помечена rollback-only. Конфликт при фиксации возвращается
	// как domain.Conflict.
	Complete(ctx context.Context) error

	// State возвращает состояние транзакции из ctx.
	State(ctx context.Context) State
}
