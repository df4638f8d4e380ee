// Package lock реализует взаимное исключение по ключу (object type, object id)
// в рамках tenant'а.
//
// Структура:
//   - execution.go - идентичность исполнителя, передаваемая через context
//   - registry.go  - in-memory Registry (один процесс)
//   - pg.go        - PGLocker поверх PostgreSQL advisory locks (несколько процессов)
//
// Блокировки не реентерабельны: повторный захват того же ключа тем же
// исполнителем сразу возвращает ошибку KindReentrantLock вместо deadlock.
//
// Использование:
//
//	reg := lock.NewRegistry(lock.Config{DefaultTimeout: 5 * time.Second})
//
//	ctx = lock.WithExecution(ctx)
//	l, err := reg.Acquire(ctx, tenantID, flowNodeID, domain.LockTypeFlowNodeReset, time.Second)
//	if err != nil {
//	    return err
//	}
//	defer reg.Release(l)
//
// Состояние блокировок не сохраняется: после рестарта процесса реестр пуст.
package lock
