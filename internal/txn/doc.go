// Package txn выполняет единицу работы в транзакции с повтором
// при оптимистичных конфликтах.
//
// Runner не хранит состояния между вызовами и безопасен для
// конкурентного использования. Решение о повторе принимается только по
// флагу domain.Error.Retryable: любая другая ошибка откатывает
// транзакцию и возвращается сразу.
//
// Транзакция передаётся в работу через context, который вернул
// TransactionContext.Begin:
//
//	runner := txn.NewRunner(txn.Config{Tx: txManager, Policy: policy})
//
//	err := runner.Do(ctx, func(ctx context.Context) error {
//	    return store.Update(ctx, id, domain.ResetTo(domain.ConnectorToReExecute))
//	})
package txn
