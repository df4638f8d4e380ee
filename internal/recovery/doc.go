// Package recovery приводит connector instances flow node к заданным
// состояниям и проверяет, что FAILED connector'ов не осталось.
//
// Используется двумя путями:
//   - пользовательский "retry failed activity" (ResetConnectors,
//     ResetFailedConnectors);
//   - восстановление после рестарта движка (RecoverTenant), которое
//     выполняется до запуска планировщика тенанта.
//
// Весь reset одного flow node выполняется под блокировкой
// (flowNodeID, "FLOWNODE_RESET") и в одной транзакции txn.Runner.
package recovery
