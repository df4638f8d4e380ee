// Package telemetry обеспечивает наблюдаемость ядра.
//
// Включает:
//   - logging.go - structured logging через slog
//   - metrics.go - Prometheus метрики блокировок, транзакций, recovery и планировщика
//
// Все компоненты используют единый формат логирования,
// метрики экспортируются на /metrics endpoint.
package telemetry
