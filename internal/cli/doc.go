// Package cli реализует команды automata-engine.
//
// # Обзор
//
// Команды собираются в cmd/automata-engine. Каждая группа создаётся
// фабричной функцией (NewServeCmd, NewTenantCmd и т.д.), принимающей
// configFn и outputFn: замыкания, которые читают конфигурацию и
// создают Output после парсинга PersistentFlags.
//
// # Команды
//
//   - serve: поднимает tenant'ов, восстановление, consumer'ы RabbitMQ
//     и HTTP (/healthz, /metrics, /api/v1)
//   - recover: однократное восстановление tenant'ов без запуска планировщиков
//   - tenant pause|resume: рассылает команду обслуживания всем процессам
//   - work retry: публикует work item "connector.retry"
//   - jobs: проверка файла jobs и расчёт ближайших запусков
//
// # Engine
//
// Engine связывает компоненты по конфигурации: хранилище (memory или
// PostgreSQL), сервис блокировок, runner, координатор и планировщик
// каждого tenant'а, tenant.Manager.
//
// # Output
//
// Данные выводятся в stdout таблицей (text/tabwriter) или JSON (--json),
// сообщения (Success/Error) пишутся в stderr.
package cli
