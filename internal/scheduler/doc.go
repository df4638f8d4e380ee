// Package scheduler реализует WorkScheduler - планировщик асинхронной
// работы одного tenant'а.
//
// Жизненный цикл: STOPPED → RUNNING → STOPPING → STOPPED.
//   - Start запускает воркеры и тикер периодических jobs (идемпотентно);
//   - Stop перестаёт принимать работу, дожидается выполнения уже
//     принятых work items и только после выхода всех воркеров
//     переводит планировщик в STOPPED.
//
// Структура:
//   - scheduler.go - WorkScheduler (Start, Stop, Submit, Tick)
//   - handlers.go  - реестр handler'ов по типу work item
//   - cron.go      - парсинг cron-выражений и вычисление следующего времени
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    TenantID: 1,
//	    Runner:   runner,
//	    Logger:   logger,
//	})
//	sched.Registry().RegisterManaged(domain.WorkTypeConnectorRetry,
//	    scheduler.ConnectorRetryHandler(coordinator))
//
//	if err := sched.Start(ctx); err != nil { ... }
//	defer sched.Stop(ctx)
//
// Планировщики разных tenant'ов независимы: остановка одного
// не затрагивает остальные.
package scheduler
