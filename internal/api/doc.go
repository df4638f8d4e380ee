// Package api содержит административный HTTP API движка.
//
// Структура:
//   - handler.go        - Handler с DI (tenant'ы, logger)
//   - routes.go         - регистрация маршрутов
//   - middleware.go     - middleware (logging, recovery, request id)
//   - response.go       - унифицированные JSON-ответы и обработка ошибок
//   - dto.go            - Data Transfer Objects (request/response)
//   - tenant_handler.go - обработчики для /tenants
//
// API позволяет смотреть состояние tenant'ов, приостанавливать и
// возобновлять их, запускать восстановление и ставить work items.
// Команды действуют только на текущий процесс; для всех процессов
// используется fanout через RabbitMQ (automata-engine tenant pause).
package api
