// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go - управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   - объявление exchanges, queues, bindings
//   - publisher.go  - публикация сообщений
//   - consumer.go   - потребление сообщений из очередей
//
// Типы сообщений:
//   - tenant.pause   - остановить планировщик tenant'а
//   - tenant.resume  - запустить планировщик tenant'а
//   - work.ready     - work item для планировщика tenant'а
//
// Exchanges:
//   - automata.tenants - команды обслуживания (fanout: получает каждый процесс движка)
//   - automata.work    - work items (direct, общая очередь)
//   - automata.dlq     - dead letter queue
package mq
