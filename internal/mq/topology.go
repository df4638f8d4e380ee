package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange - тип для имени обменника.
type Exchange string

// Queue - тип для имени очереди.
type Queue string

// RoutingKey - тип для ключа маршрутизации.
type RoutingKey string

// Exchanges - имена обменников.
const (
	ExchangeTenants Exchange = "automata.tenants"
	ExchangeWork    Exchange = "automata.work"
	ExchangeDLQ     Exchange = "automata.dlq"
)

// Queues - имена очередей.
const (
	QueueWorkReady Queue = "work.ready"
	QueueDLQWork   Queue = "dlq.work"

	// queueMaintenancePrefix - префикс очереди команд конкретного процесса.
	queueMaintenancePrefix = "tenants.maintenance."
)

// Routing keys.
const (
	RoutingKeyReady   RoutingKey = "ready"
	RoutingKeyDLQWork RoutingKey = "work"

	// Для fanout ключ игнорируется, но пишется в сообщение для трассировки.
	RoutingKeyPause  RoutingKey = "pause"
	RoutingKeyResume RoutingKey = "resume"
)

// SetupTopology объявляет общие exchanges, queues и bindings.
// Очередь команд обслуживания объявляется каждым процессом отдельно
// (MaintenanceQueue, DeclareMaintenanceQueue).
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		if err := declareQueues(ch); err != nil {
			return err
		}
		return bindQueues(ch)
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeTenants, amqp.ExchangeFanout},
		{ExchangeWork, amqp.ExchangeDirect},
		{ExchangeDLQ, amqp.ExchangeDirect},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}
	return nil
}

// declareQueues создаёт общие очереди.
func declareQueues(ch *amqp.Channel) error {
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQWork),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// work.ready - с DLQ (неразбираемые и отвергнутые items)
		{QueueWorkReady, dlqArgs},
		{QueueDLQWork, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}
	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueWorkReady, RoutingKeyReady, ExchangeWork},
		{QueueDLQWork, RoutingKeyDLQWork, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}
	return nil
}

// MaintenanceQueue возвращает имя очереди команд для процесса nodeID.
func MaintenanceQueue(nodeID string) Queue {
	return Queue(queueMaintenancePrefix + nodeID)
}

// DeclareMaintenanceQueue объявляет auto-delete очередь процесса
// и привязывает её к fanout exchange команд обслуживания.
//
// Подходит как ConsumerConfig.Declare: вызывается при каждом
// (пере)запуске consume.
func DeclareMaintenanceQueue(queue Queue) func(ch *amqp.Channel) error {
	return func(ch *amqp.Channel) error {
		_, err := ch.QueueDeclare(
			string(queue), // name
			false,         // durable
			true,          // delete when unused
			false,         // exclusive
			false,         // no-wait
			nil,           // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}
		if err := ch.QueueBind(string(queue), "", string(ExchangeTenants), false, nil); err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", queue, ExchangeTenants, err)
		}
		return nil
	}
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Automata Engine RabbitMQ Topology:

    automata.tenants (fanout)
    └── tenants.maintenance.<node> [auto-delete]
            Consumer: engine process <node>, tenant.pause / tenant.resume

    automata.work (direct)
    └── work.ready [routing: ready]
            Consumer: engine, WorkScheduler of the item's tenant
            DLQ: dlq.work

    automata.dlq (direct)
    └── dlq.work [routing: work]
            Manual processing
  `
}
