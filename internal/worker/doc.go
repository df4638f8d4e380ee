// Package worker связывает RabbitMQ с tenant'ами движка.
//
// # Обзор
//
// Worker потребляет две очереди:
//
//   - tenants.maintenance.<node> - команды tenant.pause / tenant.resume,
//     которые приходят каждому процессу движка через fanout exchange;
//   - work.ready - work items, которые передаются WorkScheduler'у
//     tenant'а через tenant.Manager.
//
// Worker не выполняет работу сам: он только маршрутизирует сообщения.
//
//	w := worker.New(worker.Config{
//	    Conn:    mqConn,
//	    NodeID:  "engine-1",
//	    Tenants: manager,
//	    Logger:  logger,
//	})
//
//	if err := w.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Stop()
//
// # Подтверждение сообщений
//
//   - успех - ack;
//   - неизвестный tenant, неизвестный тип работы, некорректный payload -
//     nack без requeue (сообщение уходит в DLQ);
//   - tenant остановлен или очередь заполнена - nack с requeue после
//     паузы RequeueDelay.
//
// Pause блокирует обработку сообщений обслуживания до окончания drain;
// work items при этом продолжают обрабатываться отдельным consumer'ом.
package worker
