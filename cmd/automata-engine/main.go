// Automata Engine - среда выполнения multi-tenant движка процессов.
//
// Процесс:
//   - Восстанавливает connector'ы, прерванные рестартом
//   - Запускает планировщик работ каждого tenant'а
//   - Принимает команды pause/resume и work items из RabbitMQ
//   - Отдаёт /healthz, /metrics и административный API /api/v1
//
// Использование:
//
//	automata-engine [--config FILE] [--json] <command> [flags]
//
// Команды:
//
//	serve     Запуск движка
//	recover   Однократное восстановление
//	tenant    Pause/resume tenant'а на всех процессах
//	work      Публикация work items
//	jobs      Проверка файла jobs
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaiso/automata-engine/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cli.NewRootCmd(version).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cancel()
		os.Exit(1)
	}
}
