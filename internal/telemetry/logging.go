package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogLevel определяет уровень логирования из переменной окружения.
// Возможные значения: DEBUG, INFO, WARN, ERROR
// По умолчанию: INFO
func LogLevel() slog.Level {
	return ParseLevel(os.Getenv("LOG_LEVEL"))
}

// ParseLevel парсит уровень логирования из строки.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogger инициализирует глобальный логгер.
//
// Формат вывода определяется переменной LOG_FORMAT:
//   - "json" (по умолчанию) - JSON формат для production
//   - "text" - человекочитаемый формат для разработки
func SetupLogger() *slog.Logger {
	return NewLogger(LogLevel(), os.Getenv("LOG_FORMAT"), os.Stdout)
}

// NewLogger создаёт логгер с заданным уровнем и форматом и делает его глобальным.
func NewLogger(level slog.Level, format string, out io.Writer) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}

// Ключи контекста для передачи данных в логгер.
type ctxKey string

const (
	// CtxLogger - ключ для логгера в контексте.
	CtxLogger ctxKey = "logger"
)

// WithLogger добавляет логгер в контекст.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, CtxLogger, logger)
}

// FromContext извлекает логгер из контекста.
// Если логгер не найден, возвращает глобальный.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(CtxLogger).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// WithTenantID возвращает логгер с добавленным tenant_id.
func WithTenantID(logger *slog.Logger, tenantID int64) *slog.Logger {
	return logger.With("tenant_id", tenantID)
}

// WithFlowNodeID возвращает логгер с добавленным flow_node_id.
func WithFlowNodeID(logger *slog.Logger, flowNodeID int64) *slog.Logger {
	return logger.With("flow_node_id", flowNodeID)
}

// WithWorkItemID возвращает логгер с добавленным work_item_id.
func WithWorkItemID(logger *slog.Logger, itemID string) *slog.Logger {
	return logger.With("work_item_id", itemID)
}

// Discard возвращает логгер, который ничего не пишет.
// Используется в тестах.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
