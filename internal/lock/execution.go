package lock

import (
	"context"

	"github.com/google/uuid"
)

type executionKey struct{}

// WithExecution помечает контекст новым идентификатором исполнителя.
// Все захваты блокировок с этим контекстом считаются одним исполнителем.
func WithExecution(ctx context.Context) context.Context {
	return WithExecutionID(ctx, uuid.NewString())
}

// WithExecutionID помечает контекст заданным идентификатором исполнителя.
func WithExecutionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, executionKey{}, id)
}

// ExecutionFromContext возвращает идентификатор исполнителя из контекста.
func ExecutionFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(executionKey{}).(string)
	return id, ok && id != ""
}
