package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/shaiso/automata-engine/internal/domain"
)

// Handler выполняет work item определённого типа.
type Handler interface {
	Handle(ctx context.Context, item *domain.WorkItem) error
}

// HandlerFunc - адаптер функции к Handler.
type HandlerFunc func(ctx context.Context, item *domain.WorkItem) error

// Handle вызывает f.
func (f HandlerFunc) Handle(ctx context.Context, item *domain.WorkItem) error {
	return f(ctx, item)
}

type registration struct {
	handler Handler

	// managed - handler сам открывает транзакции через txn.Runner.
	managed bool
}

// Registry - реестр handler'ов по типу work item.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]registration
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]registration)}
}

// Register добавляет handler, который выполняется внутри транзакции
// txn.Runner планировщика.
func (r *Registry) Register(itemType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[itemType] = registration{handler: h}
}

// RegisterManaged добавляет handler, который сам выполняет работу
// через txn.Runner (например, recovery.Coordinator). Планировщик
// не открывает для него внешнюю транзакцию.
func (r *Registry) RegisterManaged(itemType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[itemType] = registration{handler: h, managed: true}
}

// Has сообщает, есть ли handler для типа.
func (r *Registry) Has(itemType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[itemType]
	return ok
}

func (r *Registry) get(itemType string) (registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.handlers[itemType]
	if !ok {
		return registration{}, fmt.Errorf("%w: %s", ErrUnknownWorkType, itemType)
	}
	return reg, nil
}

// ConnectorResetter - часть recovery.Coordinator, нужная handler'у.
type ConnectorResetter interface {
	ResetFailedConnectors(ctx context.Context, flowNodeID int64, target domain.ConnectorState) (int, error)
}

// ConnectorRetryHandler - handler "retry failed activity".
//
// Сбрасывает FAILED connector'ы flow node в состояние из payload
// "target" (по умолчанию TO_RE_EXECUTE).
func ConnectorRetryHandler(c ConnectorResetter) Handler {
	return HandlerFunc(func(ctx context.Context, item *domain.WorkItem) error {
		if item.FlowNodeInstanceID == 0 {
			return fmt.Errorf("%w: %s requires flow_node_instance_id", ErrInvalidWorkItem, item.Type)
		}

		target := domain.ConnectorToReExecute
		if raw := item.PayloadString("target"); raw != "" {
			parsed, ok := domain.ParseConnectorState(raw)
			if !ok || !parsed.IsResetTarget() {
				return fmt.Errorf("%w: invalid reset target %q", ErrInvalidWorkItem, raw)
			}
			target = parsed
		}

		_, err := c.ResetFailedConnectors(ctx, item.FlowNodeInstanceID, target)
		return err
	})
}
