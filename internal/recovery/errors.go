package recovery

import "errors"

// Ошибки recovery.
var (
	// ErrInvalidConfig - не заданы обязательные зависимости Coordinator.
	ErrInvalidConfig = errors.New("invalid coordinator config")

	// ErrNoFlowNodeLister - RecoverTenant вызван без FlowNodeLister.
	ErrNoFlowNodeLister = errors.New("flow node lister is not configured")
)
