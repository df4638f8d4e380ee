package domain

import (
	"time"

	"github.com/google/uuid"
)

// Типы work items, обрабатываемых встроенными handler'ами.
const (
	// WorkTypeConnectorRetry - "retry failed activity" для flow node.
	WorkTypeConnectorRetry = "connector.retry"
)

// WorkItem - асинхронная единица работы tenant'а.
//
// WorkItem принимается scheduler.WorkScheduler'ом и выполняется
// handler'ом, зарегистрированным для Type, внутри транзакции.
type WorkItem struct {
	// ID - уникальный идентификатор work item.
	ID uuid.UUID `json:"id"`

	// TenantID - tenant, в котором выполняется работа.
	TenantID int64 `json:"tenant_id"`

	// Type - тип работы, определяет handler.
	Type string `json:"type"`

	// FlowNodeInstanceID - flow node, к которому относится работа (0 - нет).
	FlowNodeInstanceID int64 `json:"flow_node_instance_id,omitempty"`

	// Payload - параметры для handler'а.
	Payload map[string]any `json:"payload,omitempty"`

	// CreatedAt - время создания.
	CreatedAt time.Time `json:"created_at"`
}

// NewWorkItem создаёт work item с новым ID.
func NewWorkItem(tenantID int64, itemType string, flowNodeID int64, payload map[string]any) WorkItem {
	return WorkItem{
		ID:                 uuid.New(),
		TenantID:           tenantID,
		Type:               itemType,
		FlowNodeInstanceID: flowNodeID,
		Payload:            payload,
		CreatedAt:          time.Now(),
	}
}

// PayloadString возвращает строковое значение из payload.
func (w *WorkItem) PayloadString(key string) string {
	if w.Payload == nil {
		return ""
	}
	s, _ := w.Payload[key].(string)
	return s
}
