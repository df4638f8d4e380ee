package domain

import "fmt"

// Типы объектов для блокировок.
const (
	// LockTypeFlowNodeReset - сброс connector'ов одного flow node.
	LockTypeFlowNodeReset = "FLOWNODE_RESET"
)

// LockKey - ресурс для блокировки в рамках tenant'а.
type LockKey struct {
	ObjectID   int64
	ObjectType string
}

// String возвращает "type:id".
func (k LockKey) String() string {
	return fmt.Sprintf("%s:%d", k.ObjectType, k.ObjectID)
}
