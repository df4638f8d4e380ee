package domain

import "time"

// FailureInfo - информация об ошибке выполнения connector'а.
type FailureInfo struct {
	ExceptionMessage string `json:"exception_message"`
	StackTrace       string `json:"stack_trace,omitempty"`
}

// ConnectorInstance - вызов внешней интеграции, привязанный к событию
// жизненного цикла flow node (enter/leave).
//
// Создаётся, когда flow node требует connector. Изменяется выполнением
// и recovery.Coordinator'ом. Не удаляется, пока существует flow node.
type ConnectorInstance struct {
	// ID - идентификатор connector instance.
	ID int64 `json:"id"`

	// TenantID - tenant, которому принадлежит instance.
	TenantID int64 `json:"tenant_id"`

	// FlowNodeInstanceID - flow node, к которому привязан connector.
	FlowNodeInstanceID int64 `json:"flow_node_instance_id"`

	// Name - имя connector'а из определения процесса.
	Name string `json:"name,omitempty"`

	// ActivationEvent - "ON_ENTER" или "ON_FINISH".
	ActivationEvent string `json:"activation_event,omitempty"`

	// State - текущее состояние.
	State ConnectorState `json:"state"`

	// Failure - заполнено только в состоянии FAILED.
	Failure *FailureInfo `json:"failure,omitempty"`

	// UpdatedAt - время последнего изменения.
	UpdatedAt time.Time `json:"updated_at"`
}

// IsFailed возвращает true, если connector в состоянии FAILED.
func (c *ConnectorInstance) IsFailed() bool {
	return c.State == ConnectorFailed
}

// ConnectorUpdate - набор полей для обновления connector instance.
// Nil-поля не изменяются.
type ConnectorUpdate struct {
	State *ConnectorState

	// Failure применяется, только если SetFailure == true.
	// SetFailure с Failure == nil очищает информацию об ошибке.
	Failure    *FailureInfo
	SetFailure bool
}

// ResetTo формирует обновление для сброса FAILED connector'а в target.
func ResetTo(target ConnectorState) ConnectorUpdate {
	return ConnectorUpdate{State: &target, SetFailure: true}
}

// FailWith формирует обновление, переводящее connector в FAILED.
func FailWith(info FailureInfo) ConnectorUpdate {
	state := ConnectorFailed
	return ConnectorUpdate{State: &state, Failure: &info, SetFailure: true}
}

// Apply применяет обновление к connector instance.
func (u ConnectorUpdate) Apply(c *ConnectorInstance, now time.Time) {
	if u.State != nil {
		c.State = *u.State
	}
	if u.SetFailure {
		if u.Failure == nil {
			c.Failure = nil
		} else {
			info := *u.Failure
			c.Failure = &info
		}
	}
	c.UpdatedAt = now
}
