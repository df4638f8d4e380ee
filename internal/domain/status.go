package domain

// ConnectorState - состояние connector instance.
//
// Жизненный цикл:
//
//	TO_BE_EXECUTED → EXECUTING → DONE
//	                           ↘ FAILED → TO_RE_EXECUTE → EXECUTING
//	                                    ↘ SKIPPED
//	                                    ↘ CANCELLED
//
// Из FAILED выйти можно только через recovery.Coordinator.
type ConnectorState string

const (
	// ConnectorToBeExecuted - connector создан, ожидает выполнения.
	ConnectorToBeExecuted ConnectorState = "TO_BE_EXECUTED"

	// ConnectorExecuting - connector выполняется.
	ConnectorExecuting ConnectorState = "EXECUTING"

	// ConnectorDone - connector успешно выполнен.
	ConnectorDone ConnectorState = "DONE"

	// ConnectorFailed - выполнение завершилось ошибкой, заполнен FailureInfo.
	ConnectorFailed ConnectorState = "FAILED"

	// ConnectorToReExecute - connector сброшен и будет выполнен повторно.
	ConnectorToReExecute ConnectorState = "TO_RE_EXECUTE"

	// ConnectorSkipped - connector намеренно пропущен.
	ConnectorSkipped ConnectorState = "SKIPPED"

	// ConnectorCancelled - connector отменён.
	ConnectorCancelled ConnectorState = "CANCELLED"
)

// IsValid возвращает true для известных состояний.
func (s ConnectorState) IsValid() bool {
	switch s {
	case ConnectorToBeExecuted, ConnectorExecuting, ConnectorDone, ConnectorFailed,
		ConnectorToReExecute, ConnectorSkipped, ConnectorCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal возвращает true, если connector больше не будет выполняться.
func (s ConnectorState) IsTerminal() bool {
	switch s {
	case ConnectorDone, ConnectorSkipped, ConnectorCancelled:
		return true
	default:
		return false
	}
}

// IsResetTarget возвращает true, если в это состояние можно сбросить FAILED connector.
func (s ConnectorState) IsResetTarget() bool {
	switch s {
	case ConnectorToReExecute, ConnectorSkipped, ConnectorCancelled:
		return true
	default:
		return false
	}
}

// ParseConnectorState парсит строку в ConnectorState.
func ParseConnectorState(s string) (ConnectorState, bool) {
	state := ConnectorState(s)
	return state, state.IsValid()
}

// TenantExecutionState - состояние планировщика работ tenant'а.
//
// Жизненный цикл:
//
//	STOPPED → RUNNING → STOPPING → STOPPED
//
// Переход STOPPED → RUNNING возможен только явным Start().
type TenantExecutionState int32

const (
	// TenantStopped - планировщик остановлен, работы не принимаются.
	TenantStopped TenantExecutionState = iota

	// TenantRunning - планировщик принимает и выполняет работы.
	TenantRunning

	// TenantStopping - новые работы не принимаются, идёт drain.
	TenantStopping
)

// String возвращает строковое представление TenantExecutionState.
func (s TenantExecutionState) String() string {
	switch s {
	case TenantRunning:
		return "RUNNING"
	case TenantStopping:
		return "STOPPING"
	default:
		return "STOPPED"
	}
}
