package worker

import "errors"

// Ошибки воркера.
var (
	// ErrUnknownMessageType - сообщение неожиданного типа в очереди.
	ErrUnknownMessageType = errors.New("unknown message type")

	// ErrWorkerStopped - воркер остановлен.
	ErrWorkerStopped = errors.New("worker stopped")
)
