package tenant

import "errors"

// Ошибки управления tenant'ами.
var (
	// ErrTenantNotFound - tenant не зарегистрирован.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrTenantExists - tenant уже зарегистрирован.
	ErrTenantExists = errors.New("tenant already registered")

	// ErrTenantRunning - операция требует остановленного tenant'а.
	ErrTenantRunning = errors.New("tenant is not stopped")

	// ErrInvalidService - Service без планировщика.
	ErrInvalidService = errors.New("invalid tenant service")
)
