package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shaiso/automata-engine/internal/domain"
	"github.com/shaiso/automata-engine/internal/scheduler"
	"github.com/shaiso/automata-engine/internal/tenant"
)

// ErrorCode - код ошибки API.
type ErrorCode string

const (
	ErrCodeBadRequest    ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeConflict      ErrorCode = "CONFLICT"
	ErrCodeInvalidState  ErrorCode = "INVALID_STATE"
	ErrCodeUnavailable   ErrorCode = "UNAVAILABLE"
	ErrCodeTimeout       ErrorCode = "TIMEOUT"
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorResponse - структура ответа с ошибкой.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail - детали ошибки.
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// DataResponse - структура успешного ответа.
type DataResponse struct {
	Data any `json:"data"`
}

// ListResponse - структура ответа со списком.
type ListResponse struct {
	Data  any `json:"data"`
	Total int `json:"total,omitempty"`
}

// JSON отправляет JSON ответ.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Success отправляет успешный ответ с данными.
func Success(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, DataResponse{Data: data})
}

// Accepted отправляет ответ о принятии работы (202).
func Accepted(w http.ResponseWriter, data any) {
	JSON(w, http.StatusAccepted, DataResponse{Data: data})
}

// List отправляет ответ со списком.
func List(w http.ResponseWriter, data any, total int) {
	JSON(w, http.StatusOK, ListResponse{Data: data, Total: total})
}

// Error отправляет ответ с ошибкой.
func Error(w http.ResponseWriter, status int, code ErrorCode, message string) {
	JSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// BadRequest отправляет ошибку 400.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// NotFound отправляет ошибку 404.
func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// InternalError отправляет ошибку 500.
func InternalError(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
}

// HandleError преобразует ошибку tenant'а или планировщика в HTTP ответ.
// Возвращает false, если err == nil.
func HandleError(w http.ResponseWriter, logger *slog.Logger, err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, tenant.ErrTenantNotFound):
		NotFound(w, err.Error())
	case errors.Is(err, scheduler.ErrUnknownWorkType),
		errors.Is(err, scheduler.ErrInvalidWorkItem),
		errors.Is(err, scheduler.ErrTenantMismatch):
		BadRequest(w, err.Error())
	case errors.Is(err, scheduler.ErrSchedulerStopped),
		errors.Is(err, scheduler.ErrSchedulerStopping),
		errors.Is(err, tenant.ErrTenantRunning),
		domain.IsKind(err, domain.KindLockTimeout),
		domain.IsKind(err, domain.KindReentrantLock):
		Error(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, scheduler.ErrQueueFull):
		Error(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		Error(w, http.StatusGatewayTimeout, ErrCodeTimeout, err.Error())
	case domain.IsKind(err, domain.KindActivityExecution):
		Error(w, http.StatusUnprocessableEntity, ErrCodeInvalidState, err.Error())
	default:
		InternalError(w, logger, err)
	}
	return true
}
