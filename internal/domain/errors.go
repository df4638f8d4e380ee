package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind - класс ошибки ядра.
type ErrorKind string

const (
	// KindConflict - оптимистичный конфликт, операция может пройти при повторе.
	KindConflict ErrorKind = "CONFLICT"

	// KindLockTimeout - блокировка не получена за отведённое время.
	KindLockTimeout ErrorKind = "LOCK_TIMEOUT"

	// KindReentrantLock - повторный захват того же ключа тем же исполнителем.
	// Ошибка программиста, не повторяется.
	KindReentrantLock ErrorKind = "REENTRANT_LOCK"

	// KindActivityExecution - нарушение бизнес-правила восстановления.
	KindActivityExecution ErrorKind = "ACTIVITY_EXECUTION"
)

// Error - ошибка ядра с явным признаком Retryable.
//
// Runner решает, повторять ли транзакцию, только по флагу Retryable.
type Error struct {
	Kind      ErrorKind
	Retryable bool
	Message   string
	Err       error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Conflict оборачивает cause в повторяемый конфликт.
func Conflict(cause error) error {
	return &Error{Kind: KindConflict, Retryable: true, Err: cause}
}

// LockTimeout - блокировка key не получена за timeout.
// Retryable = false: решение о повторе принимает вызывающий код.
func LockTimeout(tenantID int64, key LockKey, timeout time.Duration) error {
	return &Error{
		Kind:    KindLockTimeout,
		Message: fmt.Sprintf("tenant %d: lock %s not acquired within %s", tenantID, key, timeout),
	}
}

// Reentrant - повторный захват key тем же исполнителем.
func Reentrant(tenantID int64, key LockKey, execution string) error {
	return &Error{
		Kind:    KindReentrantLock,
		Message: fmt.Sprintf("tenant %d: lock %s already held by execution %s", tenantID, key, execution),
	}
}

// ActivityExecution - ошибка восстановления flow node.
func ActivityExecution(cause error, format string, args ...any) error {
	return &Error{
		Kind:    KindActivityExecution,
		Message: fmt.Sprintf(format, args...),
		Err:     cause,
	}
}

// IsRetryable проверяет флаг Retryable ближайшей *Error в цепочке.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// KindOf возвращает Kind ближайшей *Error в цепочке.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsKind проверяет Kind ближайшей *Error в цепочке.
func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Cause возвращает исходную причину ошибки e (без обёртки).
// Если причины нет, возвращает саму ошибку.
func Cause(err error) error {
	var e *Error
	if errors.As(err, &e) && e.Err != nil {
		return e.Err
	}
	return err
}
