package domain

import (
	"fmt"
	"math"
	"time"
)

// DefaultMaxDelay - потолок задержки между попытками, если MaxDelay не задан.
const DefaultMaxDelay = 30 * time.Second

// RetryPolicy - политика повторных попыток транзакции при конфликте.
//
// MaxAttempts = 0 - ровно одна попытка без retry.
// BackoffFactor = 1.0 - постоянная задержка.
type RetryPolicy struct {
	// MaxAttempts - количество повторов после первой попытки.
	MaxAttempts int `json:"max_attempts" mapstructure:"max_attempts"`

	// InitialDelay - задержка перед первым повтором.
	InitialDelay time.Duration `json:"initial_delay" mapstructure:"initial_delay"`

	// BackoffFactor - множитель задержки, >= 1.0.
	BackoffFactor float64 `json:"backoff_factor" mapstructure:"backoff_factor"`

	// MaxDelay - верхняя граница задержки (default: 30s).
	MaxDelay time.Duration `json:"max_delay" mapstructure:"max_delay"`
}

// DefaultRetryPolicy возвращает политику по умолчанию.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   10,
		InitialDelay:  10 * time.Millisecond,
		BackoffFactor: 2.0,
		MaxDelay:      DefaultMaxDelay,
	}
}

// Validate проверяет диапазоны значений.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must be >= 0, got %d", p.MaxAttempts)
	}
	if p.InitialDelay < 0 {
		return fmt.Errorf("initial_delay must be >= 0, got %s", p.InitialDelay)
	}
	if math.IsNaN(p.BackoffFactor) || math.IsInf(p.BackoffFactor, 0) || p.BackoffFactor < 1.0 {
		return fmt.Errorf("backoff_factor must be >= 1.0, got %v", p.BackoffFactor)
	}
	if p.MaxDelay < 0 {
		return fmt.Errorf("max_delay must be >= 0, got %s", p.MaxDelay)
	}
	return nil
}

// Ceiling возвращает эффективный потолок задержки.
func (p RetryPolicy) Ceiling() time.Duration {
	if p.MaxDelay <= 0 {
		return DefaultMaxDelay
	}
	return p.MaxDelay
}

// FirstDelay возвращает задержку перед первым повтором, не выше Ceiling().
func (p RetryPolicy) FirstDelay() time.Duration {
	return min(p.InitialDelay, p.Ceiling())
}

// NextDelay вычисляет задержку после current.
// Результат не превышает Ceiling() и не переполняется.
func (p RetryPolicy) NextDelay(current time.Duration) time.Duration {
	ceiling := p.Ceiling()
	next := float64(current) * p.BackoffFactor
	if next >= float64(ceiling) {
		return ceiling
	}
	return time.Duration(next)
}
