package txn

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/automata-engine/internal/domain"
	"github.com/shaiso/automata-engine/internal/telemetry"
)

// Runner выполняет работу в транзакции и повторяет её при конфликтах.
type Runner struct {
	tx     TransactionContext
	policy domain.RetryPolicy
	logger *slog.Logger
}

// Config - конфигурация Runner.
type Config struct {
	// Tx - граница транзакции.
	Tx TransactionContext

	// Policy - политика повторов (опционально; если nil - DefaultRetryPolicy()).
	Policy *domain.RetryPolicy

	// Logger
	Logger *slog.Logger
}

// NewRunner создаёт Runner. Возвращает ошибку, если политика некорректна.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Tx == nil {
		return nil, fmt.Errorf("transaction context is required")
	}

	policy := domain.DefaultRetryPolicy()
	if cfg.Policy != nil {
		policy = *cfg.Policy
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		tx:     cfg.Tx,
		policy: policy,
		logger: logger,
	}, nil
}

// Policy возвращает политику повторов.
func (r *Runner) Policy() domain.RetryPolicy {
	return r.policy
}

// Do выполняет work в транзакции с повторами.
func (r *Runner) Do(ctx context.Context, work func(ctx context.Context) error) error {
	_, err := Run(ctx, r, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, work(ctx)
	})
	return err
}

// Run выполняет work в транзакции и возвращает её результат.
//
// Каждая попытка - отдельная транзакция. При retryable-конфликте
// транзакция откатывается, runner ждёт delay и повторяет, умножая delay
// на BackoffFactor (не выше MaxDelay). После MaxAttempts повторов
// возвращается исходная причина последнего конфликта, без обёртки.
// Любая другая ошибка откатывает транзакцию и возвращается сразу.
func Run[T any](ctx context.Context, r *Runner, work func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	delay := r.policy.FirstDelay()

	for attempt := 0; ; attempt++ {
		telemetry.TxAttemptsTotal.Inc()

		result, err := runAttempt(ctx, r, work)
		if err == nil {
			return result, nil
		}

		if !domain.IsRetryable(err) {
			return zero, err
		}

		telemetry.TxConflictsTotal.Inc()

		if attempt >= r.policy.MaxAttempts {
			telemetry.TxExhaustedTotal.Inc()
			r.logger.Warn("transaction retries exhausted",
				"attempts", attempt+1,
				"error", err,
			)
			return zero, domain.Cause(err)
		}

		r.logger.Debug("retrying transaction after conflict",
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)

		r.sleep(ctx, delay)
		delay = r.policy.NextDelay(delay)
	}
}

// runAttempt выполняет одну попытку: Begin → work → Complete.
func runAttempt[T any](ctx context.Context, r *Runner, work func(ctx context.Context) (T, error)) (result T, err error) {
	txCtx, err := r.tx.Begin(ctx)
	if err != nil {
		return result, fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			r.rollback(txCtx, fmt.Errorf("panic: %v", p))
			panic(p)
		}
	}()

	result, err = work(txCtx)
	if err != nil {
		r.rollback(txCtx, err)
		var zero T
		return zero, err
	}

	if err := r.tx.Complete(txCtx); err != nil {
		var zero T
		return zero, fmt.Errorf("complete transaction: %w", err)
	}
	return result, nil
}

// rollback помечает транзакцию rollback-only и завершает её.
// Ошибки отката логируются: исходная ошибка работы важнее.
func (r *Runner) rollback(ctx context.Context, cause error) {
	if err := r.tx.SetRollbackOnly(ctx); err != nil {
		r.logger.Error("failed to mark transaction rollback-only", "error", err, "cause", cause)
	}
	if err := r.tx.Complete(ctx); err != nil {
		r.logger.Error("failed to roll back transaction", "error", err, "cause", cause)
	}
}

// sleep ждёт d. Отмена контекста прерывает ожидание, но задержка
// считается выполненной: runner не отменяется извне.
func (r *Runner) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		r.logger.Warn("retry backoff interrupted, continuing",
			"delay", d,
			"error", ctx.Err(),
		)
	}
}
