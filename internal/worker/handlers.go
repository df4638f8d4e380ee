package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shaiso/automata-engine/internal/domain"
	"github.com/shaiso/automata-engine/internal/mq"
	"github.com/shaiso/automata-engine/internal/scheduler"
	"github.com/shaiso/automata-engine/internal/telemetry"
	"github.com/shaiso/automata-engine/internal/tenant"
)

// handleTenantCommand обрабатывает tenant.pause / tenant.resume.
func (w *Worker) handleTenantCommand(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.TenantCommandPayload](&delivery.Message)
	if err != nil {
		return mq.Permanent(fmt.Errorf("parse tenant command: %w", err))
	}

	logger := telemetry.WithTenantID(w.logger, payload.TenantID)

	switch delivery.Message.Type {
	case mq.MessageTypeTenantPause:
		logger.Info("tenant pause requested", "reason", payload.Reason)

		pauseCtx, cancel := context.WithTimeout(ctx, w.pauseTimeout)
		defer cancel()
		err = w.tenants.Pause(pauseCtx, payload.TenantID)

	case mq.MessageTypeTenantResume:
		logger.Info("tenant resume requested", "reason", payload.Reason)
		err = w.tenants.Resume(ctx, payload.TenantID)

	default:
		return mq.Permanent(fmt.Errorf("%w: %s", ErrUnknownMessageType, delivery.Message.Type))
	}

	if errors.Is(err, tenant.ErrTenantNotFound) {
		// Tenant обслуживается другим процессом
		logger.Debug("tenant not served by this node, ignoring command")
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		// Планировщик уже остановлен с отменой работы, повтор не нужен
		logger.Warn("tenant pause timed out, in-flight work was cancelled")
		return nil
	}
	return err
}

// handleWorkReady передаёт work item планировщику tenant'а.
func (w *Worker) handleWorkReady(ctx context.Context, delivery *mq.Delivery) error {
	if delivery.Message.Type != mq.MessageTypeWorkReady {
		return mq.Permanent(fmt.Errorf("%w: %s", ErrUnknownMessageType, delivery.Message.Type))
	}

	item, err := mq.ParsePayload[domain.WorkItem](&delivery.Message)
	if err != nil {
		return mq.Permanent(fmt.Errorf("parse work item: %w", err))
	}

	err = w.tenants.Submit(ctx, item)
	switch {
	case err == nil:
		return nil

	case errors.Is(err, scheduler.ErrSchedulerStopped), errors.Is(err, scheduler.ErrQueueFull):
		// Tenant на паузе или перегружен: вернуть в очередь после паузы
		w.logger.Debug("work item deferred",
			"work_item_id", item.ID,
			"tenant_id", item.TenantID,
			"reason", err,
		)
		w.wait(ctx)
		return err

	case errors.Is(err, tenant.ErrTenantNotFound),
		errors.Is(err, tenant.ErrInvalidService),
		errors.Is(err, scheduler.ErrUnknownWorkType),
		errors.Is(err, scheduler.ErrTenantMismatch):
		return mq.Permanent(err)

	default:
		return err
	}
}

// wait выдерживает паузу перед requeue.
func (w *Worker) wait(ctx context.Context) {
	timer := time.NewTimer(w.requeueDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
