package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/automata-engine/internal/domain"
	"github.com/shaiso/automata-engine/internal/mq"
)

// Default configuration values.
const (
	defaultPrefetch     = 5
	defaultRequeueDelay = time.Second
	defaultPauseTimeout = 30 * time.Second
)

// Tenants - операции над tenant'ами, нужные воркеру.
//
// Реализация: tenant.Manager.
type Tenants interface {
	Pause(ctx context.Context, tenantID int64) error
	Resume(ctx context.Context, tenantID int64) error
	Submit(ctx context.Context, item domain.WorkItem) error
}

// Worker потребляет команды обслуживания и work items из RabbitMQ.
type Worker struct {
	conn    *mq.Connection
	tenants Tenants
	nodeID  string

	prefetch     int
	requeueDelay time.Duration
	pauseTimeout time.Duration

	consumers []*mq.Consumer

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config - конфигурация Worker.
type Config struct {
	Conn    *mq.Connection
	Tenants Tenants

	// NodeID - имя процесса для очереди команд (default: случайный UUID).
	NodeID string

	Prefetch     int           // default: 5
	RequeueDelay time.Duration // пауза перед requeue (default: 1s)
	PauseTimeout time.Duration // ожидание drain при pause (default: 30s)

	// Logger
	Logger *slog.Logger
}

// New создаёт Worker.
func New(cfg Config) *Worker {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}

	requeueDelay := cfg.RequeueDelay
	if requeueDelay <= 0 {
		requeueDelay = defaultRequeueDelay
	}

	pauseTimeout := cfg.PauseTimeout
	if pauseTimeout <= 0 {
		pauseTimeout = defaultPauseTimeout
	}

	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		conn:         cfg.Conn,
		tenants:      cfg.Tenants,
		nodeID:       nodeID,
		prefetch:     prefetch,
		requeueDelay: requeueDelay,
		pauseTimeout: pauseTimeout,
		logger:       logger.With("node_id", nodeID),
	}
}

// Start запускает consumer'ы очередей.
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	maintenance := mq.MaintenanceQueue(w.nodeID)

	w.consumers = []*mq.Consumer{
		mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
			Queue:    string(maintenance),
			Handler:  w.handleTenantCommand,
			Prefetch: 1,
			Declare:  mq.DeclareMaintenanceQueue(maintenance),
		}),
		mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueWorkReady),
			Handler:  w.handleWorkReady,
			Prefetch: w.prefetch,
		}),
	}

	w.logger.Info("starting worker", "maintenance_queue", maintenance, "prefetch", w.prefetch)

	for _, c := range w.consumers {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := c.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("consumer error", "error", err)
			}
		}()
	}

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает consumer'ы и ждёт их завершения.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	for _, c := range w.consumers {
		c.Stop()
	}

	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}
