package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/automata-engine/internal/api"
	"github.com/shaiso/automata-engine/internal/config"
	"github.com/shaiso/automata-engine/internal/domain"
	"github.com/shaiso/automata-engine/internal/lock"
	"github.com/shaiso/automata-engine/internal/mq"
	"github.com/shaiso/automata-engine/internal/recovery"
	"github.com/shaiso/automata-engine/internal/repo"
	"github.com/shaiso/automata-engine/internal/scheduler"
	"github.com/shaiso/automata-engine/internal/tenant"
	"github.com/shaiso/automata-engine/internal/txn"
	"github.com/shaiso/automata-engine/internal/worker"
)

// tenantStore - хранилище connector'ов одного tenant'а вместе с транзакциями.
type tenantStore struct {
	tx         txn.TransactionContext
	connectors recovery.ConnectorStore
	nodes      recovery.FlowNodeLister
}

// Engine - собранный по конфигурации движок.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	pool       *pgxpool.Pool
	guard      *lock.ServeGuard // nil при store=memory
	locks      lock.Locker
	manager    *tenant.Manager
	schedulers map[int64]*scheduler.WorkScheduler

	// memory - хранилища tenant'ов при store=memory.
	memory map[int64]*repo.MemoryConnectorStore
}

// NewEngine создаёт хранилище, сервис блокировок и сервисы tenant'ов.
// Планировщики создаются остановленными, запускает их Serve.
func NewEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		cfg:        cfg,
		logger:     logger,
		manager:    tenant.NewManager(logger),
		schedulers: make(map[int64]*scheduler.WorkScheduler),
		memory:     make(map[int64]*repo.MemoryConnectorStore),
	}

	var txm *repo.TxManager
	if cfg.Store == config.BackendPostgres {
		pool, err := repo.NewPool(ctx, repo.PoolConfig{DSN: cfg.DB.URL, MaxConns: cfg.DB.MaxConns})
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		e.pool = pool
		e.guard = lock.NewServeGuard(pool)
		txm = repo.NewTxManager(pool, pgx.TxIsoLevel(cfg.DB.IsoLevel))
		logger.Info("database connected")
	}

	e.locks = e.newLocker()

	jobs := map[int64][]domain.Job{}
	if cfg.JobsFile != "" {
		loaded, err := config.LoadJobs(cfg.JobsFile)
		if err != nil {
			e.Close()
			return nil, err
		}
		jobs = loaded
	}

	served := make(map[int64]bool, len(cfg.Tenants))
	for _, tenantID := range cfg.Tenants {
		served[tenantID] = true

		store := e.newTenantStore(tenantID, txm)
		if err := e.addTenant(tenantID, store, jobs[tenantID]); err != nil {
			e.Close()
			return nil, fmt.Errorf("tenant %d: %w", tenantID, err)
		}
	}

	for tenantID := range jobs {
		if !served[tenantID] {
			logger.Warn("jobs for tenant not served by this process ignored", "tenant_id", tenantID)
		}
	}

	return e, nil
}

// newLocker создаёт сервис блокировок по lock.backend.
func (e *Engine) newLocker() lock.Locker {
	registry := lock.NewRegistry(lock.Config{
		DefaultTimeout: e.cfg.Lock.DefaultTimeout,
		Logger:         e.logger,
	})
	if e.cfg.Lock.Backend != config.BackendPostgres {
		return registry
	}
	return lock.NewPGLocker(lock.PGConfig{
		Pool:         e.pool,
		Local:        registry,
		PollInterval: e.cfg.Lock.PollInterval,
		Logger:       e.logger,
	})
}

// newTenantStore выбирает хранилище connector'ов tenant'а.
func (e *Engine) newTenantStore(tenantID int64, txm *repo.TxManager) tenantStore {
	if txm != nil {
		r := repo.NewConnectorRepo(e.pool, tenantID)
		return tenantStore{tx: txm, connectors: r, nodes: r}
	}

	s := repo.NewMemoryConnectorStore()
	e.memory[tenantID] = s
	return tenantStore{tx: s, connectors: s, nodes: s}
}

// addTenant собирает runner, координатор и планировщик tenant'а.
func (e *Engine) addTenant(tenantID int64, store tenantStore, jobs []domain.Job) error {
	policy := e.cfg.Retry
	runner, err := txn.NewRunner(txn.Config{
		Tx:     store.tx,
		Policy: &policy,
		Logger: e.logger,
	})
	if err != nil {
		return err
	}

	coord, err := recovery.NewCoordinator(recovery.Config{
		TenantID:    tenantID,
		Locks:       e.locks,
		Store:       store.connectors,
		Runner:      runner,
		Nodes:       store.nodes,
		LockTimeout: e.cfg.Lock.ResetTimeout,
		Concurrency: e.cfg.Recovery.Concurrency,
		PageSize:    e.cfg.Recovery.PageSize,
		Logger:      e.logger,
	})
	if err != nil {
		return err
	}

	// Координатор открывает собственную транзакцию.
	registry := scheduler.NewRegistry()
	registry.RegisterManaged(domain.WorkTypeConnectorRetry, scheduler.ConnectorRetryHandler(coord))

	sched := scheduler.New(scheduler.Config{
		TenantID:     tenantID,
		Runner:       runner,
		Registry:     registry,
		Workers:      e.cfg.Scheduler.Workers,
		QueueSize:    e.cfg.Scheduler.QueueSize,
		TickInterval: e.cfg.Scheduler.TickInterval,
		Logger:       e.logger,
	})
	for _, job := range jobs {
		if err := sched.AddJob(job); err != nil {
			return err
		}
	}

	if err := e.manager.Register(tenantID, tenant.Service{Scheduler: sched, Recovery: coord}); err != nil {
		return err
	}
	e.schedulers[tenantID] = sched
	return nil
}

// Manager возвращает менеджер tenant'ов.
func (e *Engine) Manager() *tenant.Manager {
	return e.manager
}

// MemoryStore возвращает хранилище tenant'а при store=memory.
func (e *Engine) MemoryStore(tenantID int64) (*repo.MemoryConnectorStore, bool) {
	s, ok := e.memory[tenantID]
	return s, ok
}

// Recover восстанавливает указанные tenant'ы (все, если список пуст)
// без запуска планировщиков.
//
// При store=postgres tenant'ы сначала захватываются монопольно: если
// какой-то из них обслуживает serve, возвращается ErrTenantRunning.
func (e *Engine) Recover(ctx context.Context, tenantIDs []int64) ([]recovery.RecoveryReport, error) {
	if len(tenantIDs) == 0 {
		tenantIDs = e.manager.Tenants()
	}

	if e.guard != nil {
		if err := e.guard.Exclusive(ctx, tenantIDs); err != nil {
			if errors.Is(err, lock.ErrTenantServed) {
				return nil, fmt.Errorf("%w: %w", tenant.ErrTenantRunning, err)
			}
			return nil, err
		}
		defer e.guard.Close()
	}

	var errs []error
	reports := make([]recovery.RecoveryReport, 0, len(tenantIDs))
	for _, tenantID := range tenantIDs {
		report, err := e.manager.Recover(ctx, tenantID)
		if err != nil {
			errs = append(errs, err)
		}
		report.TenantID = tenantID
		reports = append(reports, report)
	}
	return reports, errors.Join(errs...)
}

// Serve восстанавливает и запускает tenant'ов, consumer'ы RabbitMQ
// и HTTP сервер, затем ждёт отмены ctx и останавливает всё.
func (e *Engine) Serve(ctx context.Context) error {
	if e.guard != nil {
		if err := e.guard.Share(ctx, e.manager.Tenants()); err != nil {
			return fmt.Errorf("mark tenants served: %w", err)
		}
		defer e.guard.Close()
	}

	if err := e.manager.Boot(ctx); err != nil {
		// Tenant'ы без ошибок уже запущены.
		e.logger.Error("boot finished with errors", "error", err)
	}

	var w *worker.Worker
	if e.cfg.RabbitMQ.URL != "" {
		conn, err := mq.NewConnection(mq.ConnectionConfig{URL: e.cfg.RabbitMQ.URL, Logger: e.logger})
		if err != nil {
			e.logger.Warn("RabbitMQ not available, running without consumers", "error", err)
		} else {
			defer conn.Close()
			if err := mq.SetupTopology(ctx, conn); err != nil {
				e.logger.Warn("failed to setup topology", "error", err)
			}

			w = worker.New(worker.Config{
				Conn:         conn,
				Tenants:      e.manager,
				Prefetch:     e.cfg.RabbitMQ.Prefetch,
				PauseTimeout: e.cfg.Scheduler.StopTimeout,
				Logger:       e.logger,
			})
			if err := w.Start(ctx); err != nil {
				e.logger.Error("failed to start worker", "error", err)
				w = nil
			}
		}
	}

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(e.cfg.HTTP.Port),
		Handler:           e.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		e.logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
		e.logger.Error("http server error", "error", err)
	}

	if w != nil {
		w.Stop()
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), e.cfg.Scheduler.StopTimeout)
	defer cancel()

	if shutdownErr := e.manager.Shutdown(stopCtx); shutdownErr != nil {
		e.logger.Error("tenant shutdown finished with errors", "error", shutdownErr)
		err = errors.Join(err, shutdownErr)
	}
	if shutdownErr := srv.Shutdown(stopCtx); shutdownErr != nil {
		err = errors.Join(err, shutdownErr)
	}
	return err
}

// TenantStatus - состояние tenant'а.
type TenantStatus struct {
	TenantID int64  `json:"tenant_id"`
	State    string `json:"state"`
	Jobs     int    `json:"jobs"`
}

// Status возвращает состояния tenant'ов, упорядоченные по id.
func (e *Engine) Status() []TenantStatus {
	out := make([]TenantStatus, 0, len(e.schedulers))
	for tenantID, s := range e.schedulers {
		out = append(out, TenantStatus{
			TenantID: tenantID,
			State:    s.State().String(),
			Jobs:     len(s.Jobs()),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out
}

// Handler возвращает HTTP mux: /healthz, /metrics и административный API.
func (e *Engine) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	api.NewHandler(api.Config{
		Tenants:      e.manager,
		PauseTimeout: e.cfg.Scheduler.StopTimeout,
		Logger:       e.logger,
	}).RegisterRoutes(mux)
	return mux
}

// Close освобождает соединения с БД.
func (e *Engine) Close() {
	if e.pool != nil {
		e.pool.Close()
	}
}
