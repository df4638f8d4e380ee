package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/shaiso/automata-engine/internal/domain"
	"github.com/shaiso/automata-engine/internal/recovery"
	"github.com/shaiso/automata-engine/internal/tenant"
)

const defaultPauseTimeout = 30 * time.Second

// Tenants - операции над tenant'ами процесса.
//
// Реализация: tenant.Manager.
type Tenants interface {
	Tenants() []int64
	Lifecycle(tenantID int64) (tenant.Lifecycle, error)
	Pause(ctx context.Context, tenantID int64) error
	Resume(ctx context.Context, tenantID int64) error
	Recover(ctx context.Context, tenantID int64) (recovery.RecoveryReport, error)
	Submit(ctx context.Context, item domain.WorkItem) error
}

// Handler - главный обработчик API с зависимостями.
type Handler struct {
	tenants      Tenants
	pauseTimeout time.Duration
	logger       *slog.Logger
}

// Config - конфигурация для создания Handler.
type Config struct {
	Tenants Tenants

	// PauseTimeout - ожидание drain при pause (default: 30s).
	PauseTimeout time.Duration

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pauseTimeout := cfg.PauseTimeout
	if pauseTimeout <= 0 {
		pauseTimeout = defaultPauseTimeout
	}

	return &Handler{
		tenants:      cfg.Tenants,
		pauseTimeout: pauseTimeout,
		logger:       logger,
	}
}
