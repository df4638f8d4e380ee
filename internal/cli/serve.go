package cli

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/automata-engine/internal/config"
	"github.com/shaiso/automata-engine/internal/telemetry"
)

// ConfigFunc читает конфигурацию после парсинга флагов.
type ConfigFunc func() (*config.Config, error)

// NewServeCmd создаёт команду serve.
func NewServeCmd(configFn ConfigFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Recover and run tenants until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFn()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, os.Stdout)
			logger.Info("starting automata-engine",
				"store", cfg.Store,
				"lock_backend", cfg.Lock.Backend,
				"tenants", cfg.Tenants,
			)

			ctx := commandContext(cmd)
			engine, err := NewEngine(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer engine.Close()

			if err := engine.Serve(ctx); err != nil {
				return err
			}
			logger.Info("automata-engine stopped")
			return nil
		},
	}
}

// newLogger создаёт логгер по секции log конфигурации.
func newLogger(cfg *config.Config, out io.Writer) *slog.Logger {
	return telemetry.NewLogger(telemetry.ParseLevel(cfg.Log.Level), cfg.Log.Format, out)
}

// commandContext возвращает контекст команды (Background вне Execute).
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
