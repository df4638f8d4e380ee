package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// NewRecoverCmd создаёт команду recover.
//
// Восстановление выполняется без запуска планировщиков. Имеет смысл
// при store=postgres: memory-хранилище нового процесса пусто.
func NewRecoverCmd(configFn ConfigFunc, outputFn func() *Output) *cobra.Command {
	var tenants []int64

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Recover interrupted and failed connectors once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFn()
			if err != nil {
				return err
			}
			out := outputFn()
			logger := newLogger(cfg, os.Stderr)

			ctx := commandContext(cmd)
			engine, err := NewEngine(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer engine.Close()

			reports, recoverErr := engine.Recover(ctx, tenants)

			headers := []string{"TENANT", "FLOW_NODES", "INTERRUPTED", "RESET", "FAILED", "DURATION"}
			rows := make([][]string, len(reports))
			for i, r := range reports {
				rows[i] = []string{
					strconv.FormatInt(r.TenantID, 10),
					strconv.Itoa(r.FlowNodes),
					strconv.Itoa(r.Interrupted),
					strconv.Itoa(r.Reset),
					formatIDs(r.Failed),
					r.Duration.String(),
				}
			}
			out.Print(headers, rows, reports)

			if recoverErr != nil {
				return fmt.Errorf("recovery finished with errors: %w", recoverErr)
			}
			out.Success("Recovery completed")
			return nil
		},
	}

	cmd.Flags().Int64SliceVar(&tenants, "tenant", nil, "Tenant to recover (repeatable, default: all configured)")

	return cmd
}
