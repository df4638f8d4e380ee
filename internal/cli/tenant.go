package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shaiso/automata-engine/internal/config"
	"github.com/shaiso/automata-engine/internal/domain"
	"github.com/shaiso/automata-engine/internal/mq"
)

// NewTenantCmd создаёт группу команд обслуживания tenant'ов.
//
// Команды публикуются в fanout exchange и выполняются всеми процессами,
// обслуживающими tenant'а.
func NewTenantCmd(configFn ConfigFunc, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Pause or resume tenants on all engine processes",
	}

	cmd.AddCommand(
		newTenantCommandCmd("pause", "Pause tenant work", configFn, outputFn,
			func(ctx context.Context, p *mq.Publisher, tenantID int64, reason string) error {
				return p.PublishTenantPause(ctx, tenantID, reason)
			}),
		newTenantCommandCmd("resume", "Resume tenant work", configFn, outputFn,
			func(ctx context.Context, p *mq.Publisher, tenantID int64, reason string) error {
				return p.PublishTenantResume(ctx, tenantID, reason)
			}),
	)

	return cmd
}

func newTenantCommandCmd(
	name, short string,
	configFn ConfigFunc,
	outputFn func() *Output,
	publish func(ctx context.Context, p *mq.Publisher, tenantID int64, reason string) error,
) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   name + " TENANT_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := parseTenantID(args[0])
			if err != nil {
				return err
			}

			cfg, err := configFn()
			if err != nil {
				return err
			}

			ctx := commandContext(cmd)
			err = withPublisher(cfg, func(p *mq.Publisher) error {
				return publish(ctx, p, tenantID, reason)
			})
			if err != nil {
				return err
			}

			outputFn().Success(fmt.Sprintf("Tenant %d: %s sent", tenantID, name))
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded with the command")

	return cmd
}

// NewWorkCmd создаёт группу команд для work items.
func NewWorkCmd(configFn ConfigFunc, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "work",
		Short: "Publish work items",
	}
	cmd.AddCommand(newWorkRetryCmd(configFn, outputFn))
	return cmd
}

func newWorkRetryCmd(configFn ConfigFunc, outputFn func() *Output) *cobra.Command {
	var tenantID int64
	var target string

	cmd := &cobra.Command{
		Use:   "retry FLOW_NODE_ID",
		Short: "Reset failed connectors of a flow node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flowNodeID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || flowNodeID <= 0 {
				return fmt.Errorf("invalid flow node id %q", args[0])
			}
			state, ok := domain.ParseConnectorState(target)
			if !ok || !state.IsResetTarget() {
				return fmt.Errorf("invalid target %q", target)
			}
			if tenantID <= 0 {
				return fmt.Errorf("--tenant is required")
			}

			cfg, err := configFn()
			if err != nil {
				return err
			}

			item := domain.NewWorkItem(tenantID, domain.WorkTypeConnectorRetry, flowNodeID,
				map[string]any{"target": string(state)})

			ctx := commandContext(cmd)
			err = withPublisher(cfg, func(p *mq.Publisher) error {
				return p.PublishWorkReady(ctx, item)
			})
			if err != nil {
				return err
			}

			out := outputFn()
			out.Success(fmt.Sprintf("Work item published: %s", item.ID))
			out.Print(
				[]string{"ID", "TENANT", "TYPE", "FLOW_NODE", "TARGET"},
				[][]string{{
					item.ID.String(), strconv.FormatInt(tenantID, 10), item.Type,
					strconv.FormatInt(flowNodeID, 10), string(state),
				}},
				item,
			)
			return nil
		},
	}

	cmd.Flags().Int64Var(&tenantID, "tenant", 0, "Tenant ID (required)")
	cmd.Flags().StringVar(&target, "target", string(domain.ConnectorToReExecute), "Target state: TO_RE_EXECUTE, SKIPPED or CANCELLED")
	cmd.MarkFlagRequired("tenant")

	return cmd
}

// withPublisher подключается к RabbitMQ, объявляет топологию и вызывает fn.
func withPublisher(cfg *config.Config, fn func(p *mq.Publisher) error) error {
	logger := newLogger(cfg, os.Stderr)

	conn, err := mq.NewConnection(mq.ConnectionConfig{URL: cfg.RabbitMQ.URL, Logger: logger})
	if err != nil {
		return fmt.Errorf("connect rabbitmq: %w", err)
	}
	defer conn.Close()

	if err := mq.SetupTopology(context.Background(), conn); err != nil {
		return fmt.Errorf("setup topology: %w", err)
	}
	return fn(mq.NewPublisher(conn, logger))
}

func parseTenantID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid tenant id %q", s)
	}
	return id, nil
}
