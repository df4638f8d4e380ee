package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shaiso/automata-engine/internal/domain"
)

// RecoveryReport - итог восстановления тенанта.
type RecoveryReport struct {
	TenantID    int64
	FlowNodes   int
	Interrupted int
	Reset       int
	Failed      []int64
	Duration    time.Duration
}

// RecoverTenant восстанавливает тенант после рестарта.
//
// Для каждого нетерминального flow node с EXECUTING или FAILED
// connector'ами: EXECUTING переводятся в FAILED, затем все FAILED
// сбрасываются в TO_RE_EXECUTE. Ошибки по отдельным flow nodes
// собираются в errors.Join и попадают в отчёт, обработка остальных
// продолжается.
func (c *Coordinator) RecoverTenant(ctx context.Context) (RecoveryReport, error) {
	report := RecoveryReport{TenantID: c.tenantID}
	if c.nodes == nil {
		return report, ErrNoFlowNodeLister
	}

	start := time.Now()

	nodes, err := c.listFlowNodes(ctx)
	if err != nil {
		return report, domain.ActivityExecution(err, "list flow nodes to recover for tenant %d", c.tenantID)
	}
	report.FlowNodes = len(nodes)

	var (
		mu   sync.Mutex
		errs []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for _, flowNodeID := range nodes {
		g.Go(func() error {
			interrupted, reset, err := c.recoverFlowNode(gctx, flowNodeID)

			mu.Lock()
			defer mu.Unlock()
			report.Interrupted += interrupted
			report.Reset += reset
			if err != nil {
				report.Failed = append(report.Failed, flowNodeID)
				errs = append(errs, fmt.Errorf("flow node %d: %w", flowNodeID, err))
			}
			// Ошибка одного flow node не отменяет остальные
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(start)

	if len(errs) > 0 {
		c.logger.Error("tenant recovery finished with failures",
			"flow_nodes", report.FlowNodes,
			"failed", len(report.Failed),
			"duration", report.Duration,
		)
		return report, errors.Join(errs...)
	}

	c.logger.Info("tenant recovery finished",
		"flow_nodes", report.FlowNodes,
		"interrupted", report.Interrupted,
		"reset", report.Reset,
		"duration", report.Duration,
	)
	return report, nil
}

func (c *Coordinator) recoverFlowNode(ctx context.Context, flowNodeID int64) (int, int, error) {
	interrupted, err := c.MarkInterrupted(ctx, flowNodeID)
	if err != nil {
		return 0, 0, err
	}
	reset, err := c.ResetFailedConnectors(ctx, flowNodeID, domain.ConnectorToReExecute)
	if err != nil {
		return interrupted, 0, err
	}
	return interrupted, reset, nil
}

func (c *Coordinator) listFlowNodes(ctx context.Context) ([]int64, error) {
	var all []int64
	for offset := 0; ; offset += c.pageSize {
		page, err := c.nodes.ListFlowNodesToRecover(ctx, offset, c.pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < c.pageSize {
			return all, nil
		}
	}
}
