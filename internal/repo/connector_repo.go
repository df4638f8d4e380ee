package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/automata-engine/internal/domain"
)

const connectorColumns = `id, tenant_id, flow_node_instance_id, name, activation_event, state,
	       exception_message, stack_trace, updated_at`

// ConnectorRepo - репозиторий connector instances одного tenant'а.
type ConnectorRepo struct {
	pool     *pgxpool.Pool
	tenantID int64
}

// NewConnectorRepo создаёт ConnectorRepo для tenant'а.
func NewConnectorRepo(pool *pgxpool.Pool, tenantID int64) *ConnectorRepo {
	return &ConnectorRepo{pool: pool, tenantID: tenantID}
}

// Create создаёт connector instance.
func (r *ConnectorRepo) Create(ctx context.Context, c *domain.ConnectorInstance) error {
	var msg, trace *string
	if c.Failure != nil {
		msg = nullString(c.Failure.ExceptionMessage)
		trace = nullString(c.Failure.StackTrace)
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}

	query := `
		INSERT INTO connector_instances (id, tenant_id, flow_node_instance_id, name, activation_event,
		                                 state, exception_message, stack_trace, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := conn(ctx, r.pool).Exec(ctx, query,
		c.ID,
		r.tenantID,
		c.FlowNodeInstanceID,
		c.Name,
		c.ActivationEvent,
		c.State,
		msg,
		trace,
		c.UpdatedAt,
	)
	if err != nil {
		return translate("insert connector instance", err)
	}
	c.TenantID = r.tenantID
	return nil
}

// Get возвращает connector instance вместе с информацией об ошибке.
func (r *ConnectorRepo) Get(ctx context.Context, id int64) (*domain.ConnectorInstance, error) {
	query := `
		SELECT ` + connectorColumns + `
		FROM connector_instances
		WHERE tenant_id = $1 AND id = $2
	`
	c, err := scanConnector(conn(ctx, r.pool).QueryRow(ctx, query, r.tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("connector instance %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, translate("get connector instance", err)
	}
	return c, nil
}

// Update изменяет поля connector instance.
func (r *ConnectorRepo) Update(ctx context.Context, id int64, upd domain.ConnectorUpdate) error {
	sets := []string{"updated_at = $3"}
	args := []any{r.tenantID, id, time.Now()}

	if upd.State != nil {
		args = append(args, *upd.State)
		sets = append(sets, fmt.Sprintf("state = $%d", len(args)))
	}
	if upd.SetFailure {
		var msg, trace *string
		if upd.Failure != nil {
			msg = nullString(upd.Failure.ExceptionMessage)
			trace = nullString(upd.Failure.StackTrace)
		}
		args = append(args, msg)
		sets = append(sets, fmt.Sprintf("exception_message = $%d", len(args)))
		args = append(args, trace)
		sets = append(sets, fmt.Sprintf("stack_trace = $%d", len(args)))
	}

	query := `UPDATE connector_instances SET ` + strings.Join(sets, ", ") + ` WHERE tenant_id = $1 AND id = $2`

	result, err := conn(ctx, r.pool).Exec(ctx, query, args...)
	if err != nil {
		return translate("update connector instance", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("connector instance %d: %w", id, ErrNotFound)
	}
	return nil
}

// ListByFlowNode возвращает connector instances flow node в состоянии state.
// Пустой state - без фильтра по состоянию.
func (r *ConnectorRepo) ListByFlowNode(ctx context.Context, flowNodeID int64, state domain.ConnectorState, offset, limit int) ([]domain.ConnectorInstance, error) {
	query := `
		SELECT ` + connectorColumns + `
		FROM connector_instances
		WHERE tenant_id = $1 AND flow_node_instance_id = $2 AND ($3 = '' OR state = $3)
		ORDER BY id ASC
		OFFSET $4 LIMIT $5
	`
	rows, err := conn(ctx, r.pool).Query(ctx, query, r.tenantID, flowNodeID, string(state), offset, limit)
	if err != nil {
		return nil, translate("list connector instances", err)
	}
	defer rows.Close()

	var result []domain.ConnectorInstance
	for rows.Next() {
		c, err := scanConnector(rows)
		if err != nil {
			return nil, translate("scan connector instance", err)
		}
		result = append(result, *c)
	}
	return result, translate("list connector instances", rows.Err())
}

// ListFlowNodesToRecover возвращает нетерминальные flow nodes, у которых
// остались connector'ы в EXECUTING или FAILED после прошлого запуска.
func (r *ConnectorRepo) ListFlowNodesToRecover(ctx context.Context, offset, limit int) ([]int64, error) {
	query := `
		SELECT DISTINCT c.flow_node_instance_id
		FROM connector_instances c
		JOIN flow_node_instances f ON f.tenant_id = c.tenant_id AND f.id = c.flow_node_instance_id
		WHERE c.tenant_id = $1 AND c.state IN ('EXECUTING', 'FAILED') AND NOT f.terminal
		ORDER BY c.flow_node_instance_id ASC
		OFFSET $2 LIMIT $3
	`
	rows, err := conn(ctx, r.pool).Query(ctx, query, r.tenantID, offset, limit)
	if err != nil {
		return nil, translate("list flow nodes to recover", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, translate("scan flow node id", err)
		}
		ids = append(ids, id)
	}
	return ids, translate("list flow nodes to recover", rows.Err())
}

// --- Helpers ---

func scanConnector(row pgx.Row) (*domain.ConnectorInstance, error) {
	var c domain.ConnectorInstance
	var name, event, msg, trace *string

	err := row.Scan(
		&c.ID,
		&c.TenantID,
		&c.FlowNodeInstanceID,
		&name,
		&event,
		&c.State,
		&msg,
		&trace,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if name != nil {
		c.Name = *name
	}
	if event != nil {
		c.ActivationEvent = *event
	}
	if msg != nil || trace != nil {
		c.Failure = &domain.FailureInfo{}
		if msg != nil {
			c.Failure.ExceptionMessage = *msg
		}
		if trace != nil {
			c.Failure.StackTrace = *trace
		}
	}
	return &c, nil
}

// nullString возвращает nil для пустой строки.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
