package api

import (
	"github.com/google/uuid"

	"github.com/shaiso/automata-engine/internal/domain"
	"github.com/shaiso/automata-engine/internal/recovery"
)

// Tenant DTOs

// TenantResponse - ответ с состоянием tenant'а.
type TenantResponse struct {
	TenantID int64  `json:"tenant_id"`
	State    string `json:"state"`
	Stopped  bool   `json:"stopped"`
}

// RecoveryResponse - итог восстановления tenant'а.
type RecoveryResponse struct {
	TenantID    int64   `json:"tenant_id"`
	FlowNodes   int     `json:"flow_nodes"`
	Interrupted int     `json:"interrupted"`
	Reset       int     `json:"reset"`
	Failed      []int64 `json:"failed,omitempty"`
	DurationMs  int64   `json:"duration_ms"`
}

// RecoveryFromReport конвертирует recovery.RecoveryReport в RecoveryResponse.
func RecoveryFromReport(r recovery.RecoveryReport) RecoveryResponse {
	return RecoveryResponse{
		TenantID:    r.TenantID,
		FlowNodes:   r.FlowNodes,
		Interrupted: r.Interrupted,
		Reset:       r.Reset,
		Failed:      r.Failed,
		DurationMs:  r.Duration.Milliseconds(),
	}
}

// Work DTOs

// SubmitWorkRequest - запрос на постановку work item.
type SubmitWorkRequest struct {
	Type               string         `json:"type"`
	FlowNodeInstanceID int64          `json:"flow_node_instance_id,omitempty"`
	Payload            map[string]any `json:"payload,omitempty"`
}

// RetryRequest - запрос на reset FAILED connector'ов flow node.
type RetryRequest struct {
	// Target - TO_RE_EXECUTE (default), SKIPPED или CANCELLED.
	Target string `json:"target,omitempty"`
}

// WorkItemResponse - ответ с принятым work item.
type WorkItemResponse struct {
	ID                 uuid.UUID `json:"id"`
	TenantID           int64     `json:"tenant_id"`
	Type               string    `json:"type"`
	FlowNodeInstanceID int64     `json:"flow_node_instance_id,omitempty"`
}

// WorkItemFromDomain конвертирует domain.WorkItem в WorkItemResponse.
func WorkItemFromDomain(w domain.WorkItem) WorkItemResponse {
	return WorkItemResponse{
		ID:                 w.ID,
		TenantID:           w.TenantID,
		Type:               w.Type,
		FlowNodeInstanceID: w.FlowNodeInstanceID,
	}
}
