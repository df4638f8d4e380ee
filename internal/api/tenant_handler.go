package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/shaiso/automata-engine/internal/domain"
	"github.com/shaiso/automata-engine/internal/tenant"
)

// stateReporter - Lifecycle, сообщающий точное состояние.
type stateReporter interface {
	State() domain.TenantExecutionState
}

// ListTenants возвращает tenant'ов процесса.
// GET /api/v1/tenants
func (h *Handler) ListTenants(w http.ResponseWriter, r *http.Request) {
	ids := h.tenants.Tenants()

	result := make([]TenantResponse, 0, len(ids))
	for _, id := range ids {
		resp, err := h.tenantResponse(id)
		if err != nil {
			// tenant мог исчезнуть между вызовами
			continue
		}
		result = append(result, resp)
	}

	List(w, result, len(result))
}

// GetTenant возвращает состояние tenant'а.
// GET /api/v1/tenants/{id}
func (h *Handler) GetTenant(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := pathTenantID(w, r)
	if !ok {
		return
	}

	resp, err := h.tenantResponse(tenantID)
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, resp)
}

// PauseTenant останавливает tenant'а и ждёт завершения принятых items.
// POST /api/v1/tenants/{id}/pause
func (h *Handler) PauseTenant(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := pathTenantID(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.pauseTimeout)
	defer cancel()

	if HandleError(w, h.logger, h.tenants.Pause(ctx, tenantID)) {
		return
	}

	h.respondTenant(w, tenantID)
}

// ResumeTenant запускает tenant'а.
// POST /api/v1/tenants/{id}/resume
func (h *Handler) ResumeTenant(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := pathTenantID(w, r)
	if !ok {
		return
	}

	if HandleError(w, h.logger, h.tenants.Resume(r.Context(), tenantID)) {
		return
	}

	h.respondTenant(w, tenantID)
}

// RecoverTenant выполняет восстановление tenant'а.
// POST /api/v1/tenants/{id}/recover
func (h *Handler) RecoverTenant(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := pathTenantID(w, r)
	if !ok {
		return
	}

	report, err := h.tenants.Recover(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, tenant.ErrTenantNotFound) || errors.Is(err, tenant.ErrTenantRunning) {
			HandleError(w, h.logger, err)
			return
		}
		// Частичный результат: часть flow nodes восстановлена.
		h.logger.Warn("tenant recovery finished with errors", "tenant_id", tenantID, "error", err)
		JSON(w, http.StatusUnprocessableEntity, struct {
			Data  RecoveryResponse `json:"data"`
			Error ErrorDetail      `json:"error"`
		}{
			Data:  RecoveryFromReport(report),
			Error: ErrorDetail{Code: ErrCodeInvalidState, Message: err.Error()},
		})
		return
	}

	Success(w, RecoveryFromReport(report))
}

// SubmitWork ставит work item в очередь tenant'а.
// POST /api/v1/tenants/{id}/work
func (h *Handler) SubmitWork(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := pathTenantID(w, r)
	if !ok {
		return
	}

	var req SubmitWorkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if req.Type == "" {
		BadRequest(w, "type is required")
		return
	}

	h.submit(w, r, domain.NewWorkItem(tenantID, req.Type, req.FlowNodeInstanceID, req.Payload))
}

// RetryFlowNode ставит reset FAILED connector'ов flow node.
// POST /api/v1/tenants/{id}/flow-nodes/{node}/retry
func (h *Handler) RetryFlowNode(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := pathTenantID(w, r)
	if !ok {
		return
	}

	flowNodeID, err := strconv.ParseInt(r.PathValue("node"), 10, 64)
	if err != nil || flowNodeID <= 0 {
		BadRequest(w, "invalid flow node id")
		return
	}

	// Тело необязательно.
	var req RetryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(w, "invalid request body")
		return
	}

	target := domain.ConnectorToReExecute
	if req.Target != "" {
		state, ok := domain.ParseConnectorState(req.Target)
		if !ok || !state.IsResetTarget() {
			BadRequest(w, "target must be TO_RE_EXECUTE, SKIPPED or CANCELLED")
			return
		}
		target = state
	}

	h.submit(w, r, domain.NewWorkItem(tenantID, domain.WorkTypeConnectorRetry, flowNodeID,
		map[string]any{"target": string(target)}))
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, item domain.WorkItem) {
	if HandleError(w, h.logger, h.tenants.Submit(r.Context(), item)) {
		return
	}
	Accepted(w, WorkItemFromDomain(item))
}

func (h *Handler) respondTenant(w http.ResponseWriter, tenantID int64) {
	resp, err := h.tenantResponse(tenantID)
	if HandleError(w, h.logger, err) {
		return
	}
	Success(w, resp)
}

func (h *Handler) tenantResponse(tenantID int64) (TenantResponse, error) {
	lc, err := h.tenants.Lifecycle(tenantID)
	if err != nil {
		return TenantResponse{}, err
	}

	resp := TenantResponse{TenantID: tenantID, Stopped: lc.IsStopped()}
	if sr, ok := lc.(stateReporter); ok {
		resp.State = sr.State().String()
	} else if resp.Stopped {
		resp.State = domain.TenantStopped.String()
	} else {
		resp.State = domain.TenantRunning.String()
	}
	return resp, nil
}

// pathTenantID разбирает {id}; при ошибке отвечает 400.
func pathTenantID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		BadRequest(w, "invalid tenant id")
		return 0, false
	}
	return id, true
}
