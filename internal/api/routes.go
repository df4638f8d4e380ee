package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(
		Recovery(h.logger),
		RequestID(),
		Logging(h.logger),
	)

	mux.Handle("GET /api/v1/tenants", chain(http.HandlerFunc(h.ListTenants)))
	mux.Handle("GET /api/v1/tenants/{id}", chain(http.HandlerFunc(h.GetTenant)))
	mux.Handle("POST /api/v1/tenants/{id}/pause", chain(http.HandlerFunc(h.PauseTenant)))
	mux.Handle("POST /api/v1/tenants/{id}/resume", chain(http.HandlerFunc(h.ResumeTenant)))
	mux.Handle("POST /api/v1/tenants/{id}/recover", chain(http.HandlerFunc(h.RecoverTenant)))

	// Work items
	mux.Handle("POST /api/v1/tenants/{id}/work", chain(http.HandlerFunc(h.SubmitWork)))
	mux.Handle("POST /api/v1/tenants/{id}/flow-nodes/{node}/retry", chain(http.HandlerFunc(h.RetryFlowNode)))
}
