package handlers

import (
	"context"
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/riskauth/pkg/http"
)

// HealthChecker reports whether a dependency can serve requests
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ModelStatus reports whether the anomaly scorer can score
type ModelStatus interface {
	Ready() bool
}

// HealthHandler reports model and history store status
type HealthHandler struct {
	store   HealthChecker
	model   ModelStatus
	timeout time.Duration
}

// NewHealthHandler creates a new HealthHandler. A nil store (in-memory
// history) is always reported as up; a nil model is reported as unavailable.
func NewHealthHandler(store HealthChecker, model ModelStatus) *HealthHandler {
	return &HealthHandler{
		store:   store,
		model:   model,
		timeout: 2 * time.Second,
	}
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Model    string `json:"model"`
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Database: "up", Model: "loaded"}

	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()

		if err := h.store.HealthCheck(ctx); err != nil {
			resp.Database = "down"
		}
	}

	if h.model == nil || !h.model.Ready() {
		resp.Model = "unavailable"
	}

	status := http.StatusOK
	if resp.Database != "up" || resp.Model != "loaded" {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	pkghttp.WriteJSON(w, status, resp)
}
