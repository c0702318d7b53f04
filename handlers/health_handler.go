package handlers

import (
	"net/http"

	"github.com/upb/llm-router/models"
	"github.com/upb/llm-router/repositories/sqlite"
	"github.com/upb/llm-router/services/budget"
	"github.com/upb/llm-router/utils"
	"go.uber.org/zap"
)

// healthResponse is the GET /health body.
type healthResponse struct {
	Status   string              `json:"status"`
	Database string              `json:"database"`
	Models   healthModelCounts   `json:"models"`
	Budget   models.BudgetStatus `json:"budget"`
}

type healthModelCounts struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Unhealthy int `json:"unhealthy"`
}

// HealthHandler reports gateway liveness: store reachability, fleet
// health counts, and the current budget position.
type HealthHandler struct {
	store  *sqlite.Store
	budget *budget.Service
	logger *zap.Logger
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(store *sqlite.Store, budgetSvc *budget.Service, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{store: store, budget: budgetSvc, logger: logger}
}

// HandleHealth handles GET /health. 200 requires a reachable store and
// at least one healthy enabled model.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := healthResponse{Status: "ok", Database: "ok"}

	if err := h.store.DB.HealthCheck(ctx); err != nil {
		h.logger.Error("store unreachable", zap.Error(err))
		resp.Status = "unavailable"
		resp.Database = "unreachable"
		_ = utils.WriteJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	total, healthy, err := h.store.Models.HealthCounts(ctx)
	if err != nil {
		h.logger.Error("failed to count model health", zap.Error(err))
		resp.Status = "unavailable"
		_ = utils.WriteJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Models = healthModelCounts{Total: total, Healthy: healthy, Unhealthy: total - healthy}

	if policy, err := h.store.Policy.Load(ctx); err == nil {
		if status, err := h.budget.GetStatus(ctx, policy); err == nil {
			resp.Budget = *status
		}
	}

	if healthy == 0 {
		resp.Status = "unavailable"
		_ = utils.WriteJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	_ = utils.WriteJSON(w, http.StatusOK, resp)
}
