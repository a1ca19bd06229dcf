package handlers

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/upb/context-engine/models"
	"github.com/upb/context-engine/repositories"
	"github.com/upb/context-engine/services"
	"github.com/upb/context-engine/utils"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 100
)

// Refresher runs a refresh cycle on demand
type Refresher interface {
	RefreshNow(ctx context.Context) *models.RefreshRun
}

// LegacyUpdateResponse is the body returned by POST /update
type LegacyUpdateResponse struct {
	Success bool `json:"success"`
}

// RefreshResponse is the body returned by POST /api/v1/refresh
type RefreshResponse struct {
	*models.RefreshRun
	Success    bool  `json:"success"`
	DurationMs int64 `json:"duration_ms"`
}

// RefreshHandler handles manual refreshes and the refresh history
type RefreshHandler struct {
	refresher Refresher
	runs      repositories.RefreshRunRepository
	logger    *zap.Logger
}

// NewRefreshHandler creates a new RefreshHandler
func NewRefreshHandler(refresher Refresher, runs repositories.RefreshRunRepository, logger *zap.Logger) *RefreshHandler {
	return &RefreshHandler{
		refresher: refresher,
		runs:      runs,
		logger:    logger,
	}
}

// HandleLegacyUpdate handles POST /update
func (h *RefreshHandler) HandleLegacyUpdate(w http.ResponseWriter, r *http.Request) {
	run := h.refresher.RefreshNow(cycleContext(r))

	if err := utils.WriteJSON(w, http.StatusOK, LegacyUpdateResponse{Success: run.Success()}); err != nil {
		h.logger.Error("failed to write update response", zap.Error(err))
	}
}

// HandleRefresh handles POST /api/v1/refresh and returns the full report
func (h *RefreshHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	run := h.refresher.RefreshNow(cycleContext(r))

	resp := RefreshResponse{
		RefreshRun: run,
		Success:    run.Success(),
		DurationMs: run.Duration().Milliseconds(),
	}
	if err := utils.WriteOK(w, resp); err != nil {
		h.logger.Error("failed to write refresh response", zap.Error(err))
	}
}

// HandleListRuns handles GET /api/v1/refresh/runs?limit=N
func (h *RefreshHandler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxRunsLimit {
			_ = utils.WriteBadRequest(w, "limit must be between 1 and 100", map[string]interface{}{"limit": raw})
			return
		}
		limit = n
	}

	runs, err := h.runs.ListRecent(r.Context(), limit)
	if err != nil {
		HandleServiceError(w, services.WrapInternal("failed to list refresh runs", err), h.logger)
		return
	}

	if err := utils.WriteOK(w, runs); err != nil {
		h.logger.Error("failed to write refresh runs response", zap.Error(err))
	}
}

// cycleContext detaches a manual refresh from the request. The cycle always
// runs to completion, bounded only by the per-provider timeout.
func cycleContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}
