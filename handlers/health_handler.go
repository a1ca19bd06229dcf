package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/upb/context-engine/models"
	"github.com/upb/context-engine/utils"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status      string            `json:"status"`
	Timestamp   string            `json:"timestamp"`
	Checks      map[string]string `json:"checks,omitempty"`
	LastRefresh *RefreshSummary   `json:"last_refresh,omitempty"`
}

// RefreshSummary is a short view of the latest refresh cycle
type RefreshSummary struct {
	Trigger     models.RefreshTrigger `json:"trigger"`
	CompletedAt time.Time             `json:"completed_at"`
	Providers   int                   `json:"providers"`
	Failures    int                   `json:"failures"`
}

// DatabaseChecker checks database connectivity
type DatabaseChecker interface {
	HealthCheck(ctx context.Context) error
}

// RefreshStatus reports the state of the refresh scheduler
type RefreshStatus interface {
	Ready() bool
	LastRun() *models.RefreshRun
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db      DatabaseChecker
	refresh RefreshStatus
	logger  *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. db may be nil when no
// database is configured.
func NewHealthHandler(db DatabaseChecker, refresh RefreshStatus, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:      db,
		refresh: refresh,
		logger:  logger,
	}
}

// HandleHealth handles GET /healthz
// Basic health check - always returns 200 if service is running
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /readyz
// The service is ready once the first refresh cycle has completed and the
// database, when configured, is reachable.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if h.refresh.Ready() {
		checks["refresh"] = "healthy"
	} else {
		checks["refresh"] = "pending"
		allHealthy = false
	}

	if h.db != nil {
		if err := h.db.HealthCheck(ctx); err != nil {
			h.logger.Warn("database health check failed", zap.Error(err))
			checks["database"] = "unhealthy"
			allHealthy = false
		} else {
			checks["database"] = "healthy"
		}
	}

	// Determine overall status
	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}
	if run := h.refresh.LastRun(); run != nil {
		response.LastRefresh = &RefreshSummary{
			Trigger:     run.Trigger,
			CompletedAt: run.CompletedAt,
			Providers:   len(run.Results),
			Failures:    run.FailureCount(),
		}
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}
