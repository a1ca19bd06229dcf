package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/context-engine/middleware"
	"github.com/upb/context-engine/services"
	"github.com/upb/context-engine/services/retrieval"
	"github.com/upb/context-engine/utils"
)

// PromptService builds context prompts for a caller
type PromptService interface {
	BuildPrompt(ctx context.Context, req *retrieval.PromptRequest) (*retrieval.PromptResponse, error)
	Providers(tenantID string) []retrieval.ProviderStatus
}

// LegacyPromptRequest is the body of POST /prompt
type LegacyPromptRequest struct {
	UserPrompt string `json:"user_prompt" validate:"required"`
}

// LegacyPromptResponse is the body returned by POST /prompt
type LegacyPromptResponse struct {
	Prompt string `json:"prompt"`
}

// PromptRequest is the body of POST /api/v1/prompt
type PromptRequest struct {
	Query    string `json:"query" validate:"required"`
	TenantID string `json:"tenant_id,omitempty"`
}

// PromptHandler handles prompt composition requests
type PromptHandler struct {
	service PromptService
	logger  *zap.Logger
}

// NewPromptHandler creates a new PromptHandler
func NewPromptHandler(service PromptService, logger *zap.Logger) *PromptHandler {
	return &PromptHandler{
		service: service,
		logger:  logger,
	}
}

// HandleLegacyPrompt handles POST /prompt with the {"user_prompt"} -> {"prompt"} shape
func (h *PromptHandler) HandleLegacyPrompt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req LegacyPromptRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	resp, err := h.service.BuildPrompt(ctx, &retrieval.PromptRequest{
		Query:     req.UserPrompt,
		TenantID:  middleware.GetTenantFromContext(ctx),
		RequestID: middleware.GetRequestIDFromContext(ctx),
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteJSON(w, http.StatusOK, LegacyPromptResponse{Prompt: resp.Prompt}); err != nil {
		h.logger.Error("failed to write prompt response", zap.Error(err))
	}
}

// HandlePrompt handles POST /api/v1/prompt. Admins may act on behalf of
// another tenant through tenant_id.
func (h *PromptHandler) HandlePrompt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req PromptRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	tenant, err := effectiveTenant(ctx, req.TenantID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	resp, err := h.service.BuildPrompt(ctx, &retrieval.PromptRequest{
		Query:     req.Query,
		TenantID:  tenant,
		RequestID: middleware.GetRequestIDFromContext(ctx),
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, resp); err != nil {
		h.logger.Error("failed to write prompt response", zap.Error(err))
	}
}

// HandleProviders handles GET /api/v1/providers
func (h *PromptHandler) HandleProviders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenant, err := effectiveTenant(ctx, r.URL.Query().Get("tenant_id"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, h.service.Providers(tenant)); err != nil {
		h.logger.Error("failed to write providers response", zap.Error(err))
	}
}

// effectiveTenant returns the caller's tenant, or requested when the caller
// is an admin
func effectiveTenant(ctx context.Context, requested string) (string, error) {
	tenant := middleware.GetTenantFromContext(ctx)
	if requested == "" || requested == tenant {
		return tenant, nil
	}
	if !middleware.IsAdminFromContext(ctx) {
		return "", services.ErrForbidden
	}
	return requested, nil
}
