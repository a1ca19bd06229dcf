package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/context-engine/services"
	"github.com/upb/context-engine/utils"
)

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	details := services.GetErrorDetails(err)
	status := statusForError(err)

	switch status {
	case http.StatusInternalServerError:
		// Internal errors keep their message out of the response
		logger.Error("internal server error",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		if werr := utils.WriteInternalServerError(w, "An internal error occurred"); werr != nil {
			logger.Error("failed to write internal error response", zap.Error(werr))
		}
		return
	case http.StatusBadGateway, http.StatusGatewayTimeout, http.StatusServiceUnavailable:
		logger.Warn("upstream failure", zap.Error(err), zap.Int("status", status))
	case utils.StatusClientClosedRequest:
		logger.Debug("client canceled request", zap.Error(err))
	}

	if werr := utils.WriteError(w, status, err.Error(), details); werr != nil {
		logger.Error("failed to write error response", zap.Error(werr), zap.Int("status", status))
	}

	logger.Debug("handled service error",
		zap.String("type", string(services.GetErrorType(err))),
		zap.Int("status", status),
		zap.Any("details", details))
}

// statusForError returns the HTTP status for a domain error type
func statusForError(err error) int {
	switch {
	case services.IsValidationError(err):
		return http.StatusBadRequest
	case services.IsUnauthorizedError(err):
		return http.StatusUnauthorized
	case services.IsForbiddenError(err):
		return http.StatusForbidden
	case services.IsNotFoundError(err):
		return http.StatusNotFound
	case services.IsExternalError(err):
		return http.StatusBadGateway
	case services.IsTimeoutError(err):
		return http.StatusGatewayTimeout
	case services.IsUnavailableError(err):
		return http.StatusServiceUnavailable
	case services.IsCanceledError(err):
		return utils.StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{})
		for k, v := range fields {
			details[k] = v
		}
		if err := utils.WriteBadRequest(w, "Validation failed", details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	// Generic validation error
	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}
