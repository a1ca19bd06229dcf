package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/upb/context-engine/utils"
)

// TokenValidator defines the interface for validating JWT tokens
type TokenValidator interface {
	// ValidateToken validates a JWT token and returns claims
	ValidateToken(ctx context.Context, token string) (*Claims, error)
}

// TenantResolver maps a static bearer token to its tenant
type TenantResolver interface {
	TenantForToken(token string) (string, bool)
}

// AuthOptions configures AuthMiddleware
type AuthOptions struct {
	// Enabled turns authentication on. When off every caller is anonymous
	// and treated as an admin.
	Enabled bool

	// Tokens resolves static per-tenant tokens; may be nil
	Tokens TenantResolver

	// Validator verifies signed tenant tokens; may be nil
	Validator TokenValidator

	// AdminTenants may use admin operations
	AdminTenants []string
}

// AuthMiddleware provides authentication middleware functionality
type AuthMiddleware struct {
	opts   AuthOptions
	admins map[string]bool
	logger *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(opts AuthOptions, logger *zap.Logger) *AuthMiddleware {
	admins := make(map[string]bool, len(opts.AdminTenants))
	for _, id := range opts.AdminTenants {
		admins[id] = true
	}
	return &AuthMiddleware{
		opts:   opts,
		admins: admins,
		logger: logger,
	}
}

// Enabled reports whether callers must authenticate
func (m *AuthMiddleware) Enabled() bool {
	return m.opts.Enabled
}

// RequireTenant authenticates the bearer token and stores the tenant in the
// request context. Static tokens are checked before signed tokens.
func (m *AuthMiddleware) RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if !m.opts.Enabled {
			ctx = WithAdmin(WithTenant(ctx, ""), true)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		requestID := GetRequestIDFromContext(ctx)

		token := extractBearerToken(r)
		if token == "" {
			m.logger.Warn("missing token",
				zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, "Missing or invalid authorization")
			return
		}

		tenant, ok := m.resolve(ctx, token, requestID)
		if !ok {
			_ = utils.WriteUnauthorized(w, "Invalid or expired token")
			return
		}

		ctx = WithTenant(ctx, tenant)
		ctx = WithAdmin(ctx, m.admins[tenant])

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("tenant", tenant))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) resolve(ctx context.Context, token, requestID string) (string, bool) {
	if m.opts.Tokens != nil {
		if tenant, ok := m.opts.Tokens.TenantForToken(token); ok {
			return tenant, true
		}
	}

	if m.opts.Validator == nil {
		m.logger.Warn("unknown token",
			zap.String("request_id", requestID))
		return "", false
	}

	claims, err := m.opts.Validator.ValidateToken(ctx, token)
	if err != nil {
		m.logger.Warn("token validation failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		return "", false
	}
	return claims.TenantID(), true
}

// RequireAdmin rejects callers that are not admins.
// It must run after RequireTenant.
func (m *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if !IsAdminFromContext(ctx) {
			m.logger.Warn("insufficient permissions",
				zap.String("request_id", GetRequestIDFromContext(ctx)),
				zap.String("tenant", GetTenantFromContext(ctx)))
			_ = utils.WriteForbidden(w, "Insufficient permissions")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	// Check if it starts with "Bearer "
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
