package middleware

import (
	"context"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"

	// TenantKey is the context key for the authenticated tenant ID
	TenantKey contextKey = "tenant"

	// AdminKey is the context key for the caller's admin flag
	AdminKey contextKey = "admin"
)

// GetRequestIDFromContext retrieves the request ID from context, falling back
// to the ID assigned by chi's RequestID middleware
func GetRequestIDFromContext(ctx context.Context) string {
	if val := ctx.Value(RequestIDKey); val != nil {
		if requestID, ok := val.(string); ok {
			return requestID
		}
	}
	return chimw.GetReqID(ctx)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetTenantFromContext retrieves the tenant ID. Anonymous callers have an empty tenant.
func GetTenantFromContext(ctx context.Context) string {
	if val := ctx.Value(TenantKey); val != nil {
		if tenant, ok := val.(string); ok {
			return tenant
		}
	}
	return ""
}

// WithTenant adds a tenant ID to the context
func WithTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, TenantKey, tenant)
}

// IsAdminFromContext reports whether the caller may use admin operations
func IsAdminFromContext(ctx context.Context) bool {
	if val := ctx.Value(AdminKey); val != nil {
		if admin, ok := val.(bool); ok {
			return admin
		}
	}
	return false
}

// WithAdmin sets the caller's admin flag
func WithAdmin(ctx context.Context, admin bool) context.Context {
	return context.WithValue(ctx, AdminKey, admin)
}
