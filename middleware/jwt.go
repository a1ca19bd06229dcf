package middleware

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims accepted for tenant tokens
type Claims struct {
	// Tenant names the tenant explicitly; Subject is used when it is empty
	Tenant string `json:"tenant,omitempty"`
	jwt.RegisteredClaims
}

// TenantID returns the tenant the token was issued for
func (c *Claims) TenantID() string {
	if c.Tenant != "" {
		return c.Tenant
	}
	return c.Subject
}

// JWTValidator validates HS256 tenant tokens signed with a shared secret
type JWTValidator struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTValidator creates a validator for tokens signed with secret
func NewJWTValidator(secret string) *JWTValidator {
	return &JWTValidator{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// ValidateToken parses and verifies token and returns its claims
func (v *JWTValidator) ValidateToken(_ context.Context, token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.TenantID() == "" {
		return nil, errors.New("token does not name a tenant")
	}
	return claims, nil
}

// SignTenantToken issues an HS256 token for tenant. Used by operators and tests.
func SignTenantToken(secret, tenant string, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = tenant
	return jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{RegisteredClaims: claims}).SignedString([]byte(secret))
}
