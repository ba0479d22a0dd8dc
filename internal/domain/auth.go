package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// ScopeApprove grants the right to submit approval decisions over HTTP.
const ScopeApprove = "pipeline:approve"

type CustomClaims struct {
	UserID string          `json:"user_id"`
	Scopes map[string]bool `json:"scopes"` // "pipeline:approve": true
	jwt.RegisteredClaims
}

// HasScope reports whether the token grants the scope.
func (c *CustomClaims) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	return c.Scopes[scope] || c.Scopes["admin"]
}
