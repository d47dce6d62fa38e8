package auth

import (
	"context"

	"github.com/goliatone/go-router"
)

var claimsCtxKey = &contextKey{"claims"}

type contextKey struct {
	name string
}

// DefaultContextKey is the router locals key holding validated claims.
const DefaultContextKey = "user"

// WithClaimsContext sets the AuthClaims in the given context
func WithClaimsContext(r context.Context, claims AuthClaims) context.Context {
	return context.WithValue(r, claimsCtxKey, claims)
}

// GetClaims extracts the AuthClaims from the standard context
func GetClaims(ctx context.Context) (AuthClaims, bool) {
	raw, ok := ctx.Value(claimsCtxKey).(AuthClaims)
	return raw, ok
}

// GetRouterClaims extracts the AuthClaims from the router context
func GetRouterClaims(ctx router.Context, key string) (AuthClaims, bool) {
	if key == "" {
		key = DefaultContextKey
	}
	raw := ctx.Locals(key)
	if raw == nil {
		return nil, false
	}
	claims, ok := raw.(AuthClaims)
	return claims, ok
}

// HasRole checks the claims stored in ctx against requiredRole using
// the default hierarchy.
func HasRole(ctx context.Context, requiredRole string) bool {
	claims, ok := GetClaims(ctx)
	if !ok {
		return false
	}
	return Authorize(claims.Role(), requiredRole)
}

// HasRoleFromRouter is HasRole for router contexts
func HasRoleFromRouter(ctx router.Context, requiredRole string) bool {
	claims, ok := GetRouterClaims(ctx, "")
	if !ok {
		return false
	}
	return Authorize(claims.Role(), requiredRole)
}
