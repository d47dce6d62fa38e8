package auth

import (
	"context"
	"errors"

	"github.com/goliatone/go-router"

	"github.com/goliatone/go-tenant-auth/middleware/jwtware"
)

// ValidationListener aliases the jwtware listener so consumers can use auth helpers directly.
type ValidationListener = jwtware.ValidationListener

type tokenValidatorAdapter struct {
	tokens TokenService
}

func (a tokenValidatorAdapter) Validate(tokenString string) (jwtware.AuthClaims, error) {
	claims, err := a.tokens.Validate(tokenString)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// MiddlewareValidator exposes a TokenService to jwtware.
func MiddlewareValidator(tokens TokenService) jwtware.TokenValidator {
	return tokenValidatorAdapter{tokens: tokens}
}

// ContextEnricherAdapter adapts jwtware.AuthClaims to auth.AuthClaims and
// stores them in the standard context.
func ContextEnricherAdapter(c context.Context, claims jwtware.AuthClaims) context.Context {
	authClaims, ok := claims.(AuthClaims)
	if !ok {
		return c
	}
	return WithClaimsContext(c, authClaims)
}

// RegisterValidationListeners appends listeners to a jwtware.Config in a safe, reusable way.
func RegisterValidationListeners(cfg *jwtware.Config, listeners ...ValidationListener) {
	if cfg == nil || len(listeners) == 0 {
		return
	}
	cfg.ValidationListeners = append(cfg.ValidationListeners, listeners...)
}

// MakeAuthErrorHandler renders middleware failures with the same error
// body the session routes use.
func MakeAuthErrorHandler(debug bool) router.ErrorHandler {
	return func(ctx router.Context, err error) error {
		switch {
		case errors.Is(err, jwtware.ErrForbidden):
			err = withMetadata(ErrNotAuthorized, map[string]any{"reason": err.Error()})
		case errors.Is(err, jwtware.ErrJWTMissingOrMalformed):
			err = ErrTokenMalformed
		case KindOf(err) == KindInternal:
			err = ErrTokenMalformed
		}
		return ctx.JSON(HTTPStatus(err), ToErrorResponse(err, debug))
	}
}

// ProtectedRoute returns a middleware validating access tokens issued
// by m. An empty requiredRole only checks the token.
func (m *SessionManager) ProtectedRoute(requiredRole string, listeners ...ValidationListener) router.MiddlewareFunc {
	cfg := jwtware.Config{
		TokenValidator:  MiddlewareValidator(m.tokens),
		ErrorHandler:    MakeAuthErrorHandler(m.cfg.GetDebug()),
		ContextKey:      DefaultContextKey,
		ContextEnricher: ContextEnricherAdapter,
	}
	if requiredRole != "" {
		cfg.RequiredRole = requiredRole
		cfg.Authorizer = m.roles
	}
	RegisterValidationListeners(&cfg, listeners...)
	return jwtware.New(cfg)
}
