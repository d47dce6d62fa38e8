package auth

import (
	"context"

	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// RouteRegistrar captures the router methods used by the controller.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// SessionService is what the controller calls. SessionManager implements it.
type SessionService interface {
	Login(ctx context.Context, req LoginRequest) (*SessionTokens, error)
	Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error)
	ConfirmRegistration(ctx context.Context, req ConfirmRegistrationRequest) error
	RefreshToken(ctx context.Context, req RefreshTokenRequest) (*SessionTokens, error)
	ForgotPassword(ctx context.Context, req ForgotPasswordRequest) (*ResetRequestResult, error)
	ValidateResetToken(ctx context.Context, req ValidateResetTokenRequest) error
	ResetPassword(ctx context.Context, req ResetPasswordRequest) (*SessionTokens, error)
}

var _ SessionService = (*SessionManager)(nil)

// SessionRoutes holds the paths the controller mounts.
type SessionRoutes struct {
	Register            string
	ConfirmRegistration string
	Login               string
	Token               string
	ForgotPassword      string
	ResetPassword       string
}

// DefaultSessionRoutes returns the stock paths.
func DefaultSessionRoutes() SessionRoutes {
	return SessionRoutes{
		Register:            "/registration",
		ConfirmRegistration: "/registration/confirm",
		Login:               "/auth/login",
		Token:               "/auth/token",
		ForgotPassword:      "/auth/forgotpassword",
		ResetPassword:       "/auth/resetpassword/:code",
	}
}

// SessionController exposes the session operations as JSON endpoints.
type SessionController struct {
	service SessionService
	routes  SessionRoutes
	debug   bool
	logger  Logger
}

// NewSessionController creates a controller with the default routes.
func NewSessionController(service SessionService) *SessionController {
	_, logger := ResolveLogger("auth.http", nil, nil)
	return &SessionController{
		service: service,
		routes:  DefaultSessionRoutes(),
		logger:  logger,
	}
}

func (c *SessionController) WithLogger(l Logger) *SessionController {
	_, c.logger = ResolveLogger("auth.http", nil, l)
	return c
}

func (c *SessionController) WithRoutes(routes SessionRoutes) *SessionController {
	c.routes = routes
	return c
}

// WithDebug adds error causes to responses and logs request payloads.
func (c *SessionController) WithDebug(debug bool) *SessionController {
	c.debug = debug
	return c
}

// RegisterRoutes mounts every session route on r.
func (c *SessionController) RegisterRoutes(r RouteRegistrar) {
	r.Post(c.routes.Register, c.Register).SetName("registration.post")
	r.Post(c.routes.ConfirmRegistration, c.ConfirmRegistration).SetName("registration-confirm.post")
	r.Post(c.routes.Login, c.Login).SetName("auth-login.post")
	r.Post(c.routes.Token, c.RefreshToken).SetName("auth-token.post")
	r.Post(c.routes.ForgotPassword, c.ForgotPassword).SetName("auth-forgot.post")
	r.Get(c.routes.ResetPassword, c.ValidateResetToken).SetName("auth-reset.get")
	r.Post(c.routes.ResetPassword, c.ResetPassword).SetName("auth-reset.post")
}

// Register creates an account and its owner.
func (c *SessionController) Register(ctx router.Context) error {
	payload := new(RegisterRequest)
	if err := c.bind(ctx, payload); err != nil {
		return c.handleError(ctx, err)
	}

	result, err := c.service.Register(ctx.Context(), *payload)
	if err != nil {
		return c.handleError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, result)
}

// ConfirmRegistration verifies a user with their registration code.
func (c *SessionController) ConfirmRegistration(ctx router.Context) error {
	payload := new(ConfirmRegistrationRequest)
	if err := c.bind(ctx, payload); err != nil {
		return c.handleError(ctx, err)
	}

	if err := c.service.ConfirmRegistration(ctx.Context(), *payload); err != nil {
		return c.handleError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"verified": true,
	})
}

func (c *SessionController) Login(ctx router.Context) error {
	payload := new(LoginRequest)
	if err := c.bind(ctx, payload); err != nil {
		return c.handleError(ctx, err)
	}

	session, err := c.service.Login(ctx.Context(), *payload)
	if err != nil {
		return c.handleError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, sessionResponse(session))
}

// RefreshToken rotates a refresh token.
func (c *SessionController) RefreshToken(ctx router.Context) error {
	payload := new(RefreshTokenRequest)
	if err := c.bind(ctx, payload); err != nil {
		return c.handleError(ctx, err)
	}

	session, err := c.service.RefreshToken(ctx.Context(), *payload)
	if err != nil {
		return c.handleError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, sessionResponse(session))
}

func (c *SessionController) ForgotPassword(ctx router.Context) error {
	payload := new(ForgotPasswordRequest)
	if err := c.bind(ctx, payload); err != nil {
		return c.handleError(ctx, err)
	}

	result, err := c.service.ForgotPassword(ctx.Context(), *payload)
	if err != nil {
		if result != nil && KindOf(err) == KindDependencyFailure {
			c.logger.Error("password reset issued but not delivered", "error", err)
		}
		return c.handleError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, result)
}

// ValidateResetToken reports whether the code in the path is usable.
func (c *SessionController) ValidateResetToken(ctx router.Context) error {
	req := ValidateResetTokenRequest{Code: ctx.Param("code")}

	if err := c.service.ValidateResetToken(ctx.Context(), req); err != nil {
		return c.handleError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"valid": true,
	})
}

// ResetPassword applies a new password with the code in the path.
func (c *SessionController) ResetPassword(ctx router.Context) error {
	payload := new(ResetPasswordRequest)
	if err := c.bind(ctx, payload); err != nil {
		return c.handleError(ctx, err)
	}
	payload.Code = ctx.Param("code")

	session, err := c.service.ResetPassword(ctx.Context(), *payload)
	if err != nil {
		return c.handleError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, sessionResponse(session))
}

func (c *SessionController) bind(ctx router.Context, payload any) error {
	if err := ctx.Bind(payload); err != nil {
		c.logger.Warn("failed to parse request body", "error", err)
		return NewValidationError("failed to parse request body", nil)
	}

	if c.debug {
		c.logger.Debug("request payload", "payload", print.MaybeHighlightJSON(redactPayload(payload)))
	}

	return nil
}

func (c *SessionController) handleError(ctx router.Context, err error) error {
	status := HTTPStatus(err)
	if status >= 500 {
		c.logger.Error("request failed", "error", err)
	}
	return ctx.JSON(status, ToErrorResponse(err, c.debug))
}

// sessionResponse prefixes the access token with its scheme so
// clients can send it back verbatim.
func sessionResponse(session *SessionTokens) map[string]any {
	out := map[string]any{
		"tokenType": session.TokenType,
		"token":     session.TokenType + " " + session.AccessToken,
		"expiresAt": session.ExpiresAt,
		"user":      session.User,
	}
	if session.RefreshToken != "" {
		out["refreshToken"] = session.RefreshToken
		out["refreshExpiresAt"] = session.RefreshExpiresAt
	}
	return out
}

func redactPayload(payload any) any {
	switch p := payload.(type) {
	case *LoginRequest:
		return map[string]any{"email": p.Email}
	case *RegisterRequest:
		return map[string]any{"email": p.Email, "firstName": p.FirstName, "lastName": p.LastName, "accountName": p.AccountName}
	case *ResetPasswordRequest:
		return map[string]any{"code": p.Code}
	default:
		return payload
	}
}
