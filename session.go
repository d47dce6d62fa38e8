package auth

import (
	"context"
	"sync"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
)

// RegisterResult is returned after a successful registration.
type RegisterResult struct {
	RegisterCode string    `json:"registerCode"`
	UserID       uuid.UUID `json:"userId"`
	AccountID    uuid.UUID `json:"accountId"`
}

// SessionManager composes the hasher, lockout tracker, token issuer,
// refresh registry, reset flow and role hierarchy into the operations
// exposed to transports. It holds no per request state.
type SessionManager struct {
	store     Store
	cfg       Config
	hasher    PasswordHasher
	tokens    TokenService
	ownTokens bool
	roles     RoleHierarchy
	notifier  Notifier
	sink      ActivitySink
	clock     Clock
	useHashid bool
	decorator ClaimsDecorator

	lockout *LockoutTracker
	refresh *RefreshRegistry
	resets  *PasswordResetFlow

	dummyOnce sync.Once
	dummyHash string

	logger   Logger
	provider LoggerProvider
}

// NewSessionManager wires a manager with defaults taken from cfg.
func NewSessionManager(store Store, cfg Config) *SessionManager {
	if cfg == nil {
		cfg = Options{}
	}
	provider, logger := ResolveLogger("auth.session", nil, nil)
	m := &SessionManager{
		store:     store,
		cfg:       cfg,
		hasher:    NewBcryptHasher(cfg.GetPasswordHashCost()),
		ownTokens: true,
		roles:     DefaultRoleHierarchy(),
		notifier:  noopNotifier{},
		sink:      noopActivitySink{},
		clock:     defaultClock,
		logger:    logger,
		provider:  provider,
	}
	m.wire()
	return m
}

func (m *SessionManager) WithLogger(l Logger) *SessionManager {
	m.provider, m.logger = ResolveLogger("auth.session", m.provider, l)
	m.wire()
	return m
}

// WithLoggerProvider overrides the provider used to scope component loggers.
func (m *SessionManager) WithLoggerProvider(provider LoggerProvider) *SessionManager {
	m.provider, m.logger = ResolveLogger("auth.session", provider, nil)
	m.wire()
	return m
}

func (m *SessionManager) WithClock(c Clock) *SessionManager {
	m.clock = normalizeClock(c)
	m.wire()
	return m
}

func (m *SessionManager) WithPasswordHasher(h PasswordHasher) *SessionManager {
	if h != nil {
		m.hasher = h
		m.dummyOnce = sync.Once{}
		m.wire()
	}
	return m
}

// WithTokenService replaces the default HS256 token service.
func (m *SessionManager) WithTokenService(ts TokenService) *SessionManager {
	if ts != nil {
		m.tokens = ts
		m.ownTokens = false
		m.wire()
	}
	return m
}

func (m *SessionManager) WithNotifier(n Notifier) *SessionManager {
	if n == nil {
		n = noopNotifier{}
	}
	m.notifier = n
	m.wire()
	return m
}

func (m *SessionManager) WithActivitySink(s ActivitySink) *SessionManager {
	m.sink = normalizeActivitySink(s)
	return m
}

func (m *SessionManager) WithRoleHierarchy(h RoleHierarchy) *SessionManager {
	m.roles = h
	return m
}

// WithClaimsDecorator decorates access tokens issued by the default token
// service. It has no effect after WithTokenService.
func (m *SessionManager) WithClaimsDecorator(d ClaimsDecorator) *SessionManager {
	m.decorator = d
	m.wire()
	return m
}

// WithHashid makes new user ids derive from their email.
func (m *SessionManager) WithHashid(enabled bool) *SessionManager {
	m.useHashid = enabled
	return m
}

// TokenService returns the service used to issue and validate tokens.
func (m *SessionManager) TokenService() TokenService {
	return m.tokens
}

// RoleHierarchy returns the hierarchy used by Authorize.
func (m *SessionManager) RoleHierarchy() RoleHierarchy {
	return m.roles
}

// Refresh exposes the refresh registry.
func (m *SessionManager) Refresh() *RefreshRegistry {
	return m.refresh
}

func (m *SessionManager) wire() {
	if m.ownTokens {
		m.tokens = NewTokenServiceFromConfig(m.cfg, m.provider.GetLogger("auth.tokens")).
			WithClock(m.clock).
			WithClaimsDecorator(m.decorator)
	}

	m.lockout = NewLockoutTracker(m.store, LockoutPolicyFromConfig(m.cfg)).
		WithLoggerProvider(m.provider).
		WithClock(m.clock)

	m.refresh = NewRefreshRegistry(m.store, m.tokens, m.cfg.GetMaxRefreshTokens()).
		WithLoggerProvider(m.provider).
		WithClock(m.clock)

	m.resets = NewPasswordResetFlow(m.store, m.notifier, m.hasher, m.cfg.GetPasswordResetExpiration()).
		WithLoggerProvider(m.provider).
		WithClock(m.clock)
}

// Login verifies credentials and starts a session.
func (m *SessionManager) Login(ctx context.Context, req LoginRequest) (*SessionTokens, error) {
	if err := checkContext(ctx, "login"); err != nil {
		return nil, err
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}

	email := NormalizeEmail(req.Email)

	user, err := m.store.FindUserByEmail(ctx, email)
	if err != nil {
		if !IsNotFound(err) {
			return nil, dependencyFailure(err, "failed to retrieve user during login")
		}
		// spend the same time as a real comparison
		_ = m.hasher.ComparePasswordAndHash(req.Password, m.dummyPasswordHash())
		m.record(ctx, ActivityEvent{EventType: ActivityEventLoginFailure, Email: email, Metadata: map[string]any{"reason": "unknown_email"}})
		return nil, ErrInvalidCredentials
	}

	if user.IsDeleted {
		m.record(ctx, ActivityEvent{EventType: ActivityEventLoginFailure, UserID: user.ID.String(), Email: email, Metadata: map[string]any{"reason": "deleted"}})
		return nil, ErrInvalidCredentials
	}

	if !user.IsVerified {
		return nil, ErrAccountUnverified
	}

	err = m.lockout.Verify(ctx, user, func() error {
		return m.hasher.ComparePasswordAndHash(req.Password, user.PasswordHash)
	})
	if err != nil {
		event := ActivityEvent{EventType: ActivityEventLoginFailure, UserID: user.ID.String(), AccountID: user.AccountID.String(), Email: email}
		if KindOf(err) == KindAccountLocked {
			event.EventType = ActivityEventAccountLocked
		}
		m.record(ctx, event)
		return nil, err
	}

	session, err := m.refresh.Issue(ctx, user)
	if err != nil {
		return nil, err
	}

	m.record(ctx, ActivityEvent{EventType: ActivityEventLoginSuccess, UserID: user.ID.String(), AccountID: user.AccountID.String(), Email: email})

	return session, nil
}

// Register creates a tenant account and its owner. The user must be
// confirmed with the returned code before logging in.
func (m *SessionManager) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if err := checkContext(ctx, "registration"); err != nil {
		return nil, err
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}

	email := NormalizeEmail(req.Email)

	existing, err := m.store.FindUserByEmail(ctx, email)
	switch {
	case err == nil && existing != nil && !existing.IsDeleted:
		return nil, withMetadata(ErrEmailTaken, map[string]any{"email": email})
	case err != nil && !IsNotFound(err):
		return nil, dependencyFailure(err, "failed to check existing user")
	}

	hash, err := m.hasher.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	// from here on the writes are ours to finish or undo
	storeCtx := context.WithoutCancel(ctx)
	now := m.clock()

	accountName := req.AccountName
	if accountName == "" {
		accountName = uuid.NewString()
	}

	account, err := m.store.CreateAccount(storeCtx, &Account{
		ID:        uuid.New(),
		Name:      accountName,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, dependencyFailure(err, "failed to create account")
	}

	user := &User{
		ID:           m.newUserID(email),
		AccountID:    account.ID,
		Email:        email,
		PasswordHash: hash,
		Role:         RoleOwner,
		Profile: Profile{
			FirstName: req.FirstName,
			LastName:  req.LastName,
		},
		Settings: Settings{
			TimeZone: DefaultTimeZone,
		},
		RegisterCode: uuid.NewString(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	created, err := m.store.CreateUser(storeCtx, user)
	if err != nil {
		m.rollbackAccount(storeCtx, account.ID, err)
		if KindOf(err) == KindConflict {
			return nil, withMetadata(ErrEmailTaken, map[string]any{"email": email})
		}
		return nil, dependencyFailure(err, "failed to create user")
	}

	if err := m.store.SetAccountCreator(storeCtx, account.ID, created.ID); err != nil {
		m.logger.Error("failed to set account creator", "account_id", account.ID.String(), "user_id", created.ID.String(), "error", err)
	}

	m.record(ctx, ActivityEvent{EventType: ActivityEventUserRegistered, UserID: created.ID.String(), AccountID: account.ID.String(), Email: email})

	return &RegisterResult{
		RegisterCode: created.RegisterCode,
		UserID:       created.ID,
		AccountID:    account.ID,
	}, nil
}

// rollbackAccount removes an account whose owner could not be created.
// Its own failure is logged, the original error wins.
func (m *SessionManager) rollbackAccount(ctx context.Context, accountID uuid.UUID, cause error) {
	if err := m.store.DeleteAccount(ctx, accountID); err != nil {
		m.logger.Error("failed to roll back account after user creation failure",
			"account_id", accountID.String(),
			"cause", cause,
			"error", err,
		)
		return
	}
	m.logger.Warn("rolled back account after user creation failure", "account_id", accountID.String(), "cause", cause)
	m.record(ctx, ActivityEvent{EventType: ActivityEventRegistrationRollback, AccountID: accountID.String()})
}

func (m *SessionManager) newUserID(email string) uuid.UUID {
	if m.useHashid {
		if id, err := hashid.NewUUID(email); err == nil {
			return id
		}
	}
	return uuid.New()
}

// ConfirmRegistration marks the user verified when code matches the
// one handed out by Register.
func (m *SessionManager) ConfirmRegistration(ctx context.Context, req ConfirmRegistrationRequest) error {
	if err := checkContext(ctx, "registration confirmation"); err != nil {
		return err
	}

	if err := req.Validate(); err != nil {
		return err
	}

	user, err := m.store.FindUserByEmail(ctx, NormalizeEmail(req.Email))
	if err != nil {
		if IsNotFound(err) {
			return ErrRegisterCodeInvalid
		}
		return dependencyFailure(err, "failed to retrieve user for confirmation")
	}

	if user.IsDeleted || user.RegisterCode == "" || user.RegisterCode != req.RegisterCode {
		return ErrRegisterCodeInvalid
	}

	if user.IsVerified {
		return nil
	}

	if err := m.store.MarkUserVerified(context.WithoutCancel(ctx), user.ID); err != nil {
		return dependencyFailure(err, "failed to verify user")
	}

	m.record(ctx, ActivityEvent{EventType: ActivityEventUserVerified, UserID: user.ID.String(), AccountID: user.AccountID.String(), Email: user.Email})
	return nil
}

// RefreshToken rotates the presented refresh token for the user with email.
func (m *SessionManager) RefreshToken(ctx context.Context, req RefreshTokenRequest) (*SessionTokens, error) {
	if err := checkContext(ctx, "token refresh"); err != nil {
		return nil, err
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}

	user, err := m.store.FindUserByEmail(ctx, NormalizeEmail(req.Email))
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrRefreshTokenInvalid
		}
		return nil, dependencyFailure(err, "failed to retrieve user for token refresh")
	}

	if user.IsDeleted {
		return nil, ErrRefreshTokenInvalid
	}

	session, err := m.refresh.Rotate(ctx, user, req.RefreshToken)
	if err != nil {
		return nil, err
	}

	m.record(ctx, ActivityEvent{EventType: ActivityEventTokenRefreshed, UserID: user.ID.String(), AccountID: user.AccountID.String(), Email: user.Email})
	return session, nil
}

// ForgotPassword issues a reset token and sends it. If sending fails
// the result is still returned along with a DependencyFailure.
func (m *SessionManager) ForgotPassword(ctx context.Context, req ForgotPasswordRequest) (*ResetRequestResult, error) {
	if err := checkContext(ctx, "password reset request"); err != nil {
		return nil, err
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}

	channel, ok := ParseResetChannel(req.SendMethod)
	if !ok {
		return nil, NewValidationError("invalid send method", map[string]any{"sendMethod": "unsupported send method"})
	}
	email := NormalizeEmail(req.Email)

	user, err := m.store.FindUserByEmail(ctx, email)
	if err != nil {
		if IsNotFound(err) {
			return nil, NewNotFound("no account with that email address exists", map[string]any{"email": email})
		}
		return nil, dependencyFailure(err, "failed to retrieve user for password reset")
	}

	if user.IsDeleted {
		return nil, NewNotFound("no account with that email address exists", map[string]any{"email": email})
	}

	result, err := m.resets.Request(ctx, user, channel)
	if result != nil {
		m.record(ctx, ActivityEvent{
			EventType: ActivityEventPasswordResetRequest,
			UserID:    user.ID.String(),
			AccountID: user.AccountID.String(),
			Email:     user.Email,
			Metadata:  map[string]any{"channel": string(result.Channel), "delivered": err == nil},
		})
	}
	return result, err
}

// ValidateResetToken checks a reset code is current without using it.
func (m *SessionManager) ValidateResetToken(ctx context.Context, req ValidateResetTokenRequest) error {
	if err := checkContext(ctx, "password reset validation"); err != nil {
		return err
	}

	if err := req.Validate(); err != nil {
		return err
	}

	_, err := m.resets.Validate(ctx, req.Code)
	return err
}

// ResetPassword applies a new password and returns a fresh access token.
// The confirmation message is best effort.
func (m *SessionManager) ResetPassword(ctx context.Context, req ResetPasswordRequest) (*SessionTokens, error) {
	if err := checkContext(ctx, "password reset"); err != nil {
		return nil, err
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}

	user, err := m.resets.Apply(ctx, req.Code, req.Password)
	if err != nil {
		return nil, err
	}

	if err := m.notifier.SendAccountChangedMessage(ctx, user.Email); err != nil {
		m.logger.Error("failed to send account changed message", "user_id", user.ID.String(), "error", err)
	}

	m.record(ctx, ActivityEvent{EventType: ActivityEventPasswordResetSuccess, UserID: user.ID.String(), AccountID: user.AccountID.String(), Email: user.Email})

	access, expiresAt, err := m.tokens.IssueAccessToken(ctx, user)
	if err != nil {
		return nil, err
	}

	return &SessionTokens{
		TokenType:   TokenType,
		AccessToken: access,
		ExpiresAt:   expiresAt,
		User:        user,
	}, nil
}

// Authorize loads the user and checks their current role against requiredRole.
func (m *SessionManager) Authorize(ctx context.Context, userID uuid.UUID, requiredRole string) error {
	if err := checkContext(ctx, "authorization"); err != nil {
		return err
	}

	user, err := m.store.FindUserByID(ctx, userID)
	if err != nil {
		if IsNotFound(err) {
			return NewNotFound("no user was found", map[string]any{"user_id": userID.String()})
		}
		return dependencyFailure(err, "failed to retrieve user for authorization")
	}

	if user.IsDeleted || !m.roles.Authorize(string(user.Role), requiredRole) {
		m.record(ctx, ActivityEvent{
			EventType: ActivityEventAuthorizationDenied,
			UserID:    user.ID.String(),
			AccountID: user.AccountID.String(),
			Metadata:  map[string]any{"role": string(user.Role), "required": requiredRole},
		})
		return withMetadata(ErrNotAuthorized, map[string]any{"required": requiredRole})
	}

	return nil
}

// AuthorizeClaims checks the role carried by validated claims without
// a store round trip.
func (m *SessionManager) AuthorizeClaims(claims AuthClaims, requiredRole string) error {
	if claims == nil || !m.roles.Authorize(claims.Role(), requiredRole) {
		return withMetadata(ErrNotAuthorized, map[string]any{"required": requiredRole})
	}
	return nil
}

// PruneRefreshTokens drops expired refresh tokens for every user.
func (m *SessionManager) PruneRefreshTokens(ctx context.Context) (int64, error) {
	return m.refresh.Prune(ctx)
}

func (m *SessionManager) dummyPasswordHash() string {
	m.dummyOnce.Do(func() {
		hash, err := RandomPasswordHash(m.hasher)
		if err != nil {
			m.logger.Warn("failed to prepare dummy password hash", "error", err)
		}
		m.dummyHash = hash
	})
	return m.dummyHash
}

func (m *SessionManager) record(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = m.clock()
	}
	if err := m.sink.Record(ctx, event); err != nil {
		m.logger.Warn("activity sink error", "event", string(event.EventType), "error", err)
	}
}

func checkContext(ctx context.Context, operation string) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during "+operation)
	default:
		return nil
	}
}
