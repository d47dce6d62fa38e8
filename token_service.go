package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenService issues and validates session credentials
type TokenService interface {
	// IssueAccessToken signs a short lived token for user.
	IssueAccessToken(ctx context.Context, user *User) (string, time.Time, error)
	// IssueRefreshToken creates an opaque refresh token.
	IssueRefreshToken() RefreshToken
	SignClaims(claims *JWTClaims) (string, error)
	Validate(tokenString string) (AuthClaims, error)
}

// TokenServiceImpl implements the TokenService interface
type TokenServiceImpl struct {
	signingKey []byte
	ttl        time.Duration
	refreshTTL time.Duration
	issuer     string
	audience   jwt.ClaimStrings
	clock      Clock
	decorator  ClaimsDecorator
	logger     Logger
}

var _ TokenService = (*TokenServiceImpl)(nil)

// NewTokenService creates a new TokenService instance. ttl applies to
// access tokens.
func NewTokenService(signingKey []byte, ttl time.Duration, issuer string, audience []string, logger Logger) *TokenServiceImpl {
	if logger == nil {
		logger = defaultLogger()
	}
	if ttl <= 0 {
		ttl = DefaultTokenExpiration * time.Second
	}

	var aud jwt.ClaimStrings
	if len(audience) > 0 {
		aud = append(jwt.ClaimStrings(nil), audience...)
	}

	return &TokenServiceImpl{
		signingKey: signingKey,
		ttl:        ttl,
		refreshTTL: DefaultRefreshTokenExpiration,
		issuer:     issuer,
		audience:   aud,
		clock:      defaultClock,
		logger:     logger,
	}
}

// NewTokenServiceFromConfig wires a token service from cfg.
func NewTokenServiceFromConfig(cfg Config, logger Logger) *TokenServiceImpl {
	return NewTokenService(
		[]byte(cfg.GetSigningKey()),
		tokenTTL(cfg),
		cfg.GetIssuer(),
		cfg.GetAudience(),
		logger,
	).WithRefreshExpiration(cfg.GetRefreshTokenExpiration())
}

func (ts *TokenServiceImpl) WithClock(c Clock) *TokenServiceImpl {
	ts.clock = normalizeClock(c)
	return ts
}

// WithClaimsDecorator runs d on every access token before signing.
func (ts *TokenServiceImpl) WithClaimsDecorator(d ClaimsDecorator) *TokenServiceImpl {
	ts.decorator = d
	return ts
}

func (ts *TokenServiceImpl) WithRefreshExpiration(d time.Duration) *TokenServiceImpl {
	if d > 0 {
		ts.refreshTTL = d
	}
	return ts
}

// TTL returns the access token lifetime.
func (ts *TokenServiceImpl) TTL() time.Duration {
	return ts.ttl
}

// IssueAccessToken creates a JWT carrying the user's claim subset
func (ts *TokenServiceImpl) IssueAccessToken(ctx context.Context, user *User) (string, time.Time, error) {
	if user == nil {
		return "", time.Time{}, goerrors.New("user is required", goerrors.CategoryBadInput)
	}

	now := ts.clock()
	expiresAt := now.Add(ts.ttl)

	claims := ClaimsFromUser(user)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    ts.issuer,
		Subject:   user.ID.String(),
		Audience:  ts.audience,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	ensureTokenID(&claims.RegisteredClaims)

	if err := decorateClaims(ctx, ts.decorator, user, claims); err != nil {
		return "", time.Time{}, err
	}

	signed, err := ts.SignClaims(claims)
	if err != nil {
		return "", time.Time{}, err
	}

	return signed, expiresAt, nil
}

// IssueRefreshToken generates a random refresh token valid for the
// configured refresh lifetime.
func (ts *TokenServiceImpl) IssueRefreshToken() RefreshToken {
	now := ts.clock()
	return RefreshToken{
		Token:     uuid.NewString(),
		CreatedAt: now,
		ExpiredAt: now.Add(ts.refreshTTL),
	}
}

// SignClaims signs arbitrary JWT claims using the configured signing key.
func (ts *TokenServiceImpl) SignClaims(claims *JWTClaims) (string, error) {
	if claims == nil {
		return "", goerrors.New("claims must not be nil", goerrors.CategoryInternal)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedString, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", internalError(err, "failed to sign JWT")
	}

	return signedString, nil
}

// Validate parses and validates a token string, returning structured claims
func (ts *TokenServiceImpl) Validate(tokenString string) (AuthClaims, error) {
	parserOptions := []jwt.ParserOption{
		jwt.WithTimeFunc(ts.clock),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience...))
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("TokenService validate encountered unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		if goerrors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, goerrors.Wrap(err, ErrTokenMalformed.Category, ErrTokenMalformed.Message).
			WithTextCode(ErrTokenMalformed.TextCode).
			WithCode(ErrTokenMalformed.Code)
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}

	ts.logger.Error("TokenService validate could not decode or validate claims")
	return nil, ErrTokenMalformed
}
