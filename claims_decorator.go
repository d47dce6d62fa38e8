package auth

import (
	"context"
	"slices"

	"github.com/golang-jwt/jwt/v5"
)

// ClaimsDecorator can add extension data to access token claims before
// they are signed. Identity claims (sub, iss, aud, iat, exp, jti, uid,
// account, role, email) must come out unchanged or issuing fails.
type ClaimsDecorator interface {
	Decorate(ctx context.Context, user *User, claims *JWTClaims) error
}

// ClaimsDecoratorFunc adapts a function into a ClaimsDecorator.
type ClaimsDecoratorFunc func(ctx context.Context, user *User, claims *JWTClaims) error

func (f ClaimsDecoratorFunc) Decorate(ctx context.Context, user *User, claims *JWTClaims) error {
	if f == nil {
		return nil
	}
	return f(ctx, user, claims)
}

type identityClaims struct {
	registered jwt.RegisteredClaims
	uid        string
	account    string
	role       string
	email      string
}

func snapshotIdentity(c *JWTClaims) identityClaims {
	snap := identityClaims{
		registered: c.RegisteredClaims,
		uid:        c.UID,
		account:    c.Account,
		role:       c.UserRole,
		email:      c.UserEmail,
	}
	snap.registered.Audience = slices.Clone(c.Audience)
	return snap
}

// changed names the first identity claim that differs from the snapshot.
func (s identityClaims) changed(c *JWTClaims) (string, bool) {
	r := c.RegisteredClaims
	switch {
	case r.Subject != s.registered.Subject:
		return "sub", true
	case r.Issuer != s.registered.Issuer:
		return "iss", true
	case r.ID != s.registered.ID:
		return "jti", true
	case !slices.Equal(r.Audience, s.registered.Audience):
		return "aud", true
	case !sameDate(r.IssuedAt, s.registered.IssuedAt):
		return "iat", true
	case !sameDate(r.ExpiresAt, s.registered.ExpiresAt):
		return "exp", true
	case c.UID != s.uid:
		return "uid", true
	case c.Account != s.account:
		return "account", true
	case c.UserRole != s.role:
		return "role", true
	case c.UserEmail != s.email:
		return "email", true
	}
	return "", false
}

func sameDate(a, b *jwt.NumericDate) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Time.Equal(b.Time)
}

// decorateClaims runs d and rejects any change to identity claims.
func decorateClaims(ctx context.Context, d ClaimsDecorator, user *User, claims *JWTClaims) error {
	if d == nil {
		return nil
	}

	snap := snapshotIdentity(claims)
	if err := d.Decorate(ctx, user, claims); err != nil {
		return internalError(err, "claims decorator failed")
	}

	if field, ok := snap.changed(claims); ok {
		return withMetadata(ErrImmutableClaimMutation, map[string]any{"claim": field})
	}
	return nil
}
