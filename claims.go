package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AuthClaims is the read side of a validated access token
type AuthClaims interface {
	Subject() string
	UserID() string
	AccountID() string
	Role() string
	Email() string
	Expires() time.Time
	IssuedAt() time.Time
}

// ClaimsSettings is the subset of user settings carried in the token.
type ClaimsSettings struct {
	TimeZone    string      `json:"timeZone,omitempty"`
	MobilePhone MobilePhone `json:"mobilePhone,omitempty"`
}

// JWTClaims is the concrete implementation of AuthClaims
type JWTClaims struct {
	jwt.RegisteredClaims
	UID       string         `json:"uid,omitempty"`
	Account   string         `json:"account,omitempty"`
	UserRole  string         `json:"role,omitempty"`
	UserEmail string         `json:"email,omitempty"`
	Profile   Profile        `json:"profile"`
	Settings  ClaimsSettings `json:"settings"`
	// Metadata is free for ClaimsDecorator extensions.
	Metadata map[string]any `json:"metadata,omitempty"`
}

var _ AuthClaims = (*JWTClaims)(nil)

// ClaimsFromUser builds the claim set for user. Registered claims are
// filled by the token service.
func ClaimsFromUser(user *User) *JWTClaims {
	if user == nil {
		return &JWTClaims{}
	}
	return &JWTClaims{
		UID:       user.ID.String(),
		Account:   user.AccountID.String(),
		UserRole:  string(user.Role),
		UserEmail: user.Email,
		Profile:   user.Profile,
		Settings: ClaimsSettings{
			TimeZone:    user.Settings.TimeZone,
			MobilePhone: user.Settings.MobilePhone,
		},
	}
}

// Subject returns the subject claim
func (c *JWTClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// UserID returns the user ID
func (c *JWTClaims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.Subject()
}

// UserUUID parses the user id.
func (c *JWTClaims) UserUUID() (uuid.UUID, error) {
	return uuid.Parse(c.UserID())
}

func (c *JWTClaims) AccountID() string {
	return c.Account
}

// Role returns the global role
func (c *JWTClaims) Role() string {
	return c.UserRole
}

func (c *JWTClaims) Email() string {
	return c.UserEmail
}

// Expires returns the expiration time
func (c *JWTClaims) Expires() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// IssuedAt returns the issued at time
func (c *JWTClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt == nil {
		return time.Time{}
	}
	return c.RegisteredClaims.IssuedAt.Time
}

func ensureTokenID(claims *jwt.RegisteredClaims) {
	if claims != nil && claims.ID == "" {
		claims.ID = uuid.NewString()
	}
}
