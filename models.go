package auth

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the user's role
type Role string

const (
	// RoleMember can use the account
	RoleMember Role = "Member"
	// RoleOwner created the account
	RoleOwner Role = "Owner"
	// RoleAdmin operates across accounts
	RoleAdmin Role = "Admin"
	// RoleSuperAdmin operates the platform
	RoleSuperAdmin Role = "SuperAdmin"
)

// ParseRole resolves a role name case insensitively.
func ParseRole(name string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "member":
		return RoleMember, true
	case "owner":
		return RoleOwner, true
	case "admin":
		return RoleAdmin, true
	case "superadmin":
		return RoleSuperAdmin, true
	default:
		return "", false
	}
}

func (r Role) String() string {
	return string(r)
}

// DefaultTimeZone is assigned to new users.
const DefaultTimeZone = "America/Chicago"

// Profile is the public part of a user
type Profile struct {
	FirstName  string `json:"firstName,omitempty"`
	MiddleName string `json:"middleName,omitempty"`
	LastName   string `json:"lastName,omitempty"`
	Photo      string `json:"photo,omitempty"`
}

// MobilePhone is the number used for text delivery.
type MobilePhone struct {
	CountryCode    string `json:"countryCode,omitempty"`
	PhoneNumber    string `json:"phoneNumber,omitempty"`
	NationalFormat string `json:"nationalFormat,omitempty"`
}

// IsZero reports whether no number is set.
func (m MobilePhone) IsZero() bool {
	return strings.TrimSpace(m.PhoneNumber) == ""
}

// Settings are user preferences that travel with the access token.
type Settings struct {
	TimeZone    string      `json:"timeZone,omitempty"`
	MobilePhone MobilePhone `json:"mobilePhone,omitempty"`
}

// RefreshToken is an opaque rotating credential.
type RefreshToken struct {
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiredAt time.Time `json:"expiredAt"`
}

// IsExpired reports whether the token is no longer usable at now.
func (t RefreshToken) IsExpired(now time.Time) bool {
	return !t.ExpiredAt.After(now)
}

// User is the user model
type User struct {
	ID                   uuid.UUID      `json:"id"`
	AccountID            uuid.UUID      `json:"account"`
	CreatorID            *uuid.UUID     `json:"creator,omitempty"`
	Email                string         `json:"email"`
	PasswordHash         string         `json:"-"`
	Role                 Role           `json:"role"`
	Profile              Profile        `json:"profile"`
	Settings             Settings       `json:"settings"`
	IsVerified           bool           `json:"isVerified"`
	IsDeleted            bool           `json:"isDeleted"`
	LoginAttempts        int            `json:"-"`
	LockUntil            *time.Time     `json:"-"`
	RefreshTokens        []RefreshToken `json:"-"`
	PasswordResetToken   string         `json:"-"`
	PasswordResetExpires *time.Time     `json:"-"`
	RegisterCode         string         `json:"-"`
	CreatedAt            time.Time      `json:"createdAt"`
	UpdatedAt            time.Time      `json:"updatedAt"`
}

// LockState returns the lockout fields of the user.
func (u *User) LockState() LockState {
	if u == nil {
		return LockState{}
	}
	return LockState{Attempts: u.LoginAttempts, LockUntil: u.LockUntil}
}

// FindRefreshToken returns the stored entry for token.
func (u *User) FindRefreshToken(token string) (RefreshToken, bool) {
	if u == nil || token == "" {
		return RefreshToken{}, false
	}
	for _, t := range u.RefreshTokens {
		if t.Token == token {
			return t, true
		}
	}
	return RefreshToken{}, false
}

// HasPendingReset reports whether a reset token is stored and not expired.
func (u *User) HasPendingReset(now time.Time) bool {
	if u == nil || u.PasswordResetToken == "" || u.PasswordResetExpires == nil {
		return false
	}
	return u.PasswordResetExpires.After(now)
}

// Account is the tenant a user belongs to
type Account struct {
	ID          uuid.UUID  `json:"id"`
	CreatorID   *uuid.UUID `json:"creator,omitempty"`
	Name        string     `json:"name,omitempty"`
	Description string     `json:"description,omitempty"`
	IsVerified  bool       `json:"isVerified"`
	IsDeleted   bool       `json:"isDeleted"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// NormalizeEmail lower cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
