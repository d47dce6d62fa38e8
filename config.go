package auth

import (
	"time"
)

const (
	// DefaultTokenExpiration is the access token lifetime in seconds.
	DefaultTokenExpiration = 10080
	// DefaultRefreshTokenExpiration is the refresh token lifetime.
	DefaultRefreshTokenExpiration = 7 * 24 * time.Hour
	// DefaultMaxRefreshTokens is how many refresh tokens a user keeps.
	DefaultMaxRefreshTokens = 5
	// DefaultMaxLoginAttempts is the failure count that locks an account.
	DefaultMaxLoginAttempts = 10
	// DefaultLockDuration is how long a locked account stays locked.
	DefaultLockDuration = 2 * time.Hour
	// DefaultPasswordResetExpiration is the reset token lifetime.
	DefaultPasswordResetExpiration = time.Hour
	// DefaultPasswordHashCost is the bcrypt work factor.
	DefaultPasswordHashCost = 10
)

// Config holds auth options
type Config interface {
	GetSigningKey() string
	GetIssuer() string
	GetAudience() []string
	// GetTokenExpiration is expressed in seconds.
	GetTokenExpiration() int
	GetRefreshTokenExpiration() time.Duration
	GetMaxRefreshTokens() int
	GetMaxLoginAttempts() int
	GetLockDuration() time.Duration
	GetPasswordResetExpiration() time.Duration
	GetPasswordHashCost() int
	GetDebug() bool
}

// Options is the default Config implementation. Zero values fall back
// to the package defaults.
type Options struct {
	SigningKey              string        `koanf:"signing_key" json:"signing_key"`
	Issuer                  string        `koanf:"issuer" json:"issuer"`
	Audience                []string      `koanf:"audience" json:"audience"`
	TokenExpiration         int           `koanf:"token_expiration" json:"token_expiration"`
	RefreshTokenExpiration  time.Duration `koanf:"refresh_token_expiration" json:"refresh_token_expiration"`
	MaxRefreshTokens        int           `koanf:"max_refresh_tokens" json:"max_refresh_tokens"`
	MaxLoginAttempts        int           `koanf:"max_login_attempts" json:"max_login_attempts"`
	LockDuration            time.Duration `koanf:"lock_duration" json:"lock_duration"`
	PasswordResetExpiration time.Duration `koanf:"password_reset_expiration" json:"password_reset_expiration"`
	PasswordHashCost        int           `koanf:"password_hash_cost" json:"password_hash_cost"`
	Debug                   bool          `koanf:"debug" json:"debug"`
}

var _ Config = Options{}

func (o Options) GetSigningKey() string {
	return o.SigningKey
}

func (o Options) GetIssuer() string {
	return o.Issuer
}

func (o Options) GetAudience() []string {
	return o.Audience
}

func (o Options) GetTokenExpiration() int {
	if o.TokenExpiration <= 0 {
		return DefaultTokenExpiration
	}
	return o.TokenExpiration
}

func (o Options) GetRefreshTokenExpiration() time.Duration {
	if o.RefreshTokenExpiration <= 0 {
		return DefaultRefreshTokenExpiration
	}
	return o.RefreshTokenExpiration
}

func (o Options) GetMaxRefreshTokens() int {
	if o.MaxRefreshTokens <= 0 {
		return DefaultMaxRefreshTokens
	}
	return o.MaxRefreshTokens
}

func (o Options) GetMaxLoginAttempts() int {
	if o.MaxLoginAttempts <= 0 {
		return DefaultMaxLoginAttempts
	}
	return o.MaxLoginAttempts
}

func (o Options) GetLockDuration() time.Duration {
	if o.LockDuration <= 0 {
		return DefaultLockDuration
	}
	return o.LockDuration
}

func (o Options) GetPasswordResetExpiration() time.Duration {
	if o.PasswordResetExpiration <= 0 {
		return DefaultPasswordResetExpiration
	}
	return o.PasswordResetExpiration
}

func (o Options) GetPasswordHashCost() int {
	if o.PasswordHashCost <= 0 {
		return DefaultPasswordHashCost
	}
	return o.PasswordHashCost
}

func (o Options) GetDebug() bool {
	return o.Debug
}

// tokenTTL converts the configured expiration, which is in seconds.
func tokenTTL(cfg Config) time.Duration {
	return time.Duration(cfg.GetTokenExpiration()) * time.Second
}
