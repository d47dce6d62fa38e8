package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UserStore persists users. Every mutating method is a single atomic
// operation keyed by user; the core never does fetch then save.
// Lookups of missing records return an error for which IsNotFound is true.
type UserStore interface {
	LockoutStore

	FindUserByEmail(ctx context.Context, email string) (*User, error)
	FindUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	FindUserByResetToken(ctx context.Context, token string) (*User, error)
	CreateUser(ctx context.Context, user *User) (*User, error)
	MarkUserVerified(ctx context.Context, id uuid.UUID) error

	// PushRefreshToken appends token and evicts the oldest entries
	// beyond limit.
	PushRefreshToken(ctx context.Context, id uuid.UUID, token RefreshToken, limit int) error
	// RotateRefreshToken removes presented, drops entries expired at now,
	// appends next and trims to limit. It fails with a not found error
	// when presented is no longer stored or already expired, so a token
	// rotates at most once.
	RotateRefreshToken(ctx context.Context, id uuid.UUID, presented string, next RefreshToken, now time.Time, limit int) error
	// PullRefreshToken removes a single token.
	PullRefreshToken(ctx context.Context, id uuid.UUID, token string) error
	// PruneExpiredRefreshTokens removes every token expired at now for
	// all users and returns how many were removed.
	PruneExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)

	// SetPasswordReset stores the reset token pair.
	SetPasswordReset(ctx context.Context, id uuid.UUID, token string, expires time.Time) error
	// CompletePasswordReset sets passwordHash and clears the reset pair
	// only when token is stored and not expired at now.
	CompletePasswordReset(ctx context.Context, token, passwordHash string, now time.Time) (*User, error)
}

// AccountStore persists tenant accounts.
type AccountStore interface {
	CreateAccount(ctx context.Context, account *Account) (*Account, error)
	FindAccountByID(ctx context.Context, id uuid.UUID) (*Account, error)
	SetAccountCreator(ctx context.Context, accountID, userID uuid.UUID) error
	DeleteAccount(ctx context.Context, id uuid.UUID) error
}

// Store is everything the session manager needs.
type Store interface {
	UserStore
	AccountStore
}
