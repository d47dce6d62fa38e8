// Package memstore keeps accounts and users in process memory. It is
// meant for tests and single instance development setups.
package memstore

import (
	"context"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"

	auth "github.com/goliatone/go-tenant-auth"
)

// Store is a mutex guarded auth.Store. Records are copied on the way
// in and out so callers never share state with the store.
type Store struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]*auth.Account
	users    map[uuid.UUID]*auth.User
	emails   map[string]uuid.UUID
}

var _ auth.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		accounts: make(map[uuid.UUID]*auth.Account),
		users:    make(map[uuid.UUID]*auth.User),
		emails:   make(map[string]uuid.UUID),
	}
}

func (s *Store) CreateAccount(ctx context.Context, account *auth.Account) (*auth.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if account == nil {
		return nil, auth.NewValidationError("account is required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[account.ID]; ok {
		return nil, goerrors.New("account already exists", goerrors.CategoryConflict).
			WithCode(goerrors.CodeConflict)
	}

	stored := copyAccount(account)
	s.accounts[stored.ID] = stored
	return copyAccount(stored), nil
}

func (s *Store) FindAccountByID(ctx context.Context, id uuid.UUID) (*auth.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, auth.NewNotFound("account not found", map[string]any{"account_id": id.String()})
	}
	return copyAccount(account), nil
}

func (s *Store) SetAccountCreator(ctx context.Context, accountID, userID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return auth.NewNotFound("account not found", map[string]any{"account_id": accountID.String()})
	}
	creator := userID
	account.CreatorID = &creator
	account.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteAccount removes the account and every user that belongs to it.
func (s *Store) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[id]; !ok {
		return auth.NewNotFound("account not found", map[string]any{"account_id": id.String()})
	}
	delete(s.accounts, id)

	for userID, user := range s.users {
		if user.AccountID == id {
			delete(s.emails, auth.NormalizeEmail(user.Email))
			delete(s.users, userID)
		}
	}
	return nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.emails[auth.NormalizeEmail(email)]
	if !ok {
		return nil, auth.NewNotFound("user not found", map[string]any{"email": email})
	}
	return copyUser(s.users[id]), nil
}

func (s *Store) FindUserByID(ctx context.Context, id uuid.UUID) (*auth.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	user, err := s.user(id)
	if err != nil {
		return nil, err
	}
	return copyUser(user), nil
}

func (s *Store) FindUserByResetToken(ctx context.Context, token string) (*auth.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if user := s.userByResetToken(token); user != nil {
		return copyUser(user), nil
	}
	return nil, auth.NewNotFound("user not found", nil)
}

func (s *Store) CreateUser(ctx context.Context, user *auth.User) (*auth.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if user == nil {
		return nil, auth.NewValidationError("user is required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	email := auth.NormalizeEmail(user.Email)
	if _, ok := s.emails[email]; ok {
		return nil, goerrors.New("email already registered", goerrors.CategoryConflict).
			WithTextCode(auth.TextCodeEmailTaken).
			WithCode(goerrors.CodeConflict)
	}
	if _, ok := s.accounts[user.AccountID]; !ok {
		return nil, auth.NewNotFound("account not found", map[string]any{"account_id": user.AccountID.String()})
	}

	stored := copyUser(user)
	stored.Email = email
	s.users[stored.ID] = stored
	s.emails[email] = stored.ID
	return copyUser(stored), nil
}

func (s *Store) MarkUserVerified(ctx context.Context, id uuid.UUID) error {
	return s.update(ctx, id, func(user *auth.User) error {
		user.IsVerified = true
		return nil
	})
}

// RegisterFailedLogin applies the policy under the write lock.
func (s *Store) RegisterFailedLogin(ctx context.Context, id uuid.UUID, now time.Time, policy auth.LockoutPolicy) (auth.LockState, error) {
	var state auth.LockState
	err := s.update(ctx, id, func(user *auth.User) error {
		state = policy.NextFailure(user.LockState(), now)
		user.LoginAttempts = state.Attempts
		user.LockUntil = copyTime(state.LockUntil)
		return nil
	})
	return state, err
}

func (s *Store) ClearFailedLogins(ctx context.Context, id uuid.UUID) error {
	return s.update(ctx, id, func(user *auth.User) error {
		user.LoginAttempts = 0
		user.LockUntil = nil
		return nil
	})
}

func (s *Store) PushRefreshToken(ctx context.Context, id uuid.UUID, token auth.RefreshToken, limit int) error {
	return s.update(ctx, id, func(user *auth.User) error {
		user.RefreshTokens = auth.AppendRefreshToken(user.RefreshTokens, token, limit)
		return nil
	})
}

func (s *Store) RotateRefreshToken(ctx context.Context, id uuid.UUID, presented string, next auth.RefreshToken, now time.Time, limit int) error {
	return s.update(ctx, id, func(user *auth.User) error {
		entry, ok := user.FindRefreshToken(presented)
		if !ok || entry.IsExpired(now) {
			return auth.NewNotFound("refresh token not found", map[string]any{"user_id": id.String()})
		}
		remaining, _ := auth.RemoveRefreshToken(auth.PruneExpiredRefreshTokens(user.RefreshTokens, now), presented)
		user.RefreshTokens = auth.AppendRefreshToken(remaining, next, limit)
		return nil
	})
}

func (s *Store) PullRefreshToken(ctx context.Context, id uuid.UUID, token string) error {
	return s.update(ctx, id, func(user *auth.User) error {
		user.RefreshTokens, _ = auth.RemoveRefreshToken(user.RefreshTokens, token)
		return nil
	})
}

func (s *Store) PruneExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for _, user := range s.users {
		kept := auth.PruneExpiredRefreshTokens(user.RefreshTokens, now)
		removed += int64(len(user.RefreshTokens) - len(kept))
		user.RefreshTokens = kept
	}
	return removed, nil
}

func (s *Store) SetPasswordReset(ctx context.Context, id uuid.UUID, token string, expires time.Time) error {
	return s.update(ctx, id, func(user *auth.User) error {
		user.PasswordResetToken = token
		user.PasswordResetExpires = copyTime(&expires)
		return nil
	})
}

func (s *Store) CompletePasswordReset(ctx context.Context, token, passwordHash string, now time.Time) (*auth.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user := s.userByResetToken(token)
	if user == nil || user.IsDeleted || !user.HasPendingReset(now) {
		return nil, auth.NewNotFound("password reset token not found", nil)
	}

	user.PasswordHash = passwordHash
	user.PasswordResetToken = ""
	user.PasswordResetExpires = nil
	user.UpdatedAt = now.UTC()
	return copyUser(user), nil
}

// update runs fn on the stored user under the write lock. Changes are
// discarded when fn fails.
func (s *Store) update(ctx context.Context, id uuid.UUID, fn func(user *auth.User) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.user(id)
	if err != nil {
		return err
	}

	working := copyUser(user)
	if err := fn(working); err != nil {
		return err
	}
	s.users[id] = working
	return nil
}

func (s *Store) user(id uuid.UUID) (*auth.User, error) {
	user, ok := s.users[id]
	if !ok {
		return nil, auth.NewNotFound("user not found", map[string]any{"user_id": id.String()})
	}
	return user, nil
}

func (s *Store) userByResetToken(token string) *auth.User {
	if token == "" {
		return nil
	}
	for _, user := range s.users {
		if user.PasswordResetToken == token {
			return user
		}
	}
	return nil
}

func copyAccount(a *auth.Account) *auth.Account {
	out := *a
	out.CreatorID = copyUUID(a.CreatorID)
	return &out
}

func copyUser(u *auth.User) *auth.User {
	out := *u
	out.CreatorID = copyUUID(u.CreatorID)
	out.LockUntil = copyTime(u.LockUntil)
	out.PasswordResetExpires = copyTime(u.PasswordResetExpires)
	out.RefreshTokens = append([]auth.RefreshToken(nil), u.RefreshTokens...)
	return &out
}

func copyUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
