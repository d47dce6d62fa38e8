package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/goliatone/go-tenant-auth"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, s *Store, email string) *auth.User {
	t.Helper()
	ctx := context.Background()

	account, err := s.CreateAccount(ctx, &auth.Account{ID: uuid.New(), Name: "acme"})
	require.NoError(t, err)

	user, err := s.CreateUser(ctx, &auth.User{
		ID:        uuid.New(),
		AccountID: account.ID,
		Email:     email,
		Role:      auth.RoleOwner,
	})
	require.NoError(t, err)
	return user
}

func TestCreateUserRejectsDuplicateEmail(t *testing.T) {
	s := New()
	user := seed(t, s, "Owner@Example.com")

	_, err := s.CreateUser(context.Background(), &auth.User{
		ID:        uuid.New(),
		AccountID: user.AccountID,
		Email:     "owner@example.com",
	})
	require.Error(t, err)
	assert.Equal(t, auth.KindConflict, auth.KindOf(err))
}

func TestCreateUserRequiresAccount(t *testing.T) {
	s := New()
	_, err := s.CreateUser(context.Background(), &auth.User{ID: uuid.New(), AccountID: uuid.New(), Email: "a@b.co"})
	assert.True(t, auth.IsNotFound(err))
}

func TestReadsAreCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	user := seed(t, s, "copy@example.com")

	require.NoError(t, s.PushRefreshToken(ctx, user.ID, auth.RefreshToken{Token: "a", ExpiredAt: now.Add(time.Hour)}, 5))

	got, err := s.FindUserByID(ctx, user.ID)
	require.NoError(t, err)
	got.Role = auth.RoleSuperAdmin
	got.RefreshTokens[0].Token = "mutated"

	again, err := s.FindUserByEmail(ctx, "copy@example.com")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleOwner, again.Role)
	assert.Equal(t, "a", again.RefreshTokens[0].Token)
}

func TestRegisterFailedLoginLocks(t *testing.T) {
	s := New()
	ctx := context.Background()
	user := seed(t, s, "lock@example.com")
	policy := auth.LockoutPolicy{MaxAttempts: 2, LockDuration: time.Minute}

	state, err := s.RegisterFailedLogin(ctx, user.ID, now, policy)
	require.NoError(t, err)
	assert.Equal(t, 1, state.Attempts)
	assert.False(t, state.IsLocked(now))

	state, err = s.RegisterFailedLogin(ctx, user.ID, now, policy)
	require.NoError(t, err)
	assert.True(t, state.IsLocked(now))

	require.NoError(t, s.ClearFailedLogins(ctx, user.ID))
	got, err := s.FindUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, got.LockState().IsClean())

	_, err = s.RegisterFailedLogin(ctx, uuid.New(), now, policy)
	assert.True(t, auth.IsNotFound(err))
}

func TestRotateRefreshTokenOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	user := seed(t, s, "rotate@example.com")

	require.NoError(t, s.PushRefreshToken(ctx, user.ID, auth.RefreshToken{Token: "old", ExpiredAt: now.Add(-time.Minute)}, 5))
	require.NoError(t, s.PushRefreshToken(ctx, user.ID, auth.RefreshToken{Token: "cur", ExpiredAt: now.Add(time.Hour)}, 5))

	next := auth.RefreshToken{Token: "next", ExpiredAt: now.Add(time.Hour)}
	require.NoError(t, s.RotateRefreshToken(ctx, user.ID, "cur", next, now, 5))

	err := s.RotateRefreshToken(ctx, user.ID, "cur", next, now, 5)
	assert.True(t, auth.IsNotFound(err))

	got, err := s.FindUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, got.RefreshTokens, 1)
	assert.Equal(t, "next", got.RefreshTokens[0].Token)
}

func TestPruneExpiredRefreshTokens(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := seed(t, s, "a@example.com")
	b := seed(t, s, "b@example.com")

	require.NoError(t, s.PushRefreshToken(ctx, a.ID, auth.RefreshToken{Token: "a1", ExpiredAt: now}, 5))
	require.NoError(t, s.PushRefreshToken(ctx, a.ID, auth.RefreshToken{Token: "a2", ExpiredAt: now.Add(time.Hour)}, 5))
	require.NoError(t, s.PushRefreshToken(ctx, b.ID, auth.RefreshToken{Token: "b1", ExpiredAt: now.Add(-time.Hour)}, 5))

	n, err := s.PruneExpiredRefreshTokens(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestCompletePasswordReset(t *testing.T) {
	s := New()
	ctx := context.Background()
	user := seed(t, s, "reset@example.com")

	require.NoError(t, s.SetPasswordReset(ctx, user.ID, "tok", now.Add(time.Minute)))

	_, err := s.CompletePasswordReset(ctx, "tok", "hash", now.Add(time.Hour))
	assert.True(t, auth.IsNotFound(err))

	got, err := s.CompletePasswordReset(ctx, "tok", "hash", now)
	require.NoError(t, err)
	assert.Equal(t, "hash", got.PasswordHash)
	assert.Empty(t, got.PasswordResetToken)

	_, err = s.FindUserByResetToken(ctx, "tok")
	assert.True(t, auth.IsNotFound(err))
}

func TestCompletePasswordResetSkipsDeletedUser(t *testing.T) {
	s := New()
	ctx := context.Background()
	user := seed(t, s, "gone@example.com")

	require.NoError(t, s.SetPasswordReset(ctx, user.ID, "tok", now.Add(time.Minute)))
	s.users[user.ID].IsDeleted = true

	_, err := s.CompletePasswordReset(ctx, "tok", "hash", now)
	assert.True(t, auth.IsNotFound(err))
	assert.Empty(t, s.users[user.ID].PasswordHash)
}

func TestDeleteAccountRemovesUsers(t *testing.T) {
	s := New()
	ctx := context.Background()
	user := seed(t, s, "gone@example.com")

	require.NoError(t, s.DeleteAccount(ctx, user.AccountID))

	_, err := s.FindUserByEmail(ctx, "gone@example.com")
	assert.True(t, auth.IsNotFound(err))
	assert.True(t, auth.IsNotFound(s.DeleteAccount(ctx, user.AccountID)))
}

func TestCancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.FindUserByID(ctx, uuid.New())
	assert.ErrorIs(t, err, context.Canceled)
}
