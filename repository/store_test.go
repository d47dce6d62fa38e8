package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun/driver/sqliteshim"

	auth "github.com/goliatone/go-tenant-auth"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func setupStore(t *testing.T) *Store {
	t.Helper()

	sqlDB, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	db, err := NewDB(sqlDB, DriverSQLite)
	require.NoError(t, err)

	_, err = db.Exec("PRAGMA foreign_keys = ON;")
	require.NoError(t, err)

	require.NoError(t, RunMigrations(context.Background(), db))

	t.Cleanup(func() {
		_ = db.Close()
	})

	store := NewStore(db)
	require.NoError(t, store.Validate())
	return store
}

func seedUser(t *testing.T, store *Store, email string) *auth.User {
	t.Helper()
	ctx := context.Background()

	account, err := store.CreateAccount(ctx, &auth.Account{
		ID:        uuid.New(),
		Name:      uuid.NewString(),
		CreatedAt: baseTime,
		UpdatedAt: baseTime,
	})
	require.NoError(t, err)

	user, err := store.CreateUser(ctx, &auth.User{
		ID:           uuid.New(),
		AccountID:    account.ID,
		Email:        email,
		PasswordHash: "hash",
		Role:         auth.RoleOwner,
		Settings:     auth.Settings{TimeZone: auth.DefaultTimeZone},
		RegisterCode: uuid.NewString(),
		CreatedAt:    baseTime,
		UpdatedAt:    baseTime,
	})
	require.NoError(t, err)
	return user
}

func refreshToken(token string, created time.Time, ttl time.Duration) auth.RefreshToken {
	return auth.RefreshToken{Token: token, CreatedAt: created, ExpiredAt: created.Add(ttl)}
}

func tokenValues(user *auth.User) []string {
	out := make([]string, 0, len(user.RefreshTokens))
	for _, t := range user.RefreshTokens {
		out = append(out, t.Token)
	}
	return out
}

func TestStoreCreateAndFindUser(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	created := seedUser(t, store, "owner@example.com")

	byEmail, err := store.FindUserByEmail(ctx, "owner@example.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)
	assert.Equal(t, auth.RoleOwner, byEmail.Role)
	assert.Equal(t, auth.DefaultTimeZone, byEmail.Settings.TimeZone)
	assert.Empty(t, byEmail.RefreshTokens)

	byID, err := store.FindUserByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", byID.Email)

	_, err = store.FindUserByEmail(ctx, "missing@example.com")
	assert.True(t, auth.IsNotFound(err))

	_, err = store.FindUserByID(ctx, uuid.New())
	assert.True(t, auth.IsNotFound(err))
}

func TestStoreCreateUserDuplicateEmail(t *testing.T) {
	store := setupStore(t)
	seedUser(t, store, "dup@example.com")

	account, err := store.CreateAccount(context.Background(), &auth.Account{
		ID: uuid.New(), Name: "other", CreatedAt: baseTime, UpdatedAt: baseTime,
	})
	require.NoError(t, err)

	_, err = store.CreateUser(context.Background(), &auth.User{
		ID:           uuid.New(),
		AccountID:    account.ID,
		Email:        "dup@example.com",
		PasswordHash: "hash",
		Role:         auth.RoleOwner,
		CreatedAt:    baseTime,
		UpdatedAt:    baseTime,
	})
	require.Error(t, err)
	assert.Equal(t, auth.KindConflict, auth.KindOf(err))
}

func TestStoreAccountCreatorAndDelete(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	user := seedUser(t, store, "creator@example.com")

	require.NoError(t, store.SetAccountCreator(ctx, user.AccountID, user.ID))

	account, err := store.FindAccountByID(ctx, user.AccountID)
	require.NoError(t, err)
	require.NotNil(t, account.CreatorID)
	assert.Equal(t, user.ID, *account.CreatorID)

	require.NoError(t, store.DeleteAccount(ctx, user.AccountID))

	_, err = store.FindAccountByID(ctx, user.AccountID)
	assert.True(t, auth.IsNotFound(err))

	_, err = store.FindUserByID(ctx, user.ID)
	assert.True(t, auth.IsNotFound(err), "users cascade with their account")
}

func TestStoreMarkUserVerified(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	user := seedUser(t, store, "verify@example.com")

	require.NoError(t, store.MarkUserVerified(ctx, user.ID))

	got, err := store.FindUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, got.IsVerified)

	assert.True(t, auth.IsNotFound(store.MarkUserVerified(ctx, uuid.New())))
}

func TestStoreRegisterFailedLogin(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	user := seedUser(t, store, "lock@example.com")

	policy := auth.LockoutPolicy{MaxAttempts: 3, LockDuration: time.Hour}

	for i := 1; i <= 2; i++ {
		state, err := store.RegisterFailedLogin(ctx, user.ID, baseTime, policy)
		require.NoError(t, err)
		assert.Equal(t, i, state.Attempts)
		assert.Nil(t, state.LockUntil)
	}

	state, err := store.RegisterFailedLogin(ctx, user.ID, baseTime, policy)
	require.NoError(t, err)
	assert.Equal(t, 3, state.Attempts)
	require.NotNil(t, state.LockUntil)
	assert.True(t, state.LockUntil.Equal(baseTime.Add(time.Hour)))

	got, err := store.FindUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.LoginAttempts)
	require.NotNil(t, got.LockUntil)
	assert.True(t, got.LockUntil.Equal(baseTime.Add(time.Hour)))

	// after the lock elapsed a failure starts a new window
	state, err = store.RegisterFailedLogin(ctx, user.ID, baseTime.Add(2*time.Hour), policy)
	require.NoError(t, err)
	assert.Equal(t, 1, state.Attempts)
	assert.Nil(t, state.LockUntil)

	require.NoError(t, store.ClearFailedLogins(ctx, user.ID))
	got, err = store.FindUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.LoginAttempts)
	assert.Nil(t, got.LockUntil)
}

func TestStorePushRefreshTokenKeepsNewest(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	user := seedUser(t, store, "fifo@example.com")

	for i, token := range []string{"t1", "t2", "t3", "t4", "t5", "t6"} {
		created := baseTime.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.PushRefreshToken(ctx, user.ID, refreshToken(token, created, time.Hour), 5))
	}

	got, err := store.FindUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"t2", "t3", "t4", "t5", "t6"}, tokenValues(got))
}

func TestStoreRefreshTokenListLocksUser(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	user := seedUser(t, store, "parallel@example.com")

	err := store.PushRefreshToken(ctx, uuid.New(), refreshToken("orphan", baseTime, time.Hour), 5)
	assert.True(t, auth.IsNotFound(err), "unknown users have no token list")

	err = store.RotateRefreshToken(ctx, uuid.New(), "orphan", refreshToken("next", baseTime, time.Hour), baseTime, 5)
	assert.True(t, auth.IsNotFound(err))

	var wg sync.WaitGroup
	errs := make(chan error, 12)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token := refreshToken(fmt.Sprintf("p%02d", i), baseTime.Add(time.Duration(i)*time.Second), time.Hour)
			errs <- store.PushRefreshToken(ctx, user.ID, token, 5)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := store.FindUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, got.RefreshTokens, 5)
}

func TestStoreRotateRefreshToken(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	user := seedUser(t, store, "rotate@example.com")

	require.NoError(t, store.PushRefreshToken(ctx, user.ID, refreshToken("stale", baseTime.Add(-2*time.Hour), time.Hour), 5))
	require.NoError(t, store.PushRefreshToken(ctx, user.ID, refreshToken("current", baseTime, time.Hour), 5))

	next := refreshToken("next", baseTime, time.Hour)
	require.NoError(t, store.RotateRefreshToken(ctx, user.ID, "current", next, baseTime, 5))

	got, err := store.FindUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"next"}, tokenValues(got))

	err = store.RotateRefreshToken(ctx, user.ID, "current", refreshToken("again", baseTime, time.Hour), baseTime, 5)
	assert.True(t, auth.IsNotFound(err), "a token rotates once")

	err = store.RotateRefreshToken(ctx, user.ID, "next", refreshToken("late", baseTime, time.Hour), baseTime.Add(time.Hour), 5)
	assert.True(t, auth.IsNotFound(err), "expired tokens do not rotate")
}

func TestStorePullAndPruneRefreshTokens(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	user := seedUser(t, store, "prune@example.com")

	require.NoError(t, store.PushRefreshToken(ctx, user.ID, refreshToken("old", baseTime.Add(-2*time.Hour), time.Hour), 5))
	require.NoError(t, store.PushRefreshToken(ctx, user.ID, refreshToken("live", baseTime, time.Hour), 5))
	require.NoError(t, store.PushRefreshToken(ctx, user.ID, refreshToken("drop", baseTime, time.Hour), 5))

	require.NoError(t, store.PullRefreshToken(ctx, user.ID, "drop"))

	n, err := store.PruneExpiredRefreshTokens(ctx, baseTime)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := store.FindUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"live"}, tokenValues(got))
}

func TestStorePasswordReset(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	user := seedUser(t, store, "reset@example.com")

	require.NoError(t, store.SetPasswordReset(ctx, user.ID, "abc123", baseTime.Add(time.Hour)))

	found, err := store.FindUserByResetToken(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)
	require.NotNil(t, found.PasswordResetExpires)
	assert.True(t, found.PasswordResetExpires.Equal(baseTime.Add(time.Hour)))

	_, err = store.CompletePasswordReset(ctx, "abc123", "new-hash", baseTime.Add(2*time.Hour))
	assert.True(t, auth.IsNotFound(err), "expired tokens are not applied")

	updated, err := store.CompletePasswordReset(ctx, "abc123", "new-hash", baseTime)
	require.NoError(t, err)
	assert.Equal(t, "new-hash", updated.PasswordHash)
	assert.Empty(t, updated.PasswordResetToken)
	assert.Nil(t, updated.PasswordResetExpires)

	_, err = store.FindUserByResetToken(ctx, "abc123")
	assert.True(t, auth.IsNotFound(err))

	_, err = store.CompletePasswordReset(ctx, "abc123", "other-hash", baseTime)
	assert.True(t, auth.IsNotFound(err), "a reset token is single use")
}

func TestStorePasswordResetSkipsDeletedUser(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	user := seedUser(t, store, "gone@example.com")

	require.NoError(t, store.SetPasswordReset(ctx, user.ID, "dead01", baseTime.Add(time.Hour)))

	_, err := store.db.NewUpdate().
		Model((*UserModel)(nil)).
		Set("is_deleted = ?", true).
		Where("id = ?", user.ID).
		Exec(ctx)
	require.NoError(t, err)

	_, err = store.CompletePasswordReset(ctx, "dead01", "new-hash", baseTime)
	assert.True(t, auth.IsNotFound(err))

	found, err := store.FindUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "hash", found.PasswordHash)
}
