package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/goliatone/go-tenant-auth"
	"github.com/goliatone/go-tenant-auth/memstore"
)

// flakyStore fails user creation so registration has to roll back.
type flakyStore struct {
	*memstore.Store
	createUserErr error
	accounts      []uuid.UUID
}

func (s *flakyStore) CreateAccount(ctx context.Context, account *auth.Account) (*auth.Account, error) {
	created, err := s.Store.CreateAccount(ctx, account)
	if err == nil {
		s.accounts = append(s.accounts, created.ID)
	}
	return created, err
}

func (s *flakyStore) CreateUser(ctx context.Context, user *auth.User) (*auth.User, error) {
	if s.createUserErr != nil {
		return nil, s.createUserErr
	}
	return s.Store.CreateUser(ctx, user)
}

func TestRegister_CreatesUnverifiedOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.manager.Register(ctx, auth.RegisterRequest{
		Email:       "New.Owner@Example.com",
		Password:    testPassword,
		FirstName:   "Grace",
		AccountName: "Hopper Labs",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.RegisterCode)

	user := f.user(t, result.UserID)
	assert.Equal(t, "new.owner@example.com", user.Email)
	assert.Equal(t, auth.RoleOwner, user.Role)
	assert.Equal(t, auth.DefaultTimeZone, user.Settings.TimeZone)
	assert.Equal(t, "Grace", user.Profile.FirstName)
	assert.False(t, user.IsVerified)
	assert.NotEqual(t, testPassword, user.PasswordHash)

	account, err := f.store.FindAccountByID(ctx, result.AccountID)
	require.NoError(t, err)
	assert.Equal(t, "Hopper Labs", account.Name)
	require.NotNil(t, account.CreatorID)
	assert.Equal(t, result.UserID, *account.CreatorID)

	_, err = f.login("new.owner@example.com", testPassword)
	assert.ErrorIs(t, err, auth.ErrAccountUnverified)

	assert.Contains(t, f.sink.types(), auth.ActivityEventUserRegistered)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	f := newFixture(t)
	f.registerVerified(t, "taken@example.com")

	_, err := f.manager.Register(context.Background(), auth.RegisterRequest{
		Email:    "TAKEN@example.com",
		Password: testPassword,
	})
	require.Error(t, err)
	assert.Equal(t, auth.KindConflict, auth.KindOf(err))
	assert.True(t, auth.HasTextCode(err, auth.TextCodeEmailTaken))
}

func TestRegister_RollsBackAccount(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind auth.ErrorKind
	}{
		{
			name:     "store failure",
			err:      errors.New("disk full"),
			wantKind: auth.KindDependencyFailure,
		},
		{
			name: "lost race on email",
			err: goerrors.New("duplicate", goerrors.CategoryConflict).
				WithTextCode(auth.TextCodeEmailTaken),
			wantKind: auth.KindConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &flakyStore{Store: memstore.New(), createUserErr: tt.err}
			sink := &capturingSink{}
			manager := auth.NewSessionManager(store, testOptions()).WithActivitySink(sink)

			_, err := manager.Register(context.Background(), auth.RegisterRequest{
				Email:    "rollback@example.com",
				Password: testPassword,
			})
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, auth.KindOf(err))

			require.Len(t, store.accounts, 1)
			_, err = store.FindAccountByID(context.Background(), store.accounts[0])
			assert.True(t, auth.IsNotFound(err), "account is removed")
			assert.Contains(t, sink.types(), auth.ActivityEventRegistrationRollback)
		})
	}
}

func TestRegister_HashidUserID(t *testing.T) {
	f := newFixture(t)
	f.manager.WithHashid(true)

	result, err := f.manager.Register(context.Background(), auth.RegisterRequest{
		Email:    "hashed@example.com",
		Password: testPassword,
	})
	require.NoError(t, err)

	want, err := hashid.NewUUID("hashed@example.com")
	require.NoError(t, err)
	assert.Equal(t, want, result.UserID)
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Register(context.Background(), auth.RegisterRequest{
		Email:    "not-an-email",
		Password: "123",
	})
	require.Error(t, err)
	assert.Equal(t, auth.KindValidation, auth.KindOf(err))

	resp := auth.ToErrorResponse(err, false)
	assert.Contains(t, resp.Metadata, "email")
	assert.Contains(t, resp.Metadata, "password")
}

func TestConfirmRegistration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.manager.Register(ctx, auth.RegisterRequest{Email: "confirm@example.com", Password: testPassword})
	require.NoError(t, err)

	err = f.manager.ConfirmRegistration(ctx, auth.ConfirmRegistrationRequest{Email: "confirm@example.com", RegisterCode: "wrong"})
	assert.ErrorIs(t, err, auth.ErrRegisterCodeInvalid)

	err = f.manager.ConfirmRegistration(ctx, auth.ConfirmRegistrationRequest{Email: "ghost@example.com", RegisterCode: result.RegisterCode})
	assert.ErrorIs(t, err, auth.ErrRegisterCodeInvalid)

	require.NoError(t, f.manager.ConfirmRegistration(ctx, auth.ConfirmRegistrationRequest{Email: "confirm@example.com", RegisterCode: result.RegisterCode}))
	assert.True(t, f.user(t, result.UserID).IsVerified)

	// confirming twice is harmless
	require.NoError(t, f.manager.ConfirmRegistration(ctx, auth.ConfirmRegistrationRequest{Email: "confirm@example.com", RegisterCode: result.RegisterCode}))
}

func TestLogin_Success(t *testing.T) {
	f := newFixture(t)
	reg := f.registerVerified(t, "login@example.com")

	session, err := f.login("LOGIN@example.com", testPassword)
	require.NoError(t, err)

	assert.Equal(t, auth.TokenType, session.TokenType)
	assert.Equal(t, epoch.Add(auth.DefaultTokenExpiration*time.Second), session.ExpiresAt)
	assert.Equal(t, epoch.Add(auth.DefaultRefreshTokenExpiration), session.RefreshExpiresAt)
	assert.Equal(t, reg.UserID, session.User.ID)

	claims, err := f.manager.TokenService().Validate(session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, reg.UserID.String(), claims.UserID())
	assert.Equal(t, reg.AccountID.String(), claims.AccountID())
	assert.Equal(t, "Owner", claims.Role())

	assert.Contains(t, f.sink.types(), auth.ActivityEventLoginSuccess)
}

func TestLogin_UnknownEmailLooksLikeWrongPassword(t *testing.T) {
	f := newFixture(t)
	f.registerVerified(t, "known@example.com")

	_, unknownErr := f.login("unknown@example.com", testPassword)
	_, wrongErr := f.login("known@example.com", "nope-nope")

	assert.ErrorIs(t, unknownErr, auth.ErrInvalidCredentials)
	assert.ErrorIs(t, wrongErr, auth.ErrInvalidCredentials)
	assert.Equal(t, auth.ToErrorResponse(unknownErr, false), auth.ToErrorResponse(wrongErr, false))
}

// countingHasher records the calls made through it.
type countingHasher struct {
	auth.BcryptHasher
	hashes   int
	compares int
}

func (h *countingHasher) HashPassword(password string) (string, error) {
	h.hashes++
	return h.BcryptHasher.HashPassword(password)
}

func (h *countingHasher) ComparePasswordAndHash(password, hash string) error {
	h.compares++
	return h.BcryptHasher.ComparePasswordAndHash(password, hash)
}

func TestLogin_UnknownEmailComparesAgainstRandomHash(t *testing.T) {
	f := newFixture(t)
	hasher := &countingHasher{BcryptHasher: auth.NewBcryptHasher(4)}
	f.manager.WithPasswordHasher(hasher)

	_, err := f.login("ghost@example.com", testPassword)
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	assert.Equal(t, 1, hasher.hashes)
	assert.Equal(t, 1, hasher.compares)

	_, err = f.login("ghost@example.com", testPassword)
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	assert.Equal(t, 1, hasher.hashes, "random hash is prepared once")
	assert.Equal(t, 2, hasher.compares)
}

func TestLogin_CancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.manager.Login(ctx, auth.LoginRequest{Email: "a@example.com", Password: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSessionManager_NilConfig(t *testing.T) {
	manager := auth.NewSessionManager(memstore.New(), nil)
	assert.NotNil(t, manager.TokenService())
	assert.Equal(t, auth.DefaultMaxRefreshTokens, manager.Refresh().Limit())
}
