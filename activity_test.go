package auth_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/goliatone/go-tenant-auth"
	"github.com/goliatone/go-tenant-auth/memstore"
)

func TestActivitySinksFanOut(t *testing.T) {
	first, second := &capturingSink{}, &capturingSink{}
	failing := auth.ActivitySinkFunc(func(context.Context, auth.ActivityEvent) error {
		return errors.New("queue down")
	})

	sink := auth.ActivitySinks(first, nil, failing, second)
	err := sink.Record(context.Background(), auth.ActivityEvent{EventType: auth.ActivityEventLoginSuccess})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue down")
	assert.Equal(t, []auth.ActivityEventType{auth.ActivityEventLoginSuccess}, first.types())
	assert.Equal(t, []auth.ActivityEventType{auth.ActivityEventLoginSuccess}, second.types())
}

func TestSinkErrorsDoNotFailLogin(t *testing.T) {
	f := newFixture(t)
	f.registerVerified(t, "audit@example.com")

	f.manager.WithActivitySink(auth.ActivitySinkFunc(func(context.Context, auth.ActivityEvent) error {
		return errors.New("sink unavailable")
	}))

	session, err := f.login("audit@example.com", testPassword)
	require.NoError(t, err)
	assert.NotEmpty(t, session.AccessToken)
}

func TestLoginFailureForUnknownEmailIsAudited(t *testing.T) {
	sink := &capturingSink{}
	manager := auth.NewSessionManager(memstore.New(), testOptions()).WithActivitySink(sink)

	_, err := manager.Login(context.Background(), auth.LoginRequest{Email: "ghost@example.com", Password: testPassword})
	assert.Equal(t, auth.KindInvalidCredentials, auth.KindOf(err))
	assert.Equal(t, []auth.ActivityEventType{auth.ActivityEventLoginFailure}, sink.types())
}
