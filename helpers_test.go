package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	auth "github.com/goliatone/go-tenant-auth"
	"github.com/goliatone/go-tenant-auth/memstore"
)

const testPassword = "secret-password"

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: epoch}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type capturingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (c *capturingSink) Record(_ context.Context, evt auth.ActivityEvent) error {
	c.mu.Lock()
	c.events = append(c.events, evt)
	c.mu.Unlock()
	return nil
}

func (c *capturingSink) types() []auth.ActivityEventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]auth.ActivityEventType, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.EventType)
	}
	return out
}

type sentMessage struct {
	channel     auth.ResetChannel
	destination string
	token       string
}

type capturingNotifier struct {
	mu      sync.Mutex
	resets  []sentMessage
	changed []string
	err     error
}

func (n *capturingNotifier) SendPasswordResetMessage(_ context.Context, channel auth.ResetChannel, destination, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resets = append(n.resets, sentMessage{channel: channel, destination: destination, token: token})
	return n.err
}

func (n *capturingNotifier) SendAccountChangedMessage(_ context.Context, email string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changed = append(n.changed, email)
	return nil
}

func (n *capturingNotifier) lastToken(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.resets, "no reset message was sent")
	return n.resets[len(n.resets)-1].token
}

type fixture struct {
	store    *memstore.Store
	clock    *testClock
	sink     *capturingSink
	notifier *capturingNotifier
	manager  *auth.SessionManager
}

func testOptions() auth.Options {
	return auth.Options{
		SigningKey:       "test-signing-key",
		Issuer:           "tenant-auth-test",
		PasswordHashCost: 4,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, memstore.New())
}

func newFixtureWithStore(t *testing.T, store *memstore.Store) *fixture {
	t.Helper()
	f := &fixture{
		store:    store,
		clock:    newTestClock(),
		sink:     &capturingSink{},
		notifier: &capturingNotifier{},
	}
	f.manager = auth.NewSessionManager(store, testOptions()).
		WithClock(f.clock.Now).
		WithActivitySink(f.sink).
		WithNotifier(f.notifier)
	return f
}

// registerVerified registers email and confirms it so it can log in.
func (f *fixture) registerVerified(t *testing.T, email string) *auth.RegisterResult {
	t.Helper()
	ctx := context.Background()

	result, err := f.manager.Register(ctx, auth.RegisterRequest{
		Email:     email,
		Password:  testPassword,
		FirstName: "Ada",
		LastName:  "Lovelace",
	})
	require.NoError(t, err)

	require.NoError(t, f.manager.ConfirmRegistration(ctx, auth.ConfirmRegistrationRequest{
		Email:        email,
		RegisterCode: result.RegisterCode,
	}))
	return result
}

func (f *fixture) login(email, password string) (*auth.SessionTokens, error) {
	return f.manager.Login(context.Background(), auth.LoginRequest{Email: email, Password: password})
}

func (f *fixture) user(t *testing.T, id uuid.UUID) *auth.User {
	t.Helper()
	user, err := f.store.FindUserByID(context.Background(), id)
	require.NoError(t, err)
	return user
}
