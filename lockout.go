package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// LockStatus is the lockout state of an account at a point in time.
type LockStatus string

const (
	LockOpen   LockStatus = "open"
	LockLocked LockStatus = "locked"
)

// LockState holds the persisted lockout fields.
type LockState struct {
	Attempts  int
	LockUntil *time.Time
}

// Status evaluates the state at now.
func (s LockState) Status(now time.Time) LockStatus {
	if s.IsLocked(now) {
		return LockLocked
	}
	return LockOpen
}

// IsLocked reports whether a lock is set and still in the future.
func (s LockState) IsLocked(now time.Time) bool {
	return s.LockUntil != nil && s.LockUntil.After(now)
}

// LockExpired reports whether a lock is set but already elapsed.
func (s LockState) LockExpired(now time.Time) bool {
	return s.LockUntil != nil && !s.LockUntil.After(now)
}

// IsClean reports whether there is nothing to reset on success.
func (s LockState) IsClean() bool {
	return s.Attempts == 0 && s.LockUntil == nil
}

// LockoutPolicy configures brute force protection.
type LockoutPolicy struct {
	MaxAttempts  int
	LockDuration time.Duration
}

// DefaultLockoutPolicy locks for 2 hours after 10 failures.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		MaxAttempts:  DefaultMaxLoginAttempts,
		LockDuration: DefaultLockDuration,
	}
}

// LockoutPolicyFromConfig reads the policy from cfg.
func LockoutPolicyFromConfig(cfg Config) LockoutPolicy {
	return LockoutPolicy{
		MaxAttempts:  cfg.GetMaxLoginAttempts(),
		LockDuration: cfg.GetLockDuration(),
	}
}

// NextFailure returns the state after a failed or rejected attempt.
// An elapsed lock starts a new window where this attempt counts as
// the first one. Reaching MaxAttempts sets the lock.
//
// Store adapters apply the same transition in a single atomic update.
func (p LockoutPolicy) NextFailure(s LockState, now time.Time) LockState {
	if s.LockExpired(now) {
		s = LockState{}
	}

	next := LockState{
		Attempts:  s.Attempts + 1,
		LockUntil: s.LockUntil,
	}

	if next.LockUntil == nil && next.Attempts >= p.MaxAttempts {
		until := now.Add(p.LockDuration)
		next.LockUntil = &until
	}

	return next
}

// NextSuccess returns the state after a successful verification and
// whether anything changed.
func (p LockoutPolicy) NextSuccess(s LockState) (LockState, bool) {
	if s.IsClean() {
		return s, false
	}
	return LockState{}, true
}

// LockoutStore is the slice of the user store the tracker needs.
type LockoutStore interface {
	// RegisterFailedLogin applies LockoutPolicy.NextFailure atomically
	// and returns the resulting state.
	RegisterFailedLogin(ctx context.Context, userID uuid.UUID, now time.Time, policy LockoutPolicy) (LockState, error)
	// ClearFailedLogins sets attempts to 0 and removes the lock.
	ClearFailedLogins(ctx context.Context, userID uuid.UUID) error
}

// LockoutTracker runs password verification behind the lockout state machine.
type LockoutTracker struct {
	store    LockoutStore
	policy   LockoutPolicy
	clock    Clock
	logger   Logger
	provider LoggerProvider
}

// NewLockoutTracker creates a tracker for the given policy.
func NewLockoutTracker(store LockoutStore, policy LockoutPolicy) *LockoutTracker {
	provider, logger := ResolveLogger("auth.lockout", nil, nil)
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultMaxLoginAttempts
	}
	if policy.LockDuration <= 0 {
		policy.LockDuration = DefaultLockDuration
	}
	return &LockoutTracker{
		store:    store,
		policy:   policy,
		clock:    defaultClock,
		logger:   logger,
		provider: provider,
	}
}

func (t *LockoutTracker) WithLogger(l Logger) *LockoutTracker {
	t.provider, t.logger = ResolveLogger("auth.lockout", t.provider, l)
	return t
}

func (t *LockoutTracker) WithLoggerProvider(provider LoggerProvider) *LockoutTracker {
	t.provider, t.logger = ResolveLogger("auth.lockout", provider, nil)
	return t
}

func (t *LockoutTracker) WithClock(c Clock) *LockoutTracker {
	t.clock = normalizeClock(c)
	return t
}

// Policy returns the active policy.
func (t *LockoutTracker) Policy() LockoutPolicy {
	return t.policy
}

// Verify runs check unless the account is locked and records the
// outcome. check must return ErrMismatchedHashAndPassword for a wrong
// password; any other error is returned as is and not counted.
func (t *LockoutTracker) Verify(ctx context.Context, user *User, check func() error) error {
	now := t.clock()
	state := user.LockState()

	// writes must land even if the caller goes away
	storeCtx := context.WithoutCancel(ctx)

	if state.IsLocked(now) {
		if _, err := t.store.RegisterFailedLogin(storeCtx, user.ID, now, t.policy); err != nil {
			return dependencyFailure(err, "failed to track login attempt")
		}
		t.logger.Warn("login attempt on locked account", "user_id", user.ID.String(), "lock_until", state.LockUntil)
		return lockedError(*state.LockUntil)
	}

	if err := check(); err != nil {
		if !goerrors.Is(err, ErrMismatchedHashAndPassword) && !HasTextCode(err, TextCodeMismatchedPassword) {
			return err
		}

		next, err := t.store.RegisterFailedLogin(storeCtx, user.ID, now, t.policy)
		if err != nil {
			return dependencyFailure(err, "failed to track login attempt")
		}

		if next.IsLocked(now) {
			t.logger.Warn("account locked", "user_id", user.ID.String(), "attempts", next.Attempts)
			return lockedError(*next.LockUntil)
		}

		return ErrInvalidCredentials
	}

	if _, changed := t.policy.NextSuccess(state); !changed {
		return nil
	}

	if err := t.store.ClearFailedLogins(storeCtx, user.ID); err != nil {
		return dependencyFailure(err, "failed to reset login attempts")
	}

	return nil
}

func lockedError(until time.Time) error {
	return withMetadata(ErrAccountLocked, map[string]any{
		"lock_until": until.UTC().Format(time.RFC3339),
	})
}
