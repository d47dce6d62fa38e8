package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"time"

	"github.com/google/uuid"
)

const (
	// textResetTokenBytes keeps codes short enough to type from a text message.
	textResetTokenBytes  = 7
	emailResetTokenBytes = 16
)

// ResetDelivery is where a reset token goes.
type ResetDelivery struct {
	Channel     ResetChannel
	Destination string
}

// MaskedDestination hides most of a phone number. Emails are returned as is.
func (d ResetDelivery) MaskedDestination() string {
	if d.Channel == ResetChannelText {
		return MaskPhoneNumber(d.Destination)
	}
	return d.Destination
}

// ResetGrant is a persisted reset token.
type ResetGrant struct {
	ResetDelivery
	UserID    uuid.UUID
	Token     string
	ExpiresAt time.Time
}

// ResetRequestResult is returned to the caller of a reset request. The
// token itself is never part of it.
type ResetRequestResult struct {
	Channel     ResetChannel `json:"channel"`
	Destination string       `json:"destination"`
	ExpiresAt   time.Time    `json:"expiresAt"`
}

// resolveResetDelivery picks text only when asked for and the user has
// a phone on file, otherwise email.
func resolveResetDelivery(user *User, requested ResetChannel) ResetDelivery {
	if requested == ResetChannelText && !user.Settings.MobilePhone.IsZero() {
		return ResetDelivery{
			Channel:     ResetChannelText,
			Destination: user.Settings.MobilePhone.PhoneNumber,
		}
	}
	return ResetDelivery{
		Channel:     ResetChannelEmail,
		Destination: user.Email,
	}
}

// generateResetToken returns a hex token sized for the channel.
func generateResetToken(delivery ResetDelivery, src io.Reader) (string, error) {
	size := emailResetTokenBytes
	if delivery.Channel == ResetChannelText {
		size = textResetTokenBytes
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(src, buf); err != nil {
		return "", internalError(err, "failed to generate reset token")
	}
	return hex.EncodeToString(buf), nil
}

// PasswordResetFlow issues, validates and applies password reset tokens.
type PasswordResetFlow struct {
	store    UserStore
	notifier Notifier
	hasher   PasswordHasher
	ttl      time.Duration
	clock    Clock
	random   io.Reader
	logger   Logger
	provider LoggerProvider
}

// NewPasswordResetFlow creates a flow whose tokens live for ttl.
func NewPasswordResetFlow(store UserStore, notifier Notifier, hasher PasswordHasher, ttl time.Duration) *PasswordResetFlow {
	provider, logger := ResolveLogger("auth.password_reset", nil, nil)
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if ttl <= 0 {
		ttl = DefaultPasswordResetExpiration
	}
	return &PasswordResetFlow{
		store:    store,
		notifier: notifier,
		hasher:   hasher,
		ttl:      ttl,
		clock:    defaultClock,
		random:   rand.Reader,
		logger:   logger,
		provider: provider,
	}
}

func (f *PasswordResetFlow) WithLogger(l Logger) *PasswordResetFlow {
	f.provider, f.logger = ResolveLogger("auth.password_reset", f.provider, l)
	return f
}

func (f *PasswordResetFlow) WithLoggerProvider(provider LoggerProvider) *PasswordResetFlow {
	f.provider, f.logger = ResolveLogger("auth.password_reset", provider, nil)
	return f
}

func (f *PasswordResetFlow) WithClock(c Clock) *PasswordResetFlow {
	f.clock = normalizeClock(c)
	return f
}

// WithRandom sets the entropy source for tokens.
func (f *PasswordResetFlow) WithRandom(r io.Reader) *PasswordResetFlow {
	if r != nil {
		f.random = r
	}
	return f
}

// Request runs resolve, generate, persist and deliver in order. When
// delivery fails the token stays issued: the result is returned together
// with a DependencyFailure error so the caller can retry delivery.
func (f *PasswordResetFlow) Request(ctx context.Context, user *User, channel ResetChannel) (*ResetRequestResult, error) {
	delivery := resolveResetDelivery(user, channel)

	token, err := generateResetToken(delivery, f.random)
	if err != nil {
		return nil, err
	}

	grant, err := f.persistResetToken(ctx, user, delivery, token)
	if err != nil {
		return nil, err
	}

	result := &ResetRequestResult{
		Channel:     grant.Channel,
		Destination: grant.MaskedDestination(),
		ExpiresAt:   grant.ExpiresAt,
	}

	if err := f.deliverResetToken(ctx, grant); err != nil {
		return result, err
	}

	return result, nil
}

func (f *PasswordResetFlow) persistResetToken(ctx context.Context, user *User, delivery ResetDelivery, token string) (ResetGrant, error) {
	expires := f.clock().Add(f.ttl)

	if err := f.store.SetPasswordReset(context.WithoutCancel(ctx), user.ID, token, expires); err != nil {
		return ResetGrant{}, dependencyFailure(err, "failed to store password reset token")
	}

	user.PasswordResetToken = token
	user.PasswordResetExpires = &expires

	return ResetGrant{
		ResetDelivery: delivery,
		UserID:        user.ID,
		Token:         token,
		ExpiresAt:     expires,
	}, nil
}

func (f *PasswordResetFlow) deliverResetToken(ctx context.Context, grant ResetGrant) error {
	if err := f.notifier.SendPasswordResetMessage(ctx, grant.Channel, grant.Destination, grant.Token); err != nil {
		f.logger.Error("failed to deliver password reset token",
			"user_id", grant.UserID.String(),
			"channel", string(grant.Channel),
			"destination", grant.MaskedDestination(),
			"error", err,
		)
		return dependencyFailure(err, "failed to deliver password reset message")
	}
	return nil
}

// Validate checks token exists, has not expired and belongs to a user
// that is not deleted. It does not consume it.
func (f *PasswordResetFlow) Validate(ctx context.Context, token string) (*User, error) {
	user, err := f.store.FindUserByResetToken(ctx, token)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrResetTokenInvalid
		}
		return nil, dependencyFailure(err, "failed to look up password reset token")
	}

	if user.IsDeleted {
		return nil, ErrResetTokenInvalid
	}

	if !user.HasPendingReset(f.clock()) {
		return nil, ErrResetTokenExpired
	}

	return user, nil
}

// Apply sets newPassword for the holder of token and clears the token pair.
func (f *PasswordResetFlow) Apply(ctx context.Context, token, newPassword string) (*User, error) {
	if _, err := f.Validate(ctx, token); err != nil {
		return nil, err
	}

	hash, err := f.hasher.HashPassword(newPassword)
	if err != nil {
		return nil, err
	}

	user, err := f.store.CompletePasswordReset(context.WithoutCancel(ctx), token, hash, f.clock())
	if err != nil {
		if IsNotFound(err) {
			// used, expired or deleted since Validate
			return nil, ErrResetTokenInvalid
		}
		return nil, dependencyFailure(err, "failed to apply password reset")
	}

	return user, nil
}
