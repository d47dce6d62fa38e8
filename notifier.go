package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// ResetChannel is how a reset token reaches the user.
type ResetChannel string

const (
	ResetChannelEmail ResetChannel = "email"
	ResetChannelText  ResetChannel = "text"
)

// ParseResetChannel resolves a channel name, defaulting to email.
func ParseResetChannel(name string) (ResetChannel, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", string(ResetChannelEmail):
		return ResetChannelEmail, true
	case string(ResetChannelText), "sms":
		return ResetChannelText, true
	default:
		return "", false
	}
}

// Notifier delivers account messages. Implementations own their
// transport timeouts.
type Notifier interface {
	SendPasswordResetMessage(ctx context.Context, channel ResetChannel, destination, token string) error
	SendAccountChangedMessage(ctx context.Context, email string) error
}

// NotifierFunc adapts a function to the reset half of Notifier.
type NotifierFunc func(ctx context.Context, channel ResetChannel, destination, token string) error

func (f NotifierFunc) SendPasswordResetMessage(ctx context.Context, channel ResetChannel, destination, token string) error {
	if f == nil {
		return nil
	}
	return f(ctx, channel, destination, token)
}

func (f NotifierFunc) SendAccountChangedMessage(context.Context, string) error {
	return nil
}

// LogNotifier writes messages to a logger. Useful in development.
type LogNotifier struct {
	logger Logger
	// ResetURL is formatted with the token for email delivery.
	ResetURL string
}

// NewLogNotifier creates a notifier that only logs.
func NewLogNotifier(logger Logger) *LogNotifier {
	if logger == nil {
		logger = defaultLogger()
	}
	return &LogNotifier{
		logger:   logger,
		ResetURL: "/auth/resetpassword/%s",
	}
}

func (n *LogNotifier) SendPasswordResetMessage(_ context.Context, channel ResetChannel, destination, token string) error {
	switch channel {
	case ResetChannelText:
		n.logger.Info("sending password reset text", "to", MaskPhoneNumber(destination), "body", fmt.Sprintf("Your verification code: %s.", token))
	default:
		n.logger.Info("sending password reset email", "to", destination, "link", fmt.Sprintf(n.ResetURL, token))
	}
	return nil
}

func (n *LogNotifier) SendAccountChangedMessage(_ context.Context, email string) error {
	n.logger.Info("sending account changed email", "to", email)
	return nil
}

type noopNotifier struct{}

func (noopNotifier) SendPasswordResetMessage(context.Context, ResetChannel, string, string) error {
	return nil
}

func (noopNotifier) SendAccountChangedMessage(context.Context, string) error {
	return nil
}

// NormalizePhoneNumber parses number and returns it in E.164. region is
// used for numbers without a leading +, and defaults to US.
func NormalizePhoneNumber(number, region string) (MobilePhone, error) {
	if region == "" {
		region = "US"
	}

	parsed, err := phonenumbers.Parse(number, strings.ToUpper(region))
	if err != nil {
		return MobilePhone{}, NewValidationError("invalid mobile phone", map[string]any{"mobilePhone": err.Error()})
	}

	if !phonenumbers.IsValidNumber(parsed) {
		return MobilePhone{}, NewValidationError("invalid mobile phone", map[string]any{"mobilePhone": "number is not valid"})
	}

	return MobilePhone{
		CountryCode:    phonenumbers.GetRegionCodeForNumber(parsed),
		PhoneNumber:    phonenumbers.Format(parsed, phonenumbers.E164),
		NationalFormat: phonenumbers.Format(parsed, phonenumbers.NATIONAL),
	}, nil
}

// MaskPhoneNumber hides the last five digits of a number.
func MaskPhoneNumber(number string) string {
	if len(number) <= 5 {
		return strings.Repeat("*", len(number))
	}
	return number[:len(number)-5] + "*****"
}
