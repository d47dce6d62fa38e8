package auth

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

const (
	minRegisterPasswordLength = 6
	minResetPasswordLength    = 4
)

// LoginRequest holds login credentials
type LoginRequest struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

func (r LoginRequest) Validate() error {
	return validationError(validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	))
}

// RegisterRequest creates a new account and its owner
type RegisterRequest struct {
	Email       string `form:"email" json:"email"`
	Password    string `form:"password" json:"password"`
	FirstName   string `form:"firstName" json:"firstName"`
	LastName    string `form:"lastName" json:"lastName"`
	AccountName string `form:"accountName" json:"accountName"`
}

func (r RegisterRequest) Validate() error {
	return validationError(validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(minRegisterPasswordLength, 0)),
		validation.Field(&r.FirstName, validation.Length(0, 100)),
		validation.Field(&r.LastName, validation.Length(0, 100)),
		validation.Field(&r.AccountName, validation.Length(0, 200)),
	))
}

// ConfirmRegistrationRequest verifies a new user with the code from Register
type ConfirmRegistrationRequest struct {
	Email        string `form:"email" json:"email"`
	RegisterCode string `form:"registerCode" json:"registerCode"`
}

func (r ConfirmRegistrationRequest) Validate() error {
	return validationError(validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.RegisterCode, validation.Required),
	))
}

// RefreshTokenRequest exchanges a refresh token for a new session
type RefreshTokenRequest struct {
	Email        string `form:"email" json:"email"`
	RefreshToken string `form:"refreshToken" json:"refreshToken"`
}

func (r RefreshTokenRequest) Validate() error {
	return validationError(validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.RefreshToken, validation.Required),
	))
}

// ForgotPasswordRequest starts a password reset
type ForgotPasswordRequest struct {
	Email      string `form:"email" json:"email"`
	SendMethod string `form:"sendMethod" json:"sendMethod"`
}

func (r ForgotPasswordRequest) Validate() error {
	return validationError(validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.SendMethod, validation.By(func(value any) error {
			if s, _ := value.(string); s != "" {
				if _, ok := ParseResetChannel(s); !ok {
					return errors.New("unsupported send method")
				}
			}
			return nil
		})),
	))
}

// ValidateResetTokenRequest checks a reset code without using it
type ValidateResetTokenRequest struct {
	Code string `form:"code" json:"code" param:"code"`
}

func (r ValidateResetTokenRequest) Validate() error {
	return validationError(validation.ValidateStruct(&r,
		validation.Field(&r.Code, validation.Required, is.Hexadecimal),
	))
}

// ResetPasswordRequest applies a new password with a reset code
type ResetPasswordRequest struct {
	Code            string `form:"code" json:"code" param:"code"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirmPassword" json:"confirmPassword"`
}

func (r ResetPasswordRequest) Validate() error {
	return validationError(validation.ValidateStruct(&r,
		validation.Field(&r.Code, validation.Required, is.Hexadecimal),
		validation.Field(&r.Password, validation.Required, validation.Length(minResetPasswordLength, 0)),
		validation.Field(&r.ConfirmPassword, validation.Required, validation.By(func(value any) error {
			if s, _ := value.(string); s != r.Password {
				return errors.New("passwords must match")
			}
			return nil
		})),
	))
}

// validationError converts ozzo errors into a tagged validation error.
func validationError(err error) error {
	if err == nil {
		return nil
	}

	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		return NewValidationError(err.Error(), nil)
	}

	fields := make(map[string]any, len(verrs))
	for field, ferr := range verrs {
		if ferr != nil {
			fields[field] = ferr.Error()
		}
	}

	return NewValidationError("invalid request", fields)
}
