package auth

import (
	"errors"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeValidation          = "VALIDATION_ERROR"
	TextCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	TextCodeAccountLocked       = "ACCOUNT_LOCKED"
	TextCodeAccountUnverified   = "ACCOUNT_UNVERIFIED"
	TextCodeTokenInvalid        = "TOKEN_INVALID"
	TextCodeTokenExpired        = "TOKEN_EXPIRED"
	TextCodeEmailTaken          = "EMAIL_TAKEN"
	TextCodeNotAuthorized       = "NOT_AUTHORIZED"
	TextCodeNotFound            = "NOT_FOUND"
	TextCodeDependencyFailure   = "DEPENDENCY_FAILURE"
	TextCodeInternal            = "INTERNAL_ERROR"
	TextCodeMismatchedPassword  = "MISMATCHED_PASSWORD"
	TextCodeEmptyPassword       = "EMPTY_PASSWORD"
	TextCodeRegisterCodeInvalid = "REGISTER_CODE_INVALID"
)

// ErrorKind is the coarse classification the transport maps to a status.
type ErrorKind string

const (
	KindValidation            ErrorKind = "ValidationError"
	KindInvalidCredentials    ErrorKind = "InvalidCredentials"
	KindAccountLocked         ErrorKind = "AccountLocked"
	KindAccountUnverified     ErrorKind = "AccountUnverified"
	KindInvalidOrExpiredToken ErrorKind = "InvalidOrExpiredToken"
	KindConflict              ErrorKind = "Conflict"
	KindNotAuthorized         ErrorKind = "NotAuthorized"
	KindNotFound              ErrorKind = "NotFound"
	KindDependencyFailure     ErrorKind = "DependencyFailure"
	KindInternal              ErrorKind = "Internal"
)

// ErrInvalidCredentials is returned for unknown emails and wrong passwords alike.
var ErrInvalidCredentials = goerrors.New("invalid email or password", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrAccountLocked is returned while the lockout window is active.
var ErrAccountLocked = goerrors.New("account is temporarily locked", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeAccountLocked).
	WithCode(goerrors.CodeUnauthorized)

// ErrAccountUnverified is returned when the registration was never confirmed.
var ErrAccountUnverified = goerrors.New("account has not been verified", goerrors.CategoryAuth).
	WithTextCode(TextCodeAccountUnverified).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenMalformed is returned when an access token fails validation.
var ErrTokenMalformed = goerrors.New("token is invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenInvalid).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenExpired is returned when an access token is past its exp claim.
var ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrRefreshTokenInvalid is returned when the refresh token is not on record.
var ErrRefreshTokenInvalid = goerrors.New("refresh token not found", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenInvalid).
	WithCode(goerrors.CodeUnauthorized)

// ErrRefreshTokenExpired is returned when the refresh token is past expiredAt.
var ErrRefreshTokenExpired = goerrors.New("refresh token expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrResetTokenInvalid is returned when no user holds the reset token.
var ErrResetTokenInvalid = goerrors.New("password reset token is invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenInvalid).
	WithCode(goerrors.CodeUnauthorized)

// ErrResetTokenExpired is returned when the reset window elapsed.
var ErrResetTokenExpired = goerrors.New("password reset token has expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrRegisterCodeInvalid is returned when a confirmation code does not match.
var ErrRegisterCodeInvalid = goerrors.New("registration code is invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeRegisterCodeInvalid).
	WithCode(goerrors.CodeUnauthorized)

// ErrEmailTaken is returned when registering an email already on record.
var ErrEmailTaken = goerrors.New("that email address is already in use", goerrors.CategoryConflict).
	WithTextCode(TextCodeEmailTaken).
	WithCode(goerrors.CodeConflict)

// ErrNotAuthorized is returned when the role check fails.
var ErrNotAuthorized = goerrors.New("not authorized", goerrors.CategoryAuthz).
	WithTextCode(TextCodeNotAuthorized).
	WithCode(goerrors.CodeForbidden)

// ErrImmutableClaimMutation is returned when a claims decorator changes
// an identity claim.
var ErrImmutableClaimMutation = goerrors.New("claims decorator changed an identity claim", goerrors.CategoryInternal).
	WithTextCode(TextCodeInternal).
	WithCode(goerrors.CodeInternal)

// ErrNotFound is returned by stores for missing records.
var ErrNotFound = goerrors.New("record not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrMismatchedHashAndPassword is returned by the hasher on a wrong password.
var ErrMismatchedHashAndPassword = goerrors.New("password does not match", goerrors.CategoryAuth).
	WithTextCode(TextCodeMismatchedPassword).
	WithCode(goerrors.CodeUnauthorized)

// ErrNoEmptyString is returned when hashing an empty password.
var ErrNoEmptyString = goerrors.New("password can not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(goerrors.CodeBadRequest)

// NewNotFound returns a fresh not found error carrying metadata.
func NewNotFound(msg string, metadata map[string]any) *goerrors.Error {
	if msg == "" {
		msg = ErrNotFound.Message
	}
	return goerrors.New(msg, goerrors.CategoryNotFound).
		WithTextCode(TextCodeNotFound).
		WithCode(goerrors.CodeNotFound).
		WithMetadata(metadata)
}

// NewValidationError returns a validation error with field messages.
func NewValidationError(msg string, fields map[string]any) *goerrors.Error {
	e := goerrors.New(msg, goerrors.CategoryValidation).
		WithTextCode(TextCodeValidation).
		WithCode(goerrors.CodeBadRequest)
	if len(fields) > 0 {
		e = e.WithMetadata(fields)
	}
	return e
}

// dependencyFailure wraps a store or notifier error. The message is
// what callers see, the cause stays for diagnostics.
func dependencyFailure(err error, msg string) *goerrors.Error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg).
		WithTextCode(TextCodeDependencyFailure).
		WithCode(goerrors.CodeInternal)
}

// internalError wraps unexpected failures in local computation.
func internalError(err error, msg string) *goerrors.Error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg).
		WithTextCode(TextCodeInternal).
		WithCode(goerrors.CodeInternal)
}

// withMetadata copies a sentinel so metadata does not leak between calls.
func withMetadata(sentinel *goerrors.Error, metadata map[string]any) *goerrors.Error {
	return goerrors.New(sentinel.Message, sentinel.Category).
		WithTextCode(sentinel.TextCode).
		WithCode(sentinel.Code).
		WithMetadata(metadata)
}

// IsNotFound reports whether err describes a missing record.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if goerrors.IsNotFound(err) {
		return true
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == TextCodeNotFound || richErr.Category == goerrors.CategoryNotFound
	}
	return false
}

// HasTextCode reports whether err carries the given text code.
func HasTextCode(err error, code string) bool {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == code
	}
	return false
}

// KindOf classifies err for transport mapping.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return KindInternal
	}

	switch richErr.TextCode {
	case TextCodeValidation, TextCodeEmptyPassword:
		return KindValidation
	case TextCodeInvalidCredentials, TextCodeMismatchedPassword:
		return KindInvalidCredentials
	case TextCodeAccountLocked:
		return KindAccountLocked
	case TextCodeAccountUnverified:
		return KindAccountUnverified
	case TextCodeTokenInvalid, TextCodeTokenExpired, TextCodeRegisterCodeInvalid:
		return KindInvalidOrExpiredToken
	case TextCodeEmailTaken:
		return KindConflict
	case TextCodeNotAuthorized:
		return KindNotAuthorized
	case TextCodeNotFound:
		return KindNotFound
	case TextCodeDependencyFailure:
		return KindDependencyFailure
	case TextCodeInternal:
		return KindInternal
	}

	switch richErr.Category {
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		return KindValidation
	case goerrors.CategoryNotFound:
		return KindNotFound
	case goerrors.CategoryConflict:
		return KindConflict
	case goerrors.CategoryAuthz:
		return KindNotAuthorized
	case goerrors.CategoryAuth:
		return KindInvalidCredentials
	case goerrors.CategoryRateLimit:
		return KindAccountLocked
	default:
		return KindInternal
	}
}

// HTTPStatus maps an error to the status code the transport returns.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case "":
		return http.StatusOK
	case KindValidation:
		return http.StatusBadRequest
	case KindInvalidCredentials, KindAccountLocked, KindAccountUnverified, KindInvalidOrExpiredToken:
		return http.StatusUnauthorized
	case KindConflict:
		return http.StatusConflict
	case KindNotAuthorized:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ErrorResponse is the public error body.
type ErrorResponse struct {
	Kind     ErrorKind      `json:"kind"`
	Code     string         `json:"code,omitempty"`
	Message  string         `json:"message"`
	Cause    string         `json:"cause,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ToErrorResponse renders err for a client. Dependency and internal
// failures get a generic message unless debug is set; debug also adds
// the cause and metadata.
func ToErrorResponse(err error, debug bool) ErrorResponse {
	kind := KindOf(err)
	resp := ErrorResponse{
		Kind:    kind,
		Message: "internal server error",
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		resp.Code = richErr.TextCode
		if kind != KindInternal && kind != KindDependencyFailure {
			resp.Message = richErr.Message
		}
		if kind == KindValidation && len(richErr.Metadata) > 0 {
			resp.Metadata = richErr.Metadata
		}
		if debug {
			resp.Message = richErr.Message
			resp.Metadata = richErr.Metadata
		}
	}

	if debug && err != nil {
		if cause := errors.Unwrap(err); cause != nil {
			resp.Cause = cause.Error()
		} else {
			resp.Cause = err.Error()
		}
	}

	return resp
}
