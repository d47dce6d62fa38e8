package repository

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	auth "github.com/goliatone/go-tenant-auth"
)

// AccountModel is the Bun model for tenant accounts.
type AccountModel struct {
	bun.BaseModel `bun:"table:accounts,alias:acc"`

	ID          uuid.UUID  `bun:"id,pk,type:uuid"`
	CreatorID   *uuid.UUID `bun:"creator_id,type:uuid"`
	Name        string     `bun:"name,notnull"`
	Description string     `bun:"description,notnull"`
	IsVerified  bool       `bun:"is_verified,notnull"`
	IsDeleted   bool       `bun:"is_deleted,notnull"`
	CreatedAt   time.Time  `bun:"created_at,notnull"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull"`
}

// UserModel is the Bun model for users. Refresh tokens live in their
// own table.
type UserModel struct {
	bun.BaseModel `bun:"table:users,alias:usr"`

	ID                   uuid.UUID  `bun:"id,pk,type:uuid"`
	AccountID            uuid.UUID  `bun:"account_id,notnull,type:uuid"`
	CreatorID            *uuid.UUID `bun:"creator_id,type:uuid"`
	Email                string     `bun:"email,notnull"`
	PasswordHash         string     `bun:"password_hash,notnull"`
	Role                 string     `bun:"role,notnull"`
	FirstName            string     `bun:"first_name,notnull"`
	MiddleName           string     `bun:"middle_name,notnull"`
	LastName             string     `bun:"last_name,notnull"`
	Photo                string     `bun:"photo,notnull"`
	TimeZone             string     `bun:"time_zone,notnull"`
	MobileCountryCode    string     `bun:"mobile_country_code,notnull"`
	MobilePhoneNumber    string     `bun:"mobile_phone_number,notnull"`
	MobileNationalFormat string     `bun:"mobile_national_format,notnull"`
	IsVerified           bool       `bun:"is_verified,notnull"`
	IsDeleted            bool       `bun:"is_deleted,notnull"`
	LoginAttempts        int        `bun:"login_attempts,notnull"`
	LockUntil            *time.Time `bun:"lock_until"`
	PasswordResetToken   string     `bun:"password_reset_token,nullzero"`
	PasswordResetExpires *time.Time `bun:"password_reset_expires"`
	RegisterCode         string     `bun:"register_code,notnull"`
	CreatedAt            time.Time  `bun:"created_at,notnull"`
	UpdatedAt            time.Time  `bun:"updated_at,notnull"`
}

// RefreshTokenModel is one entry of a user's refresh token list. The
// autoincrement id keeps insertion order.
type RefreshTokenModel struct {
	bun.BaseModel `bun:"table:refresh_tokens,alias:rt"`

	ID        int64     `bun:"id,pk,autoincrement"`
	UserID    uuid.UUID `bun:"user_id,notnull,type:uuid"`
	Token     string    `bun:"token,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
	ExpiredAt time.Time `bun:"expired_at,notnull"`
}

func toAccount(m *AccountModel) *auth.Account {
	if m == nil {
		return nil
	}
	return &auth.Account{
		ID:          m.ID,
		CreatorID:   m.CreatorID,
		Name:        m.Name,
		Description: m.Description,
		IsVerified:  m.IsVerified,
		IsDeleted:   m.IsDeleted,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func fromAccount(a *auth.Account) *AccountModel {
	return &AccountModel{
		ID:          a.ID,
		CreatorID:   a.CreatorID,
		Name:        a.Name,
		Description: a.Description,
		IsVerified:  a.IsVerified,
		IsDeleted:   a.IsDeleted,
		CreatedAt:   a.CreatedAt.UTC(),
		UpdatedAt:   a.UpdatedAt.UTC(),
	}
}

func toUser(m *UserModel, tokens []RefreshTokenModel) *auth.User {
	if m == nil {
		return nil
	}

	user := &auth.User{
		ID:           m.ID,
		AccountID:    m.AccountID,
		CreatorID:    m.CreatorID,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		Role:         auth.Role(m.Role),
		Profile: auth.Profile{
			FirstName:  m.FirstName,
			MiddleName: m.MiddleName,
			LastName:   m.LastName,
			Photo:      m.Photo,
		},
		Settings: auth.Settings{
			TimeZone: m.TimeZone,
			MobilePhone: auth.MobilePhone{
				CountryCode:    m.MobileCountryCode,
				PhoneNumber:    m.MobilePhoneNumber,
				NationalFormat: m.MobileNationalFormat,
			},
		},
		IsVerified:           m.IsVerified,
		IsDeleted:            m.IsDeleted,
		LoginAttempts:        m.LoginAttempts,
		LockUntil:            utcPtr(m.LockUntil),
		PasswordResetToken:   m.PasswordResetToken,
		PasswordResetExpires: utcPtr(m.PasswordResetExpires),
		RegisterCode:         m.RegisterCode,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}

	user.RefreshTokens = make([]auth.RefreshToken, 0, len(tokens))
	for _, t := range tokens {
		user.RefreshTokens = append(user.RefreshTokens, auth.RefreshToken{
			Token:     t.Token,
			CreatedAt: t.CreatedAt.UTC(),
			ExpiredAt: t.ExpiredAt.UTC(),
		})
	}

	return user
}

func fromUser(u *auth.User) *UserModel {
	return &UserModel{
		ID:                   u.ID,
		AccountID:            u.AccountID,
		CreatorID:            u.CreatorID,
		Email:                u.Email,
		PasswordHash:         u.PasswordHash,
		Role:                 string(u.Role),
		FirstName:            u.Profile.FirstName,
		MiddleName:           u.Profile.MiddleName,
		LastName:             u.Profile.LastName,
		Photo:                u.Profile.Photo,
		TimeZone:             u.Settings.TimeZone,
		MobileCountryCode:    u.Settings.MobilePhone.CountryCode,
		MobilePhoneNumber:    u.Settings.MobilePhone.PhoneNumber,
		MobileNationalFormat: u.Settings.MobilePhone.NationalFormat,
		IsVerified:           u.IsVerified,
		IsDeleted:            u.IsDeleted,
		LoginAttempts:        u.LoginAttempts,
		LockUntil:            utcPtr(u.LockUntil),
		PasswordResetToken:   u.PasswordResetToken,
		PasswordResetExpires: utcPtr(u.PasswordResetExpires),
		RegisterCode:         u.RegisterCode,
		CreatedAt:            u.CreatedAt.UTC(),
		UpdatedAt:            u.UpdatedAt.UTC(),
	}
}

func fromRefreshToken(userID uuid.UUID, t auth.RefreshToken) *RefreshTokenModel {
	return &RefreshTokenModel{
		UserID:    userID,
		Token:     t.Token,
		CreatedAt: t.CreatedAt.UTC(),
		ExpiredAt: t.ExpiredAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
