package repository

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	auth "github.com/goliatone/go-tenant-auth"
)

// Store implements auth.Store on top of Bun. Every mutating method runs
// as a single statement or inside one transaction.
type Store struct {
	db       *bun.DB
	accounts repository.Repository[*AccountModel]
	users    repository.Repository[*UserModel]
}

var (
	_ auth.Store                    = (*Store)(nil)
	_ repository.Validator          = (*Store)(nil)
	_ repository.TransactionManager = (*Store)(nil)
)

// NewStore creates a store for db. The schema is expected to be migrated.
func NewStore(db *bun.DB) *Store {
	return &Store{
		db:       db,
		accounts: newAccountsRepository(db),
		users:    newUsersRepository(db),
	}
}

func newAccountsRepository(db *bun.DB) repository.Repository[*AccountModel] {
	return repository.NewRepository(db, repository.ModelHandlers[*AccountModel]{
		NewRecord: func() *AccountModel {
			return &AccountModel{}
		},
		GetID: func(record *AccountModel) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *AccountModel, id uuid.UUID) {
			record.ID = id
		},
		GetIdentifier: func() string {
			return "name"
		},
	})
}

func newUsersRepository(db *bun.DB) repository.Repository[*UserModel] {
	return repository.NewRepository(db, repository.ModelHandlers[*UserModel]{
		NewRecord: func() *UserModel {
			return &UserModel{}
		},
		GetID: func(record *UserModel) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *UserModel, id uuid.UUID) {
			record.ID = id
		},
		GetIdentifier: func() string {
			return "email"
		},
	})
}

func (s *Store) Validate() error {
	if s.db == nil {
		return errors.New("store database should be initialized")
	}
	if s.users == nil {
		return errors.New("repository users should be initialized")
	}
	if s.accounts == nil {
		return errors.New("repository accounts should be initialized")
	}
	return nil
}

func (s *Store) MustValidate() {
	if err := s.Validate(); err != nil {
		log.Panic(err)
	}
}

func (s *Store) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return s.db.RunInTx(ctx, opts, f)
	}
}

// CreateAccount implements auth.AccountStore.
func (s *Store) CreateAccount(ctx context.Context, account *auth.Account) (*auth.Account, error) {
	record, err := s.accounts.Create(ctx, fromAccount(account))
	if err != nil {
		return nil, err
	}
	return toAccount(record), nil
}

// FindAccountByID implements auth.AccountStore.
func (s *Store) FindAccountByID(ctx context.Context, id uuid.UUID) (*auth.Account, error) {
	record, err := s.accounts.GetByID(ctx, id.String())
	if err != nil {
		return nil, notFound(err, map[string]any{"account_id": id.String()})
	}
	return toAccount(record), nil
}

// SetAccountCreator implements auth.AccountStore.
func (s *Store) SetAccountCreator(ctx context.Context, accountID, userID uuid.UUID) error {
	res, err := s.db.NewUpdate().
		Model((*AccountModel)(nil)).
		Set("creator_id = ?", userID).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", accountID).
		Exec(ctx)
	return affected(res, err, map[string]any{"account_id": accountID.String()})
}

// DeleteAccount implements auth.AccountStore. Users of the account are
// removed by the foreign key cascade.
func (s *Store) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.NewDelete().
		Model((*AccountModel)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	return affected(res, err, map[string]any{"account_id": id.String()})
}

// FindUserByEmail implements auth.UserStore.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	record, err := s.users.GetByIdentifier(ctx, email)
	if err != nil {
		return nil, notFound(err, map[string]any{"email": email})
	}
	return s.withRefreshTokens(ctx, s.db, record)
}

// FindUserByID implements auth.UserStore.
func (s *Store) FindUserByID(ctx context.Context, id uuid.UUID) (*auth.User, error) {
	record, err := s.users.GetByID(ctx, id.String())
	if err != nil {
		return nil, notFound(err, map[string]any{"user_id": id.String()})
	}
	return s.withRefreshTokens(ctx, s.db, record)
}

// FindUserByResetToken implements auth.UserStore.
func (s *Store) FindUserByResetToken(ctx context.Context, token string) (*auth.User, error) {
	if token == "" {
		return nil, auth.NewNotFound("no user holds that reset token", nil)
	}

	record := new(UserModel)
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.password_reset_token = ?", token).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, nil)
	}
	return s.withRefreshTokens(ctx, s.db, record)
}

// CreateUser implements auth.UserStore.
func (s *Store) CreateUser(ctx context.Context, user *auth.User) (*auth.User, error) {
	var created *auth.User

	err := s.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := s.users.CreateTx(ctx, tx, fromUser(user))
		if err != nil {
			if isUniqueViolation(err) {
				return goerrors.Wrap(err, goerrors.CategoryConflict, "email already registered").
					WithTextCode(auth.TextCodeEmailTaken).
					WithCode(goerrors.CodeConflict).
					WithMetadata(map[string]any{"email": user.Email})
			}
			return err
		}

		for _, t := range user.RefreshTokens {
			if _, err := tx.NewInsert().Model(fromRefreshToken(record.ID, t)).Exec(ctx); err != nil {
				return err
			}
		}

		created, err = s.withRefreshTokens(ctx, tx, record)
		return err
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

// MarkUserVerified implements auth.UserStore.
func (s *Store) MarkUserVerified(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.NewUpdate().
		Model((*UserModel)(nil)).
		Set("is_verified = ?", true).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	return affected(res, err, map[string]any{"user_id": id.String()})
}

// RegisterFailedLogin implements auth.LockoutStore. The row is read and
// written in one transaction, locked on dialects that support it.
func (s *Store) RegisterFailedLogin(ctx context.Context, userID uuid.UUID, now time.Time, policy auth.LockoutPolicy) (auth.LockState, error) {
	var next auth.LockState

	err := s.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record := new(UserModel)
		q := tx.NewSelect().
			Model(record).
			Column("id", "login_attempts", "lock_until").
			Where("?TableAlias.id = ?", userID)
		if s.lockRows() {
			q = q.For("UPDATE")
		}
		if err := q.Scan(ctx); err != nil {
			return notFound(err, map[string]any{"user_id": userID.String()})
		}

		next = policy.NextFailure(auth.LockState{
			Attempts:  record.LoginAttempts,
			LockUntil: utcPtr(record.LockUntil),
		}, now)

		_, err := tx.NewUpdate().
			Model((*UserModel)(nil)).
			Set("login_attempts = ?", next.Attempts).
			Set("lock_until = ?", utcPtr(next.LockUntil)).
			Where("id = ?", userID).
			Exec(ctx)
		return err
	})

	return next, err
}

// ClearFailedLogins implements auth.LockoutStore.
func (s *Store) ClearFailedLogins(ctx context.Context, userID uuid.UUID) error {
	res, err := s.db.NewUpdate().
		Model((*UserModel)(nil)).
		Set("login_attempts = 0").
		Set("lock_until = NULL").
		Where("id = ?", userID).
		Exec(ctx)
	return affected(res, err, map[string]any{"user_id": userID.String()})
}

// PushRefreshToken implements auth.UserStore.
func (s *Store) PushRefreshToken(ctx context.Context, id uuid.UUID, token auth.RefreshToken, limit int) error {
	return s.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := s.lockUser(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.NewInsert().Model(fromRefreshToken(id, token)).Exec(ctx); err != nil {
			return err
		}
		return trimRefreshTokens(ctx, tx, id, limit)
	})
}

// RotateRefreshToken implements auth.UserStore. The conditional delete
// of presented is what makes a token single use.
func (s *Store) RotateRefreshToken(ctx context.Context, id uuid.UUID, presented string, next auth.RefreshToken, now time.Time, limit int) error {
	return s.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := s.lockUser(ctx, tx, id); err != nil {
			return err
		}

		res, err := tx.NewDelete().
			Model((*RefreshTokenModel)(nil)).
			Where("user_id = ?", id).
			Where("token = ?", presented).
			Where("expired_at > ?", now.UTC()).
			Exec(ctx)
		if err := affected(res, err, map[string]any{"user_id": id.String()}); err != nil {
			return err
		}

		if _, err := tx.NewDelete().
			Model((*RefreshTokenModel)(nil)).
			Where("user_id = ?", id).
			Where("expired_at <= ?", now.UTC()).
			Exec(ctx); err != nil {
			return err
		}

		if _, err := tx.NewInsert().Model(fromRefreshToken(id, next)).Exec(ctx); err != nil {
			return err
		}

		return trimRefreshTokens(ctx, tx, id, limit)
	})
}

// PullRefreshToken implements auth.UserStore.
func (s *Store) PullRefreshToken(ctx context.Context, id uuid.UUID, token string) error {
	_, err := s.db.NewDelete().
		Model((*RefreshTokenModel)(nil)).
		Where("user_id = ?", id).
		Where("token = ?", token).
		Exec(ctx)
	return err
}

// PruneExpiredRefreshTokens implements auth.UserStore.
func (s *Store) PruneExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*RefreshTokenModel)(nil)).
		Where("expired_at <= ?", now.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SetPasswordReset implements auth.UserStore.
func (s *Store) SetPasswordReset(ctx context.Context, id uuid.UUID, token string, expires time.Time) error {
	res, err := s.db.NewUpdate().
		Model((*UserModel)(nil)).
		Set("password_reset_token = ?", token).
		Set("password_reset_expires = ?", expires.UTC()).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	return affected(res, err, map[string]any{"user_id": id.String()})
}

// CompletePasswordReset implements auth.UserStore. The update is
// conditional on the token still being stored and unexpired.
func (s *Store) CompletePasswordReset(ctx context.Context, token, passwordHash string, now time.Time) (*auth.User, error) {
	var user *auth.User

	err := s.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record := new(UserModel)
		q := tx.NewSelect().
			Model(record).
			Column("id").
			Where("?TableAlias.password_reset_token = ?", token).
			Where("?TableAlias.password_reset_expires > ?", now.UTC()).
			Where("?TableAlias.is_deleted = ?", false).
			Limit(1)
		if s.lockRows() {
			q = q.For("UPDATE")
		}
		if err := q.Scan(ctx); err != nil {
			return notFound(err, nil)
		}

		res, err := tx.NewUpdate().
			Model((*UserModel)(nil)).
			Set("password_hash = ?", passwordHash).
			Set("password_reset_token = NULL").
			Set("password_reset_expires = NULL").
			Set("updated_at = ?", now.UTC()).
			Where("id = ?", record.ID).
			Where("password_reset_token = ?", token).
			Exec(ctx)
		if err := affected(res, err, nil); err != nil {
			return err
		}

		updated := new(UserModel)
		if err := tx.NewSelect().
			Model(updated).
			Where("?TableAlias.id = ?", record.ID).
			Scan(ctx); err != nil {
			return notFound(err, nil)
		}

		user, err = s.withRefreshTokens(ctx, tx, updated)
		return err
	})
	if err != nil {
		return nil, err
	}

	return user, nil
}

func (s *Store) withRefreshTokens(ctx context.Context, db bun.IDB, record *UserModel) (*auth.User, error) {
	var tokens []RefreshTokenModel
	err := db.NewSelect().
		Model(&tokens).
		Where("?TableAlias.user_id = ?", record.ID).
		Order("id ASC").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return toUser(record, tokens), nil
}

func (s *Store) lockRows() bool {
	return s.db.Dialect().Name() == dialect.PG
}

// lockUser serializes token list changes of one user. Concurrent
// transactions would otherwise trim against snapshots that miss each
// other's inserts and leave more than limit tokens.
func (s *Store) lockUser(ctx context.Context, tx bun.Tx, id uuid.UUID) error {
	q := tx.NewSelect().
		Model((*UserModel)(nil)).
		Column("id").
		Where("?TableAlias.id = ?", id)
	if s.lockRows() {
		q = q.For("UPDATE")
	}
	var locked uuid.UUID
	if err := q.Scan(ctx, &locked); err != nil {
		return notFound(err, map[string]any{"user_id": id.String()})
	}
	return nil
}

// trimRefreshTokens keeps the newest limit tokens of a user.
func trimRefreshTokens(ctx context.Context, tx bun.IDB, id uuid.UUID, limit int) error {
	if limit <= 0 {
		return nil
	}

	keep := tx.NewSelect().
		Model((*RefreshTokenModel)(nil)).
		Column("id").
		Where("user_id = ?", id).
		Order("id DESC").
		Limit(limit)

	_, err := tx.NewDelete().
		Model((*RefreshTokenModel)(nil)).
		Where("user_id = ?", id).
		Where("id NOT IN (?)", keep).
		Exec(ctx)
	return err
}

func affected(res sql.Result, err error, metadata map[string]any) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.NewNotFound("", metadata)
	}
	return nil
}

func notFound(err error, metadata map[string]any) error {
	if repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows) {
		return auth.NewNotFound("", metadata)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
