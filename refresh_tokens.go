package auth

import (
	"context"
	"time"
)

// TokenType is the authorization scheme clients send access tokens with.
const TokenType = "JWT"

// SessionTokens is what a successful login or refresh hands back.
type SessionTokens struct {
	TokenType        string    `json:"tokenType"`
	AccessToken      string    `json:"token"`
	ExpiresAt        time.Time `json:"expiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
	User             *User     `json:"user,omitempty"`
}

// PruneExpiredRefreshTokens returns the tokens still valid at now, in order.
func PruneExpiredRefreshTokens(tokens []RefreshToken, now time.Time) []RefreshToken {
	out := make([]RefreshToken, 0, len(tokens))
	for _, t := range tokens {
		if !t.IsExpired(now) {
			out = append(out, t)
		}
	}
	return out
}

// TrimRefreshTokens drops the oldest tokens until at most limit remain.
func TrimRefreshTokens(tokens []RefreshToken, limit int) []RefreshToken {
	if limit <= 0 || len(tokens) <= limit {
		return tokens
	}
	return append([]RefreshToken(nil), tokens[len(tokens)-limit:]...)
}

// AppendRefreshToken appends token and trims to limit.
func AppendRefreshToken(tokens []RefreshToken, token RefreshToken, limit int) []RefreshToken {
	out := make([]RefreshToken, 0, len(tokens)+1)
	out = append(out, tokens...)
	out = append(out, token)
	return TrimRefreshTokens(out, limit)
}

// RemoveRefreshToken returns tokens without the given one.
func RemoveRefreshToken(tokens []RefreshToken, token string) ([]RefreshToken, bool) {
	out := make([]RefreshToken, 0, len(tokens))
	found := false
	for _, t := range tokens {
		if t.Token == token {
			found = true
			continue
		}
		out = append(out, t)
	}
	return out, found
}

// RefreshRegistry keeps the bounded per user list of refresh tokens.
type RefreshRegistry struct {
	store    UserStore
	tokens   TokenService
	limit    int
	clock    Clock
	logger   Logger
	provider LoggerProvider
}

// NewRefreshRegistry creates a registry retaining at most limit tokens per user.
func NewRefreshRegistry(store UserStore, tokens TokenService, limit int) *RefreshRegistry {
	provider, logger := ResolveLogger("auth.refresh", nil, nil)
	if limit <= 0 {
		limit = DefaultMaxRefreshTokens
	}
	return &RefreshRegistry{
		store:    store,
		tokens:   tokens,
		limit:    limit,
		clock:    defaultClock,
		logger:   logger,
		provider: provider,
	}
}

func (r *RefreshRegistry) WithLogger(l Logger) *RefreshRegistry {
	r.provider, r.logger = ResolveLogger("auth.refresh", r.provider, l)
	return r
}

func (r *RefreshRegistry) WithLoggerProvider(provider LoggerProvider) *RefreshRegistry {
	r.provider, r.logger = ResolveLogger("auth.refresh", provider, nil)
	return r
}

func (r *RefreshRegistry) WithClock(c Clock) *RefreshRegistry {
	r.clock = normalizeClock(c)
	return r
}

// Limit returns the per user cap.
func (r *RefreshRegistry) Limit() int {
	return r.limit
}

// Issue creates a new session for user: a fresh refresh token is
// appended to the user's list and an access token is signed.
func (r *RefreshRegistry) Issue(ctx context.Context, user *User) (*SessionTokens, error) {
	refresh := r.tokens.IssueRefreshToken()
	if err := r.Append(ctx, user, refresh); err != nil {
		return nil, err
	}
	return r.session(ctx, user, refresh)
}

// Append stores token for user keeping the FIFO cap.
func (r *RefreshRegistry) Append(ctx context.Context, user *User, token RefreshToken) error {
	if err := r.store.PushRefreshToken(context.WithoutCancel(ctx), user.ID, token, r.limit); err != nil {
		return dependencyFailure(err, "failed to store refresh token")
	}
	user.RefreshTokens = AppendRefreshToken(user.RefreshTokens, token, r.limit)
	return nil
}

// Rotate exchanges presented for a new refresh token and access token.
func (r *RefreshRegistry) Rotate(ctx context.Context, user *User, presented string) (*SessionTokens, error) {
	now := r.clock()
	storeCtx := context.WithoutCancel(ctx)

	entry, ok := user.FindRefreshToken(presented)
	if !ok {
		return nil, ErrRefreshTokenInvalid
	}

	if entry.IsExpired(now) {
		if err := r.store.PullRefreshToken(storeCtx, user.ID, presented); err != nil {
			r.logger.Warn("failed to prune expired refresh token", "user_id", user.ID.String(), "error", err)
		}
		return nil, ErrRefreshTokenExpired
	}

	next := r.tokens.IssueRefreshToken()
	if err := r.store.RotateRefreshToken(storeCtx, user.ID, presented, next, now, r.limit); err != nil {
		if IsNotFound(err) {
			// a concurrent refresh consumed it first
			return nil, ErrRefreshTokenInvalid
		}
		return nil, dependencyFailure(err, "failed to rotate refresh token")
	}

	remaining, _ := RemoveRefreshToken(PruneExpiredRefreshTokens(user.RefreshTokens, now), presented)
	user.RefreshTokens = AppendRefreshToken(remaining, next, r.limit)

	return r.session(ctx, user, next)
}

// Prune removes expired refresh tokens for every user.
func (r *RefreshRegistry) Prune(ctx context.Context) (int64, error) {
	n, err := r.store.PruneExpiredRefreshTokens(ctx, r.clock())
	if err != nil {
		return 0, dependencyFailure(err, "failed to prune refresh tokens")
	}
	return n, nil
}

func (r *RefreshRegistry) session(ctx context.Context, user *User, refresh RefreshToken) (*SessionTokens, error) {
	access, expiresAt, err := r.tokens.IssueAccessToken(ctx, user)
	if err != nil {
		return nil, err
	}
	return &SessionTokens{
		TokenType:        TokenType,
		AccessToken:      access,
		ExpiresAt:        expiresAt,
		RefreshToken:     refresh.Token,
		RefreshExpiresAt: refresh.ExpiredAt,
		User:             user,
	}, nil
}
