// Package auth implements sessions for a multi tenant application:
// registration with a confirmation code, password login with account
// lockout, HS256 access tokens paired with rotating refresh tokens,
// password reset by email or text message, and a role hierarchy for
// authorization.
//
// SessionManager is the entry point. It composes a PasswordHasher, a
// LockoutTracker, a TokenService, a RefreshRegistry and a
// PasswordResetFlow over a Store:
//
//	store := repository.NewStore(db)
//	manager := auth.NewSessionManager(store, auth.Options{SigningKey: key}).
//		WithNotifier(notifier).
//		WithLoggerProvider(lgr)
//
// Accounts are tenants. Registering creates an account and its Owner,
// who must confirm the registration code before logging in. Each user
// keeps at most Config.GetMaxRefreshTokens refresh tokens; the oldest is
// dropped first and presenting one rotates it.
//
// Stores perform each per user mutation atomically, so concurrent logins
// and refreshes never lose updates. The repository package provides a
// Bun store for SQLite and Postgres, memstore an in process one.
//
// Transport:
//   - SessionController mounts the JSON endpoints on a go-router router.
//   - SessionManager.ProtectedRoute returns a jwtware middleware that
//     validates access tokens and, optionally, a minimum role.
//
// Every error returned is a go-errors Error carrying a text code; use
// KindOf and HTTPStatus to classify it and ToErrorResponse to render it.
package auth
