// Command authd serves the session endpoints backed by SQLite or Postgres.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	gconfig "github.com/goliatone/go-config/config"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/sqliteshim"

	auth "github.com/goliatone/go-tenant-auth"
	"github.com/goliatone/go-tenant-auth/activitymap"
	"github.com/goliatone/go-tenant-auth/repository"
)

type App struct {
	config  *gconfig.Container[*AppConfig]
	bunDB   *bun.DB
	store   *repository.Store
	manager *auth.SessionManager
	srv     router.Server[*fiber.App]
	logger  *glog.BaseLogger
}

func (a *App) Config() *AppConfig {
	return a.config.Raw()
}

func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

func main() {
	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Trace),
		glog.WithName("authd"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)

	cfg := gconfig.New(&AppConfig{}).
		WithLogger(lgr.GetLogger("config"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := cfg.Load(ctx); err != nil {
		panic(err)
	}

	if cfg.Raw().Auth.Debug {
		fmt.Println(print.MaybeHighlightJSON(cfg.Raw()))
	}

	app := &App{
		config: cfg,
		logger: lgr,
	}

	if err := WithPersistence(ctx, app); err != nil {
		panic(err)
	}
	defer app.bunDB.Close()

	WithSessionManager(app)

	if err := WithHTTPServer(app); err != nil {
		panic(err)
	}

	go PruneRefreshTokens(ctx, app)

	app.srv.Serve(app.Config().GetAddress())

	sig := WaitExitSignal()
	app.GetLogger("app").Info("shutting down", "signal", sig.String())
}

func WithPersistence(ctx context.Context, app *App) error {
	cfg := app.Config()

	var (
		sqlDB *sql.DB
		err   error
	)
	switch cfg.GetDriver() {
	case repository.DriverPostgres:
		sqlDB, err = sql.Open("pgx", cfg.GetDSN())
	default:
		sqlDB, err = sql.Open(sqliteshim.ShimName, cfg.GetDSN())
		if err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}
	if err != nil {
		return err
	}

	db, err := repository.NewDB(sqlDB, cfg.GetDriver())
	if err != nil {
		return err
	}

	if cfg.GetDriver() == repository.DriverSQLite {
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
			return err
		}
	}

	if err := repository.RunMigrations(ctx, db); err != nil {
		return err
	}

	store := repository.NewStore(db)
	if err := store.Validate(); err != nil {
		return err
	}

	app.bunDB = db
	app.store = store
	return nil
}

func WithSessionManager(app *App) {
	cfg := app.Config()
	app.manager = auth.NewSessionManager(app.store, cfg.Auth).
		WithLoggerProvider(app.logger).
		WithNotifier(auth.NewLogNotifier(app.GetLogger("notifier"))).
		WithActivitySink(AuditSink(app.GetLogger("audit"))).
		WithHashid(cfg.UseHashid)
}

// AuditSink logs normalized activity records.
func AuditSink(logger glog.Logger) auth.ActivitySink {
	return activitymap.Sink(func(_ context.Context, n activitymap.Normalized) error {
		logger.Info("activity",
			"verb", n.Verb,
			"actor_id", n.ActorID,
			"tenant_id", n.TenantID,
			"occurred_at", n.OccurredAt,
			"metadata", n.Metadata,
		)
		return nil
	}, activitymap.WithChannel("authd"))
}

func WithHTTPServer(app *App) error {
	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:  true,
			StrictRouting: false,
		}))
	})

	srv.Router().WithLogger(app.GetLogger("router"))

	auth.NewSessionController(app.manager).
		WithLogger(app.GetLogger("auth:ctrl")).
		WithDebug(app.Config().Auth.Debug).
		RegisterRoutes(srv.Router())

	app.srv = srv
	ProtectedRoutes(app)
	return nil
}

func ProtectedRoutes(app *App) {
	p := app.srv.Router()

	p.Get("/me", ProfileShow(app), app.manager.ProtectedRoute(""))
	p.Get("/account/members", AccountMembers(app), app.manager.ProtectedRoute(string(auth.RoleAdmin)))
}

// ProfileShow returns the user behind the access token.
func ProfileShow(app *App) router.HandlerFunc {
	return func(c router.Context) error {
		claims, ok := auth.GetRouterClaims(c, auth.DefaultContextKey)
		if !ok {
			return c.JSON(router.StatusUnauthorized, auth.ToErrorResponse(auth.ErrTokenMalformed, false))
		}

		uid, err := uuid.Parse(claims.UserID())
		if err != nil {
			return c.JSON(router.StatusUnauthorized, auth.ToErrorResponse(auth.ErrTokenMalformed, false))
		}

		user, err := app.store.FindUserByID(c.Context(), uid)
		if err != nil {
			app.GetLogger("profile").Error("find user failed", "error", err)
			return c.JSON(auth.HTTPStatus(err), auth.ToErrorResponse(err, app.Config().Auth.Debug))
		}

		return c.JSON(router.StatusOK, map[string]any{
			"id":        user.ID,
			"accountId": user.AccountID,
			"email":     user.Email,
			"role":      user.Role,
			"verified":  user.IsVerified,
		})
	}
}

// AccountMembers is reachable by Admin and SuperAdmin users only.
func AccountMembers(app *App) router.HandlerFunc {
	return func(c router.Context) error {
		claims, ok := auth.GetRouterClaims(c, auth.DefaultContextKey)
		if !ok {
			return c.JSON(router.StatusUnauthorized, auth.ToErrorResponse(auth.ErrTokenMalformed, false))
		}
		return c.JSON(router.StatusOK, map[string]any{
			"accountId": claims.AccountID(),
			"role":      claims.Role(),
		})
	}
}

// PruneRefreshTokens sweeps expired refresh tokens until ctx is done.
func PruneRefreshTokens(ctx context.Context, app *App) {
	interval := app.Config().Server.PruneInterval
	if interval <= 0 {
		return
	}

	logger := app.GetLogger("prune")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := app.manager.PruneRefreshTokens(ctx)
			if err != nil {
				logger.Error("prune refresh tokens failed", "error", err)
				continue
			}
			if removed > 0 {
				logger.Info("pruned refresh tokens", "removed", removed)
			}
		}
	}
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
