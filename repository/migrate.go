package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	auth "github.com/goliatone/go-tenant-auth"
)

// Driver names accepted by NewDB.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// NewDB wraps sqlDB with the Bun dialect for driver.
func NewDB(sqlDB *sql.DB, driver string) (*bun.DB, error) {
	switch driver {
	case DriverSQLite:
		return bun.NewDB(sqlDB, sqlitedialect.New()), nil
	case DriverPostgres:
		return bun.NewDB(sqlDB, pgdialect.New()), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// RunMigrations applies the embedded migrations for the dialect of db.
func RunMigrations(ctx context.Context, db *bun.DB) error {
	var dir, gooseDialect string
	switch db.Dialect().Name() {
	case dialect.SQLite:
		dir, gooseDialect = DriverSQLite, "sqlite3"
	case dialect.PG:
		dir, gooseDialect = DriverPostgres, "pgx"
	default:
		return fmt.Errorf("no migrations for dialect %s", db.Dialect().Name())
	}

	migrations, err := auth.DialectMigrationsFS(dir)
	if err != nil {
		return err
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect(gooseDialect); err != nil {
		return err
	}

	return gooseUpContext(ctx, db.DB, ".")
}
