// Package database provides database setup, models, and the SQL-backed Store
// used by the dialog engine and the bot.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/mcards/prismabot/migrations"

	_ "github.com/jackc/pgx/v5/stdlib" //revive:disable:blank-imports
	_ "modernc.org/sqlite"             //revive:disable:blank-imports
)

// Supported SQL drivers as named in configuration.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// sqliteParams are appended to every SQLite DSN that does not set them.
var sqliteParams = map[string]string{
	"_pragma":      "foreign_keys(1)",
	"_time_format": "sqlite",
}

// NewDB connects to the configured database, applies migrations and returns
// the connection pool. For SQLite dsn is a file path; for Postgres it is a
// connection URL.
func NewDB(driver, dsn string) (*sqlx.DB, error) {
	var (
		db  *sqlx.DB
		err error
	)

	switch driver {
	case DriverSQLite:
		db, err = sqlx.Connect("sqlite", SQLiteDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		// SQLite doesn't support concurrent writes, so max open conns = 1
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(5 * time.Minute)
	case DriverPostgres:
		db, err = sqlx.Connect("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(30 * time.Minute)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	if err := ApplyMigrations(db.DB, driver, ExtractDBNameFromPath(dsn)); err != nil {
		CloseDB(db)
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	slog.Info("Database connected and migrations applied successfully", "driver", driver)
	return db, nil
}

// CloseDB closes the database connection pool.
func CloseDB(db *sqlx.DB) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		slog.Error("Error closing database connection", "error", err)
	} else {
		slog.Info("Database connection closed successfully.")
	}
}

// ApplyMigrations runs the embedded migrations of the given driver's dialect.
func ApplyMigrations(db *sql.DB, driver, dbName string) error {
	if db == nil {
		return errors.New("database connection is nil, cannot apply migrations")
	}
	if dbName == "" {
		return errors.New("database name/path for migration driver is empty")
	}

	slog.Info("Applying database migrations...", "driver", driver, "database_name", dbName)

	var (
		dir      string
		name     string
		dbDriver database.Driver
		err      error
	)
	switch driver {
	case DriverSQLite:
		dir, name = "sqlite", "sqlite3"
		dbDriver, err = sqlite3.WithInstance(db, &sqlite3.Config{})
	case DriverPostgres:
		dir, name = "postgres", "pgx5"
		dbDriver, err = pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	default:
		return fmt.Errorf("no migrations for driver %q", driver)
	}
	if err != nil {
		return fmt.Errorf("failed to create %s database driver: %w", name, err)
	}

	sourceDriver, err := iofs.New(migrations.FS, dir)
	if err != nil {
		return fmt.Errorf("failed to create embed source driver instance: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", sourceDriver, name, dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := migrator.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("No database migrations to apply.")
			return nil
		}
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	slog.Info("Database migrations applied successfully.")
	return nil
}

// SQLiteDSN adds the pragmas the store relies on (foreign keys, sortable
// timestamps) unless the path already sets them.
func SQLiteDSN(path string) string {
	base, rawQuery, _ := strings.Cut(path, "?")
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return path
	}
	for key, value := range sqliteParams {
		if !query.Has(key) {
			query.Set(key, value)
		}
	}
	return base + "?" + query.Encode()
}

// ExtractDBNameFromPath extracts the database file path from a possibly URL-formatted path.
// This handles both simple file paths and paths with URL-style encoding.
func ExtractDBNameFromPath(path string) string {
	path = strings.TrimPrefix(path, "file:")

	if idx := strings.Index(path, "?"); idx != -1 {
		path = path[:idx]
	}

	if decoded, err := url.PathUnescape(path); err == nil {
		return decoded
	}

	return path
}
