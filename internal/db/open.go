package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect carries the few statements that differ between the supported databases.
// Queries use $N placeholders, which both drivers accept.
type Dialect struct {
	Name string

	migrationsTableDDL string
	uniqueViolation    func(error) bool
}

var (
	Postgres = Dialect{
		Name: "postgres",
		migrationsTableDDL: `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				version TEXT PRIMARY KEY,
				applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)
		`,
		uniqueViolation: func(err error) bool {
			var pgErr *pgconn.PgError
			return errors.As(err, &pgErr) && pgErr.Code == "23505"
		},
	}

	SQLite = Dialect{
		Name: "sqlite",
		migrationsTableDDL: `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				version TEXT PRIMARY KEY,
				applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			)
		`,
		uniqueViolation: func(err error) bool {
			var liteErr *sqlite.Error
			return errors.As(err, &liteErr) && liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
		},
	}
)

// IsUniqueViolation reports whether err came from a UNIQUE constraint.
func (d Dialect) IsUniqueViolation(err error) bool {
	if err == nil || d.uniqueViolation == nil {
		return false
	}
	return d.uniqueViolation(err)
}

type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Open connects to DATABASE_URL and picks the dialect from its scheme:
// postgres:// and postgresql:// go through pgx, sqlite:// and file: through modernc sqlite.
func Open(ctx context.Context, databaseURL string, pool PoolConfig) (*sql.DB, Dialect, error) {
	databaseURL = strings.TrimSpace(databaseURL)

	var (
		database *sql.DB
		dialect  Dialect
		err      error
	)
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		dialect = Postgres
		database, err = sql.Open("pgx", databaseURL)
	case strings.HasPrefix(databaseURL, "sqlite://"), strings.HasPrefix(databaseURL, "file:"):
		dialect = SQLite
		database, err = sql.Open("sqlite", sqliteDSN(databaseURL))
	default:
		return nil, Dialect{}, fmt.Errorf("unsupported database url scheme: %q", schemeOf(databaseURL))
	}
	if err != nil {
		return nil, Dialect{}, fmt.Errorf("open database: %w", err)
	}

	if pool.MaxOpenConns > 0 {
		database.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		database.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		database.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	if pool.ConnMaxIdleTime > 0 {
		database.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := database.PingContext(pingCtx); err != nil {
		_ = database.Close()
		return nil, Dialect{}, fmt.Errorf("ping database: %w", err)
	}

	return database, dialect, nil
}

// sqliteDSN turns sqlite://path into a modernc DSN. Transactions begin IMMEDIATE so the
// login read-modify-write holds the write lock from its first statement.
func sqliteDSN(databaseURL string) string {
	path := strings.TrimPrefix(databaseURL, "sqlite://")

	params := "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	if strings.Contains(path, "?") {
		return path + "&" + params
	}
	return path + "?" + params
}

func schemeOf(databaseURL string) string {
	if idx := strings.Index(databaseURL, ":"); idx > 0 {
		return databaseURL[:idx]
	}
	return databaseURL
}
