package db

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func openTestSQLite(t *testing.T) (Dialect, func() error, func(query string) int) {
	t.Helper()

	ctx := context.Background()
	database, dialect, err := Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "auth.db"), PoolConfig{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	run := func() error {
		_, err := RunMigrations(ctx, database, dialect)
		return err
	}
	count := func(query string) int {
		var n int
		if err := database.QueryRowContext(ctx, query).Scan(&n); err != nil {
			t.Fatalf("count %q: %v", query, err)
		}
		return n
	}
	return dialect, run, count
}

func TestRunMigrationsIsIdempotent(t *testing.T) {
	dialect, run, count := openTestSQLite(t)
	if dialect.Name != "sqlite" {
		t.Fatalf("expected sqlite dialect, got %q", dialect.Name)
	}

	if err := run(); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := run(); err != nil {
		t.Fatalf("second run: %v", err)
	}

	if got := count(`SELECT COUNT(*) FROM schema_migrations`); got != 3 {
		t.Fatalf("expected 3 recorded migrations, got %d", got)
	}
	if got := count(`SELECT COUNT(*) FROM users`); got != 0 {
		t.Fatalf("expected empty users table, got %d rows", got)
	}
}

func TestOpenRejectsUnknownScheme(t *testing.T) {
	_, _, err := Open(context.Background(), "mysql://root@localhost/auth", PoolConfig{})
	if err == nil {
		t.Fatal("expected error for mysql url")
	}
	if !strings.Contains(err.Error(), `"mysql"`) {
		t.Fatalf("error should name the scheme, got %v", err)
	}
}

func TestSQLiteDSN(t *testing.T) {
	cases := map[string]string{
		"sqlite://auth.db":              "auth.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate",
		"file:auth.db?cache=shared":     "file:auth.db?cache=shared&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate",
		"sqlite:///var/lib/auth/app.db": "/var/lib/auth/app.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate",
	}
	for in, want := range cases {
		if got := sqliteDSN(in); got != want {
			t.Errorf("sqliteDSN(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsUniqueViolationIgnoresOtherErrors(t *testing.T) {
	if SQLite.IsUniqueViolation(nil) {
		t.Fatal("nil is not a unique violation")
	}
	if Postgres.IsUniqueViolation(context.Canceled) {
		t.Fatal("context.Canceled is not a unique violation")
	}
}
