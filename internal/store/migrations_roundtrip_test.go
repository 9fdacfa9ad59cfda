package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestMigrationsRoundTripPostgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("SURVEY_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("SURVEY_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := Open(ctx, DriverPostgres, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	roundTripMigrations(ctx, t, db, MigrationsDir(filepath.Join("..", "..", "db", "migrations"), DriverPostgres))
}

func TestMigrationsRoundTripSQLite(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, DriverSQLite, "file:"+filepath.Join(t.TempDir(), "migrate.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()

	roundTripMigrations(ctx, t, db, MigrationsDir(filepath.Join("..", "..", "db", "migrations"), DriverSQLite))
}

func roundTripMigrations(ctx context.Context, t *testing.T, db *sql.DB, migrationsDir string) {
	t.Helper()
	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply up migrations (pass 1): %v", err)
	}
	// A second pass must be a no-op.
	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("re-apply up migrations: %v", err)
	}

	rolledBack, err := RollbackMigrations(ctx, db, migrationsDir, 0)
	if err != nil {
		t.Fatalf("apply down migrations: %v", err)
	}
	if rolledBack == 0 {
		t.Fatal("expected at least one migration rolled back")
	}
	if _, err := db.ExecContext(ctx, `SELECT 1 FROM survey_schemas`); err == nil {
		t.Fatal("expected survey_schemas to be dropped")
	}
	if again, err := RollbackMigrations(ctx, db, migrationsDir, 0); err != nil || again != 0 {
		t.Fatalf("expected second rollback to be a no-op, got %d, %v", again, err)
	}

	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply up migrations (pass 2): %v", err)
	}
	if _, err := db.ExecContext(ctx, `SELECT 1 FROM survey_schemas`); err != nil {
		t.Fatalf("expected survey_schemas after re-apply: %v", err)
	}
}
