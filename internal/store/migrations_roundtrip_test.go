package store

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"folio/api/db"
)

func testDatabase(t *testing.T) *sql.DB {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("FOLIO_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("FOLIO_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	conn, err := Open(ctx, dsn, DefaultPoolOptions())
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	if err := resetPublicSchema(ctx, conn); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := ApplyMigrations(ctx, conn, db.Migrations(), zerolog.Nop()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return conn
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	conn := testDatabase(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := RollbackMigrations(ctx, conn, db.Migrations(), 0, zerolog.Nop()); err != nil {
		t.Fatalf("roll back migrations: %v", err)
	}
	status, versions, err := MigrationStatus(ctx, conn, db.Migrations())
	if err != nil {
		t.Fatalf("migration status: %v", err)
	}
	for _, version := range versions {
		if status[version] {
			t.Fatalf("expected %s to be rolled back", version)
		}
	}

	if err := ApplyMigrations(ctx, conn, db.Migrations(), zerolog.Nop()); err != nil {
		t.Fatalf("apply up migrations (pass 2): %v", err)
	}
}

func resetPublicSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`)
	return err
}
