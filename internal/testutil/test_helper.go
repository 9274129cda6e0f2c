// Package testutil provides shared helpers for tests that need a database.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"

	"github.com/johndosdos/relay/internal/store"
	"github.com/johndosdos/relay/sql/schema"
)

func ProjectRoot() string {
	_, file, _, _ := runtime.Caller(0)
	root := filepath.Join(filepath.Dir(file), "../../")
	return root
}

// SQLiteStore returns a migrated SQLite store in a per-test temp directory.
func SQLiteStore(t testing.TB) *store.SQLiteStore {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := store.NewSQLite(ctx, filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("store.NewSQLite() error = %+v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	return s
}

// PostgresStore returns a freshly migrated Postgres store pointed at
// TEST_DB_URL. The test is skipped when the variable is not set. The schema is
// rolled back when the test finishes.
func PostgresStore(t testing.TB) *store.PostgresStore {
	t.Helper()

	_ = godotenv.Load(filepath.Join(ProjectRoot(), ".env"))

	testURL := os.Getenv("TEST_DB_URL")
	if testURL == "" {
		t.Skip("TEST_DB_URL environment variable is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := store.NewPostgres(ctx, testURL)
	if err != nil {
		t.Fatalf("store.NewPostgres() error = %+v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		db := stdlib.OpenDBFromPool(s.Pool())
		if err := store.Reset(ctx, goose.DialectPostgres, db, schema.Postgres()); err != nil {
			t.Errorf("store.Reset() error = %+v", err)
		}
		_ = db.Close()
		_ = s.Close()
	})

	return s
}
