package store

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

// These tests exercise the real schema and need a disposable database.
// Set TIDO_TEST_DATABASE_URL (or the standard POSTGRES_* variables) to run
// them; they skip in short mode.

func openTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	db, err := Open(ctx, testDatabaseURL())
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := ApplyMigrations(ctx, db, migrationsDir()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db)
}

func TestUserEmailUniquenessRaisesUniqueViolation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.CreateUser(ctx, User{ID: "usr_1", Email: "avery@example.com", PasswordHash: "x"}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	err := s.CreateUser(ctx, User{ID: "usr_2", Email: "avery@example.com", PasswordHash: "y"})
	if err == nil {
		t.Fatal("expected duplicate email to fail")
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		t.Fatalf("expected PostgreSQL error, got: %v", err)
	}
	if pgErr.SQLState() != "23505" {
		t.Fatalf("expected SQLSTATE 23505 (unique_violation), got: %s", pgErr.SQLState())
	}
}

func TestDeleteStoryCascadesToDescendantsAndAssignees(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.CreateUser(ctx, User{ID: "usr_1", Email: "avery@example.com", PasswordHash: "x"}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	parent := "sty_parent"
	child := "sty_child"
	grandchild := "sty_grandchild"
	for _, rec := range []StoryRecord{
		{ID: parent, Title: "Parent", Priority: 3, Position: 1, OwnerID: "usr_1"},
		{ID: child, Title: "Child", Priority: 3, OwnerID: "usr_1", ParentID: &parent},
		{ID: grandchild, Title: "Grandchild", Priority: 3, OwnerID: "usr_1", ParentID: &child},
	} {
		if err := s.InsertStory(ctx, rec); err != nil {
			t.Fatalf("insert %s: %v", rec.ID, err)
		}
	}
	if err := s.ReplaceStoryAssignees(ctx, grandchild, []string{"usr_1"}); err != nil {
		t.Fatalf("assign: %v", err)
	}

	if err := s.DeleteStory(ctx, parent); err != nil {
		t.Fatalf("delete parent: %v", err)
	}

	roots, err := s.ListStoryTree(ctx, "usr_1")
	if err != nil {
		t.Fatalf("list tree: %v", err)
	}
	if len(roots) != 0 {
		t.Fatalf("expected empty tree after cascade, got %d roots", len(roots))
	}

	owned, err := s.StoryOwned(ctx, grandchild, "usr_1")
	if err != nil {
		t.Fatalf("story owned: %v", err)
	}
	if owned {
		t.Fatal("grandchild survived the cascade")
	}
}

func testDatabaseURL() string {
	if url := strings.TrimSpace(os.Getenv("TIDO_TEST_DATABASE_URL")); url != "" {
		return url
	}
	host := getenv("POSTGRES_HOST", "localhost")
	port := getenv("POSTGRES_PORT", "5432")
	user := getenv("POSTGRES_USER", "tido")
	pass := getenv("POSTGRES_PASSWORD", "tido")
	dbname := getenv("POSTGRES_DB", "tido_test")
	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + dbname + "?sslmode=disable"
}

func getenv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
