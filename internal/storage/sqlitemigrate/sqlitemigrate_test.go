package sqlitemigrate

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "migrate.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func count(t *testing.T, db *sql.DB, query string) int {
	t.Helper()
	var n int
	if err := db.QueryRow(query).Scan(&n); err != nil {
		t.Fatalf("query %q: %v", query, err)
	}
	return n
}

func TestApplyRecordsEachFileOnce(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	fsys := fstest.MapFS{
		"0001_items.sql": {Data: []byte("-- +migrate Up\nCREATE TABLE items(id TEXT PRIMARY KEY);\n-- +migrate Down\nDROP TABLE items;")},
		"0002_more.sql":  {Data: []byte("CREATE TABLE more(id TEXT PRIMARY KEY);")},
		"README.md":      {Data: []byte("not a migration")},
	}

	if err := Apply(ctx, db, fsys); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := Apply(ctx, db, fsys); err != nil {
		t.Fatalf("second apply should skip applied files: %v", err)
	}
	if n := count(t, db, "SELECT COUNT(*) FROM schema_migrations"); n != 2 {
		t.Fatalf("expected 2 recorded migrations, got %d", n)
	}
	if n := count(t, db, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('items', 'more')"); n != 2 {
		t.Fatalf("expected both tables, got %d", n)
	}
}

func TestApplyFailureIsNotRecorded(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	fsys := fstest.MapFS{
		"0001_bad.sql": {Data: []byte("CREATE TABLE oops(")},
	}
	if err := Apply(ctx, db, fsys); err == nil {
		t.Fatal("expected error for broken migration")
	}
	if n := count(t, db, "SELECT COUNT(*) FROM schema_migrations"); n != 0 {
		t.Fatalf("failed migration must not be recorded, got %d", n)
	}
}

func TestUp(t *testing.T) {
	got := Up("-- header\n-- +migrate Up\nA;\n-- +migrate Down\nB;")
	if got != "\nA;\n" {
		t.Fatalf("unexpected up section %q", got)
	}
	if Up("C;") != "C;" {
		t.Fatal("content without markers should be returned as is")
	}
}
