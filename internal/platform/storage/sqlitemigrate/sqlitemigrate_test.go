package sqlitemigrate

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"

	"github.com/louisbranch/masquerade/internal/services/masks/storage/sqlite/migrations"
)

// withKV returns the store's embedded migrations plus extra files.
func withKV(t *testing.T, extra map[string]string) fstest.MapFS {
	t.Helper()
	kv, err := fs.ReadFile(migrations.FS, "001_kv.sql")
	if err != nil {
		t.Fatalf("read kv migration: %v", err)
	}
	out := fstest.MapFS{"001_kv.sql": &fstest.MapFile{Data: kv}}
	for name, body := range extra {
		out[name] = &fstest.MapFile{Data: []byte(body)}
	}
	return out
}

func TestApplyKVSchema(t *testing.T) {
	db := openInMemoryDB(t)

	if err := ApplyMigrations(context.Background(), db, migrations.FS, ""); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if got := queryString(t, db, "SELECT name FROM schema_migrations"); got != "001_kv.sql" {
		t.Fatalf("expected kv migration recorded, got %q", got)
	}
	cols := columns(t, db, "kv")
	if strings.Join(cols, ",") != "key,value,updated_at" {
		t.Fatalf("unexpected kv columns %v", cols)
	}

	if _, err := db.Exec("INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)", "state", []byte(`{"version":1}`), 1); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := db.Exec("INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)", "state", []byte(`{}`), 2); err == nil {
		t.Fatal("expected duplicate key to violate the primary key")
	}
}

func TestReapplyKeepsDocument(t *testing.T) {
	db := openInMemoryDB(t)
	ctx := context.Background()

	if err := ApplyMigrations(ctx, db, migrations.FS, ""); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if _, err := db.Exec("INSERT INTO kv (key, value, updated_at) VALUES ('state', x'7b7d', 1)"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := ApplyMigrations(ctx, db, migrations.FS, ""); err != nil {
		t.Fatalf("re-apply migrations should be idempotent: %v", err)
	}

	if rows := queryInt64(t, db, "SELECT COUNT(*) FROM schema_migrations"); rows != 1 {
		t.Fatalf("expected one migration row after replay, got %d", rows)
	}
	if rows := queryInt64(t, db, "SELECT COUNT(*) FROM kv"); rows != 1 {
		t.Fatalf("expected stored document to survive replay, got %d rows", rows)
	}
}

func TestFailedMigrationIsRetried(t *testing.T) {
	db := openInMemoryDB(t)
	ctx := context.Background()

	broken := withKV(t, map[string]string{"002_touched.sql": "-- +migrate Up\nALTER TABLE kv ADD COLUMN touched_by TEXT NOT NULL;"})
	if err := ApplyMigrations(ctx, db, broken, ""); err == nil {
		t.Fatal("expected a NOT NULL column without default to fail")
	}
	if rows := queryInt64(t, db, "SELECT COUNT(*) FROM schema_migrations"); rows != 1 {
		t.Fatalf("expected only the kv migration recorded, got %d rows", rows)
	}

	fixed := withKV(t, map[string]string{"002_touched.sql": "-- +migrate Up\nALTER TABLE kv ADD COLUMN touched_by TEXT NOT NULL DEFAULT '';"})
	if err := ApplyMigrations(ctx, db, fixed, ""); err != nil {
		t.Fatalf("apply fixed migration: %v", err)
	}
	if rows := queryInt64(t, db, "SELECT COUNT(*) FROM schema_migrations"); rows != 2 {
		t.Fatalf("expected fixed migration recorded, got %d rows", rows)
	}
	if cols := columns(t, db, "kv"); cols[len(cols)-1] != "touched_by" {
		t.Fatalf("expected touched_by column, got %v", cols)
	}
}

func TestExistingColumnCountsAsApplied(t *testing.T) {
	db := openInMemoryDB(t)
	ctx := context.Background()

	if err := ApplyMigrations(ctx, db, migrations.FS, ""); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if _, err := db.Exec("ALTER TABLE kv ADD COLUMN touched_by TEXT"); err != nil {
		t.Fatalf("alter by hand: %v", err)
	}
	extra := withKV(t, map[string]string{"002_touched.sql": "-- +migrate Up\nALTER TABLE kv ADD COLUMN touched_by TEXT;"})
	if err := ApplyMigrations(ctx, db, extra, ""); err != nil {
		t.Fatalf("expected duplicate column to be tolerated: %v", err)
	}
	if rows := queryInt64(t, db, "SELECT COUNT(*) FROM schema_migrations"); rows != 2 {
		t.Fatalf("expected both migrations recorded, got %d rows", rows)
	}
}

func TestApplyFromMigrationRoot(t *testing.T) {
	db := openInMemoryDB(t)
	kv, err := fs.ReadFile(migrations.FS, "001_kv.sql")
	if err != nil {
		t.Fatalf("read kv migration: %v", err)
	}
	nested := fstest.MapFS{"sqlite/001_kv.sql": &fstest.MapFile{Data: kv}}

	if err := ApplyMigrations(context.Background(), db, nested, "sqlite"); err != nil {
		t.Fatalf("apply migrations with root: %v", err)
	}
	if key := queryString(t, db, "SELECT name FROM schema_migrations LIMIT 1"); key != "sqlite/001_kv.sql" {
		t.Fatalf("expected migration key with root path, got %q", key)
	}
	if len(columns(t, db, "kv")) != 3 {
		t.Fatal("expected kv table from the nested root")
	}
}

func TestLoadKVMigration(t *testing.T) {
	loaded, err := Load(withKV(t, map[string]string{"README.md": "ignored", "000_init.sql": "SELECT 1;"}), "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 2 || loaded[0].Name != "000_init.sql" || loaded[1].Name != "001_kv.sql" {
		t.Fatalf("unexpected migrations %+v", loaded)
	}
	up := loaded[1].Up
	if !strings.Contains(up, "CREATE TABLE kv") || strings.Contains(up, "DROP TABLE") {
		t.Fatalf("expected only the up section, got %q", up)
	}
}

func TestExtractUpMigrationWithoutMarkers(t *testing.T) {
	if got := ExtractUpMigration("CREATE TABLE x(id INT);"); got != "CREATE TABLE x(id INT);" {
		t.Fatalf("expected whole content without markers, got %q", got)
	}
}

func TestIsAlreadyExistsError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{err: nil, want: false},
		{err: errors.New("table kv already exists"), want: true},
		{err: errors.New("SQL logic error: duplicate column name: touched_by"), want: true},
		{err: errors.New("no such table: kv"), want: false},
	}
	for _, tt := range tests {
		if got := IsAlreadyExistsError(tt.err); got != tt.want {
			t.Fatalf("expected %v for %v, got %v", tt.want, tt.err, got)
		}
	}
}

func TestApplyMigrationsRequiresDB(t *testing.T) {
	if err := ApplyMigrations(context.Background(), nil, migrations.FS, ""); err == nil {
		t.Fatal("expected error for nil db")
	}
}

func openInMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	// Every pooled connection would otherwise see its own empty database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Fatalf("close db: %v", err)
		}
	})
	return db
}

func queryInt64(t *testing.T, db *sql.DB, query string) int64 {
	t.Helper()
	var value int64
	if err := db.QueryRow(query).Scan(&value); err != nil {
		t.Fatalf("query int value: %v", err)
	}
	return value
}

func queryString(t *testing.T, db *sql.DB, query string) string {
	t.Helper()
	var value string
	if err := db.QueryRow(query).Scan(&value); err != nil {
		t.Fatalf("query string value: %v", err)
	}
	return value
}

// columns lists a table's columns in declaration order.
func columns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM pragma_table_info(?) ORDER BY cid", table)
	if err != nil {
		t.Fatalf("table info: %v", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan column: %v", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("table info rows: %v", err)
	}
	return names
}
