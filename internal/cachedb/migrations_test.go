package cachedb

import (
	"context"
	"path/filepath"
	"testing"
)

func TestRunMigrationsIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	db, err := Open(context.Background(), path, Config{})
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	names, err := AppliedMigrations(db.SQL())
	if err != nil {
		t.Fatalf("applied migrations: %v", err)
	}
	if len(names) != len(migrationsList) {
		t.Fatalf("expected %d migrations applied, got %d: %v", len(migrationsList), len(names), names)
	}
	db.Close()

	// Reopening an already-migrated database must not error or re-apply.
	db2, err := Open(context.Background(), path, Config{})
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer db2.Close()

	names2, err := AppliedMigrations(db2.SQL())
	if err != nil {
		t.Fatalf("applied migrations after reopen: %v", err)
	}
	if len(names2) != len(names) {
		t.Fatalf("migration count changed across reopen: %v vs %v", names, names2)
	}
}

func TestAppliedMigrationsOrder(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(context.Background(), filepath.Join(dir, "test.db"), Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	names, err := AppliedMigrations(db.SQL())
	if err != nil {
		t.Fatalf("applied migrations: %v", err)
	}
	for i, m := range migrationsList {
		if names[i] != m.Name {
			t.Errorf("position %d: want %s, got %s", i, m.Name, names[i])
		}
	}
}

func TestSplitStatements(t *testing.T) {
	script := `
CREATE TABLE a (
    id INTEGER PRIMARY KEY,
    label TEXT NOT NULL DEFAULT (replace('x;y', ';', '-')),
    applied_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX idx_a ON a(id);
INSERT INTO a (id) VALUES (1);
`
	stmts := splitStatements(script)
	if len(stmts) != 3 {
		t.Fatalf("expected 3 statements, got %d: %q", len(stmts), stmts)
	}
	// The ; literals inside replace()'s arguments must not split the
	// CREATE TABLE.
	if got := stmts[0]; got[:14] != "CREATE TABLE a" || got[len(got)-1] != ')' {
		t.Fatalf("first statement split incorrectly: %q", got)
	}
}

func TestSplitStatementsSemicolonInStringLiteral(t *testing.T) {
	script := `INSERT INTO t (x) VALUES ('a;b');INSERT INTO t (x) VALUES ('it''s; fine')`
	stmts := splitStatements(script)
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(stmts), stmts)
	}
	if stmts[1] != `INSERT INTO t (x) VALUES ('it''s; fine')` {
		t.Fatalf("escaped quote handled incorrectly: %q", stmts[1])
	}
}
