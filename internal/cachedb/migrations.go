package cachedb

import (
	"database/sql"
	"fmt"
	"strings"
)

// Migration is a single named, idempotent forward-only schema change.
type Migration struct {
	Name string
	Func func(*sql.DB) error
}

// migrationsList is the ordered list of all migrations run at startup. Every
// Func must be safe to run against a database that already has it applied,
// since RunMigrations re-executes Funcs whose name is not yet recorded in
// _migrations but the statements themselves are all IF NOT EXISTS / ADD
// COLUMN-guarded so a partially-applied DB never errors on retry.
var migrationsList = []Migration{
	{"0001_initial_schema", migrateInitialSchema},
	{"0002_pending_action_summary", migratePendingActionSummary},
}

func migrateInitialSchema(db *sql.DB) error {
	return execScript(db, baseSchema)
}

func migratePendingActionSummary(db *sql.DB) error {
	return execScript(db, pendingActionsSchema)
}

// execScript runs a multi-statement SQL script one statement at a time, so
// a failure reports the offending statement instead of an offset into the
// whole script.
func execScript(db *sql.DB, script string) error {
	for _, stmt := range splitStatements(script) {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

// splitStatements splits a SQL script on top-level semicolons. Semicolons
// inside balanced parentheses (function calls like strftime('%s', 'now')
// in DEFAULT clauses) or inside string literals do not end a statement.
func splitStatements(script string) []string {
	var stmts []string
	depth := 0
	inString := false
	start := 0

	for i := 0; i < len(script); i++ {
		c := script[i]
		if inString {
			if c == '\'' {
				// '' is an escaped quote inside a SQL string literal.
				if i+1 < len(script) && script[i+1] == '\'' {
					i++
					continue
				}
				inString = false
			}
			continue
		}
		switch c {
		case '\'':
			inString = true
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case ';':
			if depth == 0 {
				if stmt := strings.TrimSpace(script[start:i]); stmt != "" {
					stmts = append(stmts, stmt)
				}
				start = i + 1
			}
		}
	}
	if stmt := strings.TrimSpace(script[start:]); stmt != "" {
		stmts = append(stmts, stmt)
	}
	return stmts
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// RunMigrations applies every migration in migrationsList that has not yet
// been recorded in _migrations, inside a single exclusive transaction so
// concurrent processes opening the same database file for the first time
// can't race on schema creation.
func RunMigrations(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS _migrations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			applied_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		)
	`); err != nil {
		return fmt.Errorf("create _migrations table: %w", err)
	}

	if _, err := db.Exec("BEGIN EXCLUSIVE"); err != nil {
		return fmt.Errorf("acquire exclusive lock for migrations: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_, _ = db.Exec("ROLLBACK")
		}
	}()

	for _, m := range migrationsList {
		var alreadyApplied int
		row := db.QueryRow("SELECT 1 FROM _migrations WHERE name = ?", m.Name)
		if err := row.Scan(&alreadyApplied); err == nil {
			continue // idempotent: already applied, skip
		} else if err != sql.ErrNoRows {
			return fmt.Errorf("check migration %s: %w", m.Name, err)
		}

		if err := m.Func(db); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Name, err)
		}
		if _, err := db.Exec("INSERT INTO _migrations (name) VALUES (?)", m.Name); err != nil {
			return fmt.Errorf("record migration %s: %w", m.Name, err)
		}
	}

	if _, err := db.Exec("COMMIT"); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}
	committed = true

	return nil
}

// AppliedMigrations returns the names of every migration recorded as
// applied, in application order. Used by tests asserting migration
// idempotence.
func AppliedMigrations(db *sql.DB) ([]string, error) {
	rows, err := db.Query("SELECT name FROM _migrations ORDER BY id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
