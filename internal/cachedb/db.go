// Package cachedb owns the embedded SQLite cache: opening the database
// file with WAL and foreign keys enabled, running migrations, and exposing
// a bounded connection pool. It never encodes domain queries itself — those
// live in internal/queue, internal/cacheread, and internal/cachewrite, all
// of which take a *DB.
package cachedb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB wraps a *sql.DB with a bounded worker semaphore. Go's database/sql
// already pools connections; Acquire/Release additionally cap how many
// goroutines may be mid-query at once so a burst of companion-API requests
// can't starve the sync engine's own queries.
type DB struct {
	sql  *sql.DB
	sem  chan struct{}
	lock *flock.Flock
	path string
}

// Config controls pool sizing; the zero value yields the defaults.
type Config struct {
	MaxOpenConns   int           // default 5
	MaxIdleConns   int           // default 1
	AcquireTimeout time.Duration // default 10s
	BusyTimeout    time.Duration // default 30s
}

func (c Config) withDefaults() Config {
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 5
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 1
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 10 * time.Second
	}
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = 30 * time.Second
	}
	return c
}

// Open creates the parent directory if needed, opens path in WAL mode with
// foreign keys enforced, runs all pending migrations under a cross-process
// flock, and returns a ready-to-use *DB.
func Open(ctx context.Context, path string, cfg Config) (*DB, error) {
	cfg = cfg.withDefaults()

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("acquire cache lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("cache file %s is locked by another process", path)
	}
	defer lock.Unlock()

	sqlDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()),
	}
	for _, p := range pragmas {
		if _, err := sqlDB.ExecContext(ctx, p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)

	if err := RunMigrations(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &DB{
		sql:  sqlDB,
		sem:  make(chan struct{}, cfg.MaxOpenConns),
		lock: flock.New(path + ".lock"),
		path: path,
	}, nil
}

// SQL returns the underlying *sql.DB for callers that need raw access
// (transactions, prepared statements) beyond the Acquire/Release guard.
func (d *DB) SQL() *sql.DB { return d.sql }

// Close releases the connection pool.
func (d *DB) Close() error { return d.sql.Close() }

// Acquire blocks (respecting ctx) until a worker slot is free, bounding how
// many goroutines may have an in-flight query at once.
func (d *DB) Acquire(ctx context.Context) (release func(), err error) {
	select {
	case d.sem <- struct{}{}:
		return func() { <-d.sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Querier is the subset of *sql.Conn (and *sql.DB) that query code needs.
// RunInTransaction passes callers a *sql.Conn satisfying this interface;
// outside a transaction, *DB.SQL() satisfies it too for read-only queries.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// RunInTransaction runs fn inside a BEGIN IMMEDIATE transaction on a single
// reserved connection, committing on success and rolling back on error or
// panic. IMMEDIATE acquires the write lock up front instead of on first
// write, avoiding the classic SQLITE_BUSY upgrade race between two readers
// that both later try to write. database/sql has no native IMMEDIATE option,
// so the transaction is issued and held manually on one *sql.Conn rather
// than via sql.DB.BeginTx; fn receives that conn directly and must not start
// a nested transaction of its own.
func (d *DB) RunInTransaction(ctx context.Context, fn func(tx Querier) error) error {
	release, err := d.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	conn, err := d.sql.Conn(ctx)
	if err != nil {
		return fmt.Errorf("reserve connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("begin immediate: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(ctx, "ROLLBACK")
		}
	}()

	if err := fn(conn); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}
