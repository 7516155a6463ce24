// Package cachedbtest provides a shared fixture for tests in other packages
// that need a real, migrated cache database rather than a hand-rolled stub.
package cachedbtest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ultragitlab/ultragitlab/internal/cachedb"
)

// Open opens a fresh cache database in a t.TempDir, closing it automatically
// when the test completes.
func Open(t *testing.T) *cachedb.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := cachedb.Open(context.Background(), filepath.Join(dir, "test.db"), cachedb.Config{})
	if err != nil {
		t.Fatalf("open test cache db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// SeedInstance inserts a minimal instance row so tests can satisfy the
// merge_requests.instance_id foreign key without pulling in the full
// internal/remoteapi sync path.
func SeedInstance(t *testing.T, db *cachedb.DB, id int64, url string) {
	t.Helper()
	_, err := db.SQL().ExecContext(context.Background(), `
		INSERT INTO instances (id, url, name, has_token, authenticated_username, created_at)
		VALUES (?, ?, ?, 1, 'tester', 0)`, id, url, url)
	if err != nil {
		t.Fatalf("seed instance: %v", err)
	}
}

// SeedMergeRequest inserts a minimal merge_requests row so tests can satisfy
// sync_actions.mr_id / comments.mr_id foreign keys.
func SeedMergeRequest(t *testing.T, db *cachedb.DB, id, instanceID int64) {
	t.Helper()
	_, err := db.SQL().ExecContext(context.Background(), `
		INSERT INTO merge_requests
			(id, instance_id, iid, project_id, title, author_username, source_branch, target_branch, state, web_url, created_at, updated_at, cached_at)
		VALUES (?, ?, 1, 1, 'Test MR', 'author', 'feature', 'main', 'opened', 'https://example.test/mr/1', 0, 0, 0)`,
		id, instanceID)
	if err != nil {
		t.Fatalf("seed merge request: %v", err)
	}
}
