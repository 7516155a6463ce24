package filecache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ultragitlab/ultragitlab/internal/cachedb"
	"github.com/ultragitlab/ultragitlab/internal/cachedb/cachedbtest"
	"github.com/ultragitlab/ultragitlab/internal/remoteapi"
)

func newFixture(t *testing.T, handler http.HandlerFunc) (*Cache, *remoteapi.Client, *cachedb.DB) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	db := cachedbtest.Open(t)
	cachedbtest.SeedInstance(t, db, 1, srv.URL)
	cachedbtest.SeedMergeRequest(t, db, 42, 1)
	_, err := db.SQL().ExecContext(context.Background(), `
		INSERT INTO diffs (mr_id, content, base_sha, head_sha, start_sha, cached_at)
		VALUES (42, '', 'base000', 'head000', 'start000', 0)`)
	if err != nil {
		t.Fatalf("seed diff: %v", err)
	}

	client := remoteapi.New(remoteapi.Config{BaseURL: srv.URL, Token: "tok"})
	return New(db), client, db
}

func TestGetFileContentFetchesOnceThenServesFromCache(t *testing.T) {
	fetches := 0
	c, client, _ := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		fetches++
		if got := r.URL.Query().Get("ref"); got != "head000" {
			t.Errorf("expected ref=head000, got %q", got)
		}
		w.Write([]byte("package main"))
	})
	ctx := context.Background()

	content, err := c.GetFileContent(ctx, client, 42, "main.go", Head)
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	if string(content) != "package main" {
		t.Fatalf("unexpected content %q", content)
	}

	// The second read is a pure cache hit.
	content, err = c.GetFileContent(ctx, client, 42, "main.go", Head)
	if err != nil {
		t.Fatalf("second read: %v", err)
	}
	if string(content) != "package main" {
		t.Fatalf("unexpected cached content %q", content)
	}
	if fetches != 1 {
		t.Fatalf("expected exactly 1 upstream fetch, got %d", fetches)
	}
}

func TestGetFileContentBaseUsesBaseRef(t *testing.T) {
	c, client, _ := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("ref"); got != "base000" {
			t.Errorf("expected ref=base000, got %q", got)
		}
		w.Write([]byte("old contents"))
	})

	content, err := c.GetFileContent(context.Background(), client, 42, "main.go", Base)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(content) != "old contents" {
		t.Fatalf("unexpected content %q", content)
	}
}

func TestGetFileContentAbsentFileIsEmptyNotError(t *testing.T) {
	c, client, _ := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	content, err := c.GetFileContent(context.Background(), client, 42, "added.go", Base)
	if err != nil {
		t.Fatalf("a file absent at the ref must not error: %v", err)
	}
	if len(content) != 0 {
		t.Fatalf("expected empty content, got %q", content)
	}
}

func TestGetFileContentRejectsUnknownVersion(t *testing.T) {
	c, client, _ := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})
	if _, err := c.GetFileContent(context.Background(), client, 42, "main.go", Version("middle")); err == nil {
		t.Fatal("unknown version must be rejected")
	}
}
