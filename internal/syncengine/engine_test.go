package syncengine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ultragitlab/ultragitlab/internal/apperror"
	"github.com/ultragitlab/ultragitlab/internal/cachedb"
	"github.com/ultragitlab/ultragitlab/internal/cachedb/cachedbtest"
	"github.com/ultragitlab/ultragitlab/internal/cacheread"
	"github.com/ultragitlab/ultragitlab/internal/credential"
	"github.com/ultragitlab/ultragitlab/internal/eventbus"
	"github.com/ultragitlab/ultragitlab/internal/model"
	"github.com/ultragitlab/ultragitlab/internal/queue"
)

// memCreds is an in-memory credential.Store for tests.
type memCreds struct {
	mu      sync.Mutex
	entries map[string]string
}

func newMemCreds() *memCreds { return &memCreds{entries: make(map[string]string)} }

func (m *memCreds) Get(_ context.Context, service, account string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	secret, ok := m.entries[service+"/"+account]
	if !ok {
		return "", apperror.NewNotFoundWithID("Credential", account)
	}
	return secret, nil
}

func (m *memCreds) Set(_ context.Context, service, account, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[service+"/"+account] = secret
	return nil
}

func (m *memCreds) Delete(_ context.Context, service, account string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, service+"/"+account)
	return nil
}

// upstream is a scriptable fake of the remote service covering the
// endpoints one tick touches.
type upstream struct {
	mu      sync.Mutex
	openMRs []map[string]any
	authOK  bool
}

func (u *upstream) setOpenMRs(mrs []map[string]any) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.openMRs = mrs
}

func (u *upstream) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		defer u.mu.Unlock()

		writeAny := func(v any) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(v)
		}

		switch {
		case r.URL.Path == "/api/v4/user":
			if !u.authOK {
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"message":"401 Unauthorized"}`))
				return
			}
			writeAny(map[string]any{"id": 1, "username": "tester", "name": "Tester"})
		case r.URL.Path == "/api/v4/merge_requests":
			writeAny(u.openMRs)
		case r.URL.Path == "/api/v4/projects/7":
			writeAny(map[string]any{"id": 7, "name": "proj", "path_with_namespace": "group/proj"})
		case r.URL.Path == "/api/v4/projects/7/merge_requests/3/approvals":
			writeAny(map[string]any{
				"approved": false, "approvals_required": 2, "approvals_left": 2,
				"approved_by": []any{},
			})
		case r.URL.Path == "/api/v4/projects/7/merge_requests/3/versions":
			writeAny([]map[string]any{{
				"id": 900, "head_commit_sha": "head1", "base_commit_sha": "base1", "start_commit_sha": "start1",
			}})
		case r.URL.Path == "/api/v4/projects/7/merge_requests/3/versions/900":
			writeAny(map[string]any{
				"id": 900, "head_commit_sha": "head1", "base_commit_sha": "base1", "start_commit_sha": "start1",
				"diffs": []map[string]any{{
					"old_path": "main.go", "new_path": "main.go",
					"new_file": false, "renamed_file": false, "deleted_file": false,
					"diff": "@@ -1,1 +1,2 @@\n a\n+b\n",
				}},
			})
		case r.URL.Path == "/api/v4/projects/7/merge_requests/3/discussions":
			writeAny([]map[string]any{{
				"id": "disc-1",
				"notes": []map[string]any{{
					"id": 501, "body": "first pass done", "system": false, "resolvable": true,
					"author":     map[string]any{"id": 2, "username": "alice"},
					"created_at": "2024-05-01T10:00:00Z", "updated_at": "2024-05-01T10:00:00Z",
				}},
			}})
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"message":"404 Not Found"}`))
		}
	}
}

func wireMR(id int64) map[string]any {
	return map[string]any{
		"id": id, "iid": 3, "project_id": 7,
		"title": "Add thing", "description": "does a thing", "state": "opened",
		"web_url":       "https://git.example/mr/3",
		"source_branch": "feature", "target_branch": "main",
		"created_at": "2024-05-01T09:00:00Z", "updated_at": "2024-05-01T09:30:00Z",
		"author": map[string]any{"id": 1, "username": "tester"},
		"labels": []string{"backend"}, "reviewers": []any{},
	}
}

func newTestEngine(t *testing.T, up *upstream) (*Engine, *cachedb.DB, *eventbus.Bus) {
	t.Helper()
	srv := httptest.NewServer(up.handler())
	t.Cleanup(srv.Close)

	db := cachedbtest.Open(t)
	cachedbtest.SeedInstance(t, db, 1, srv.URL)

	creds := newMemCreds()
	if err := creds.Set(context.Background(), credential.ServiceName, credential.Normalize(srv.URL), "tok"); err != nil {
		t.Fatalf("seed creds: %v", err)
	}

	bus := eventbus.New()
	engine := New(db, bus, creds, Config{SyncAuthored: true, SyncReviewing: false})
	return engine, db, bus
}

func TestTickCachesMRDiffAndComments(t *testing.T) {
	up := &upstream{authOK: true}
	up.setOpenMRs([]map[string]any{wireMR(1001)})
	engine, db, _ := newTestEngine(t, up)
	ctx := context.Background()

	engine.RunOnce(ctx)

	status := engine.Status()
	if status.LastError != nil {
		t.Fatalf("tick failed: %s", *status.LastError)
	}
	if status.LastSyncMRCount != 1 {
		t.Fatalf("expected 1 MR synced, got %d", status.LastSyncMRCount)
	}

	reader := cacheread.New(db)
	mr, err := reader.GetMergeRequest(ctx, 1001)
	if err != nil {
		t.Fatalf("mr not cached: %v", err)
	}
	if mr.ProjectName != "group/proj" || mr.Title != "Add thing" {
		t.Fatalf("unexpected cached MR %+v", mr)
	}
	if mr.ApprovalsRequired == nil || *mr.ApprovalsRequired != 2 {
		t.Fatalf("approvals not applied: %+v", mr)
	}

	diff, err := reader.GetDiff(ctx, 1001)
	if err != nil {
		t.Fatalf("diff not cached: %v", err)
	}
	if diff.HeadSHA != "head1" || diff.Additions != 1 {
		t.Fatalf("unexpected diff %+v", diff)
	}

	comments, err := reader.ListComments(ctx, 1001)
	if err != nil || len(comments) != 1 {
		t.Fatalf("expected 1 cached comment, got %v (%v)", comments, err)
	}
	if comments[0].AuthorUsername != "alice" {
		t.Fatalf("unexpected comment %+v", comments[0])
	}

	// A sync_complete log entry was appended.
	logs, err := reader.ListSyncLog(ctx, 10)
	if err != nil || len(logs) == 0 {
		t.Fatalf("expected a sync log entry, got %v (%v)", logs, err)
	}
	if logs[0].Operation != "sync_complete" {
		t.Fatalf("unexpected log operation %q", logs[0].Operation)
	}
}

func TestTickPurgesClosedMRsButKeepsPendingWork(t *testing.T) {
	up := &upstream{authOK: true}
	up.setOpenMRs([]map[string]any{wireMR(1001), wireMR(1002)})
	engine, db, bus := newTestEngine(t, up)
	ctx := context.Background()

	engine.RunOnce(ctx)

	// MR 1002 gets a pending local action; then upstream's open set drops
	// both MRs.
	q := queue.New(db)
	if _, err := q.Enqueue(ctx, queue.EnqueueInput{
		MRID:       1002,
		ActionType: model.ActionApprove,
		Payload:    `{"projectId":7,"mrIid":3}`,
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	up.setOpenMRs(nil)

	sub, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	engine.RunOnce(ctx)

	reader := cacheread.New(db)
	// MR 1001 is gone...
	if _, err := reader.GetMergeRequest(ctx, 1001); !apperror.Is(err, apperror.NotFound) {
		t.Fatalf("MR 1001 must be purged, got %v", err)
	}
	// ...but MR 1002 survives: it has in-flight local work.
	if _, err := reader.GetMergeRequest(ctx, 1002); err != nil {
		t.Fatalf("MR 1002 with pending work must survive the purge: %v", err)
	}

	var sawPurge bool
	for drained := false; !drained; {
		select {
		case ev := <-sub:
			if ev.Kind == eventbus.KindMRUpdated && ev.MRUpdated.UpdateType == eventbus.MRPurged && ev.MRUpdated.MRID == 1001 {
				sawPurge = true
			}
		default:
			drained = true
		}
	}
	if !sawPurge {
		t.Fatal("expected an mr-updated{purged} event for MR 1001")
	}
}

func TestTickAuthExpiredLeavesQueueUntouched(t *testing.T) {
	up := &upstream{authOK: true}
	up.setOpenMRs([]map[string]any{wireMR(1001)})
	engine, db, bus := newTestEngine(t, up)
	ctx := context.Background()

	engine.RunOnce(ctx)

	q := queue.New(db)
	a, err := q.Enqueue(ctx, queue.EnqueueInput{
		MRID:       1001,
		ActionType: model.ActionApprove,
		Payload:    `{"projectId":7,"mrIid":3}`,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// The token is revoked upstream; the next tick must surface
	// auth-expired and leave the queue entry pending.
	up.mu.Lock()
	up.authOK = false
	up.mu.Unlock()

	sub, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	engine.RunOnce(ctx)

	var sawAuthExpired bool
	for drained := false; !drained; {
		select {
		case ev := <-sub:
			if ev.Kind == eventbus.KindAuthExpired {
				sawAuthExpired = true
			}
		default:
			drained = true
		}
	}
	if !sawAuthExpired {
		t.Fatal("expected an auth-expired event")
	}

	actions, err := q.GetForMR(ctx, 1001)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if len(actions) != 1 || actions[0].ID != a.ID || actions[0].Status != model.StatusPending {
		t.Fatalf("401 must not transition queue entries, got %+v", actions)
	}
	if actions[0].RetryCount != 0 {
		t.Fatalf("401 must not burn retry budget, got %d", actions[0].RetryCount)
	}
}

func TestTriggerSyncCoalesces(t *testing.T) {
	engine := New(cachedbtest.Open(t), eventbus.New(), newMemCreds(), Config{})

	// Many triggers while nothing is draining collapse into one queued
	// tick: the channel has capacity 1 and extra sends are dropped.
	for i := 0; i < 10; i++ {
		engine.TriggerSync()
	}
	if len(engine.trigger) != 1 {
		t.Fatalf("expected exactly 1 coalesced trigger, got %d", len(engine.trigger))
	}
}
