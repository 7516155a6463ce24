package actions

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ultragitlab/ultragitlab/internal/apperror"
	"github.com/ultragitlab/ultragitlab/internal/cachedb"
	"github.com/ultragitlab/ultragitlab/internal/cachedb/cachedbtest"
	"github.com/ultragitlab/ultragitlab/internal/cacheread"
	"github.com/ultragitlab/ultragitlab/internal/model"
	"github.com/ultragitlab/ultragitlab/internal/queue"
)

type countingNotifier struct{ triggers int }

func (n *countingNotifier) TriggerSync() { n.triggers++ }

func newTestService(t *testing.T) (*Service, *cachedb.DB, *countingNotifier) {
	t.Helper()
	db := cachedbtest.Open(t)
	cachedbtest.SeedInstance(t, db, 1, "https://gitlab.example.test")
	cachedbtest.SeedMergeRequest(t, db, 42, 1)
	notifier := &countingNotifier{}
	return New(db, notifier), db, notifier
}

func seedDiffRefs(t *testing.T, db *cachedb.DB, mrID int64) {
	t.Helper()
	_, err := db.SQL().ExecContext(context.Background(), `
		INSERT INTO diffs (mr_id, content, base_sha, head_sha, start_sha, cached_at)
		VALUES (?, '', 'base000', 'head000', 'start000', 0)`, mrID)
	if err != nil {
		t.Fatalf("seed diff refs: %v", err)
	}
}

func TestApproveAppliesOptimisticUpdateAndEnqueues(t *testing.T) {
	s, db, notifier := newTestService(t)
	ctx := context.Background()

	_, err := db.SQL().ExecContext(ctx, `
		UPDATE merge_requests SET approvals_count = 1, approvals_required = 2 WHERE id = 42`)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	action, err := s.Approve(ctx, 42)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if action.ActionType != model.ActionApprove || action.Status != model.StatusPending {
		t.Fatalf("unexpected action %+v", action)
	}

	mr, err := cacheread.New(db).GetMergeRequest(ctx, 42)
	if err != nil {
		t.Fatalf("get mr: %v", err)
	}
	if mr.ApprovalsCountOrZero() != 2 || !mr.UserHasApproved || !mr.IsApproved() {
		t.Fatalf("optimistic update missing: %+v", mr)
	}

	var payload model.ApprovalPayload
	if err := json.Unmarshal([]byte(action.Payload), &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.ProjectID != 1 || payload.MRIID != 1 {
		t.Fatalf("payload must carry project/iid, got %+v", payload)
	}

	if notifier.triggers != 1 {
		t.Fatalf("expected one sync trigger, got %d", notifier.triggers)
	}
}

func TestApproveUnknownMRFails(t *testing.T) {
	s, _, _ := newTestService(t)
	if _, err := s.Approve(context.Background(), 999); !apperror.Is(err, apperror.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestCreateCommentGeneralLinksLocalReference(t *testing.T) {
	s, db, _ := newTestService(t)
	ctx := context.Background()

	comment, action, err := s.CreateComment(ctx, model.NewComment{MRID: 42, Body: "nice"}, "me")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if comment.ID >= 0 || !comment.IsLocal {
		t.Fatalf("expected a local negative-id comment, got %+v", comment)
	}
	if action.LocalReferenceID == nil || *action.LocalReferenceID != comment.ID {
		t.Fatalf("action must reference the local comment, got %+v", action)
	}

	// A second sync attempt for the same local comment is rejected while
	// the first is outstanding.
	_, err = s.queue.Enqueue(ctx, queue.EnqueueInput{
		MRID:             42,
		ActionType:       model.ActionComment,
		Payload:          action.Payload,
		LocalReferenceID: &comment.ID,
	})
	if !apperror.Is(err, apperror.Sync) {
		t.Fatalf("expected single-flight rejection, got %v", err)
	}
	_ = db
}

func TestCreateCommentInlineCarriesSHATriple(t *testing.T) {
	s, db, _ := newTestService(t)
	ctx := context.Background()
	seedDiffRefs(t, db, 42)

	filePath := "src/main.go"
	newLine := int64(10)
	_, action, err := s.CreateComment(ctx, model.NewComment{
		MRID: 42, Body: "inline", FilePath: &filePath, NewLine: &newLine,
	}, "me")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var payload model.CommentPayload
	if err := json.Unmarshal([]byte(action.Payload), &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if !payload.HasAllSHAs() {
		t.Fatalf("inline payload must carry all three SHAs, got %+v", payload)
	}
	if *payload.BaseSHA != "base000" || *payload.HeadSHA != "head000" || *payload.StartSHA != "start000" {
		t.Fatalf("SHAs must come from the cached diff, got %+v", payload)
	}
}

func TestCreateCommentInlineWithoutCachedDiffFails(t *testing.T) {
	s, _, _ := newTestService(t)

	filePath := "src/main.go"
	_, _, err := s.CreateComment(context.Background(), model.NewComment{
		MRID: 42, Body: "inline", FilePath: &filePath,
	}, "me")
	if !apperror.Is(err, apperror.NotFound) {
		t.Fatalf("inline comment without a cached diff must be NotFound, got %v", err)
	}
}

func TestCreateCommentEmptyBodyRejected(t *testing.T) {
	s, _, _ := newTestService(t)
	_, _, err := s.CreateComment(context.Background(), model.NewComment{MRID: 42}, "me")
	if !apperror.Is(err, apperror.InvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestResolveMarksThreadAndEnqueues(t *testing.T) {
	s, db, _ := newTestService(t)
	ctx := context.Background()

	_, err := db.SQL().ExecContext(ctx, `
		INSERT INTO comments (id, mr_id, discussion_id, author_username, body, resolvable, created_at, updated_at, cached_at)
		VALUES (100, 42, 'disc-1', 'alice', 'question', 1, 0, 0, 0)`)
	if err != nil {
		t.Fatalf("seed comment: %v", err)
	}

	action, err := s.Resolve(ctx, 42, "disc-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if action.ActionType != model.ActionResolve {
		t.Fatalf("expected resolve action, got %s", action.ActionType)
	}

	comments, err := cacheread.New(db).ListComments(ctx, 42)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !comments[0].Resolved {
		t.Fatal("thread must be optimistically resolved")
	}

	// Unresolve flips it back and queues the inverse.
	action, err = s.Unresolve(ctx, 42, "disc-1")
	if err != nil {
		t.Fatalf("unresolve: %v", err)
	}
	if action.ActionType != model.ActionUnresolve {
		t.Fatalf("expected unresolve action, got %s", action.ActionType)
	}
	comments, _ = cacheread.New(db).ListComments(ctx, 42)
	if comments[0].Resolved {
		t.Fatal("thread must be optimistically unresolved")
	}
}

func TestReplyRequiresDiscussion(t *testing.T) {
	s, _, _ := newTestService(t)
	_, _, err := s.Reply(context.Background(), 42, "", "body", "me")
	if !apperror.Is(err, apperror.InvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}
