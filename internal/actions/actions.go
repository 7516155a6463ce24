// Package actions implements the user-facing write path: every mutation
// (approve, unapprove, comment, reply, resolve, unresolve) applies its
// optimistic cache update and enqueues the matching sync action in a
// single transaction, so the UI sees the change immediately, the engine
// delivers it upstream on the next drain, and a failure leaves neither
// half behind. The queue entry carries the full payload (project id, iid,
// body, SHAs) rather than a join key, so it stays deliverable or at least
// classifiable even after its MR row has been purged.
package actions

import (
	"context"
	"encoding/json"

	"github.com/ultragitlab/ultragitlab/internal/apperror"
	"github.com/ultragitlab/ultragitlab/internal/cachedb"
	"github.com/ultragitlab/ultragitlab/internal/cacheread"
	"github.com/ultragitlab/ultragitlab/internal/cachewrite"
	"github.com/ultragitlab/ultragitlab/internal/model"
	"github.com/ultragitlab/ultragitlab/internal/queue"
)

// Notifier is the hook a write fires after committing, so the sync engine
// can flush the queue without the caller waiting on the round-trip. The
// engine's TriggerSync satisfies it.
type Notifier interface {
	TriggerSync()
}

// noopNotifier lets tests and one-shot CLI commands run without an engine.
type noopNotifier struct{}

func (noopNotifier) TriggerSync() {}

// Service bundles the cache accessors a write needs.
type Service struct {
	db       *cachedb.DB
	reader   *cacheread.Reader
	writer   *cachewrite.Writer
	queue    *queue.Queue
	notifier Notifier
}

// New wires a Service against db. notifier may be nil for callers with no
// running sync engine (one-shot CLI commands).
func New(db *cachedb.DB, notifier Notifier) *Service {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Service{
		db:       db,
		reader:   cacheread.New(db),
		writer:   cachewrite.New(db),
		queue:    queue.New(db),
		notifier: notifier,
	}
}

func marshalPayload(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", apperror.NewInternal("marshal action payload: " + err.Error())
	}
	return string(b), nil
}

// Approve bumps the cached approval counters and queues an approve action.
func (s *Service) Approve(ctx context.Context, mrID int64) (*model.SyncAction, error) {
	return s.approval(ctx, mrID, false)
}

// Unapprove reverses a cached approval and queues an unapprove action.
func (s *Service) Unapprove(ctx context.Context, mrID int64) (*model.SyncAction, error) {
	return s.approval(ctx, mrID, true)
}

func (s *Service) approval(ctx context.Context, mrID int64, unapprove bool) (*model.SyncAction, error) {
	mr, err := s.reader.GetMergeRequest(ctx, mrID)
	if err != nil {
		return nil, err
	}

	payload, err := marshalPayload(model.ApprovalPayload{ProjectID: mr.ProjectID, MRIID: mr.IID})
	if err != nil {
		return nil, err
	}

	actionType := model.ActionApprove
	if unapprove {
		actionType = model.ActionUnapprove
	}

	var action *model.SyncAction
	err = s.db.RunInTransaction(ctx, func(tx cachedb.Querier) error {
		if err := s.writer.ApplyApprovalOptimisticTx(ctx, tx, mrID, unapprove); err != nil {
			return err
		}
		action, err = s.queue.EnqueueTx(ctx, tx, queue.EnqueueInput{
			MRID:       mrID,
			ActionType: actionType,
			Payload:    payload,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notifier.TriggerSync()
	return action, nil
}

// CreateComment inserts a local comment (general or inline) and queues its
// delivery, both in one transaction. For inline comments the (base, head,
// start) SHA triple is read from the cached diff; a missing diff surfaces
// as NotFound here rather than a doomed queue entry.
func (s *Service) CreateComment(ctx context.Context, in model.NewComment, authorUsername string) (*model.Comment, *model.SyncAction, error) {
	mr, err := s.reader.GetMergeRequest(ctx, in.MRID)
	if err != nil {
		return nil, nil, err
	}
	if in.Body == "" {
		return nil, nil, apperror.NewInvalidInputField("comment body must not be empty", "body")
	}

	payload := model.CommentPayload{
		ProjectID: mr.ProjectID,
		MRIID:     mr.IID,
		Body:      in.Body,
		FilePath:  in.FilePath,
		OldLine:   in.OldLine,
		NewLine:   in.NewLine,
	}
	if in.FilePath != nil {
		refs, err := s.reader.GetDiffRefs(ctx, in.MRID)
		if err != nil {
			return nil, nil, err
		}
		payload.BaseSHA = &refs.BaseSHA
		payload.HeadSHA = &refs.HeadSHA
		payload.StartSHA = &refs.StartSHA
	}

	payloadJSON, err := marshalPayload(payload)
	if err != nil {
		return nil, nil, err
	}

	var (
		comment *model.Comment
		action  *model.SyncAction
	)
	err = s.db.RunInTransaction(ctx, func(tx cachedb.Querier) error {
		comment, err = s.writer.CreateLocalCommentTx(ctx, tx, in, authorUsername)
		if err != nil {
			return err
		}
		action, err = s.queue.EnqueueTx(ctx, tx, queue.EnqueueInput{
			MRID:             in.MRID,
			ActionType:       model.ActionComment,
			Payload:          payloadJSON,
			LocalReferenceID: &comment.ID,
		})
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.notifier.TriggerSync()
	return comment, action, nil
}

// Reply inserts a local reply on a discussion thread and queues it.
func (s *Service) Reply(ctx context.Context, mrID int64, discussionID, body, authorUsername string) (*model.Comment, *model.SyncAction, error) {
	mr, err := s.reader.GetMergeRequest(ctx, mrID)
	if err != nil {
		return nil, nil, err
	}
	if body == "" {
		return nil, nil, apperror.NewInvalidInputField("reply body must not be empty", "body")
	}
	if discussionID == "" {
		return nil, nil, apperror.NewInvalidInputField("discussion id must not be empty", "discussionId")
	}

	payloadJSON, err := marshalPayload(model.ReplyPayload{
		ProjectID:    mr.ProjectID,
		MRIID:        mr.IID,
		DiscussionID: discussionID,
		Body:         body,
	})
	if err != nil {
		return nil, nil, err
	}

	var (
		comment *model.Comment
		action  *model.SyncAction
	)
	err = s.db.RunInTransaction(ctx, func(tx cachedb.Querier) error {
		comment, err = s.writer.CreateLocalReplyTx(ctx, tx, mrID, discussionID, body, authorUsername)
		if err != nil {
			return err
		}
		action, err = s.queue.EnqueueTx(ctx, tx, queue.EnqueueInput{
			MRID:             mrID,
			ActionType:       model.ActionReply,
			Payload:          payloadJSON,
			LocalReferenceID: &comment.ID,
		})
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.notifier.TriggerSync()
	return comment, action, nil
}

// Resolve marks a discussion resolved locally and queues the upstream
// resolve.
func (s *Service) Resolve(ctx context.Context, mrID int64, discussionID string) (*model.SyncAction, error) {
	return s.resolve(ctx, mrID, discussionID, true)
}

// Unresolve reopens a discussion locally and queues the upstream unresolve.
func (s *Service) Unresolve(ctx context.Context, mrID int64, discussionID string) (*model.SyncAction, error) {
	return s.resolve(ctx, mrID, discussionID, false)
}

func (s *Service) resolve(ctx context.Context, mrID int64, discussionID string, resolved bool) (*model.SyncAction, error) {
	mr, err := s.reader.GetMergeRequest(ctx, mrID)
	if err != nil {
		return nil, err
	}
	if discussionID == "" {
		return nil, apperror.NewInvalidInputField("discussion id must not be empty", "discussionId")
	}

	payloadJSON, err := marshalPayload(model.ResolvePayload{
		ProjectID:    mr.ProjectID,
		MRIID:        mr.IID,
		DiscussionID: discussionID,
	})
	if err != nil {
		return nil, err
	}

	actionType := model.ActionResolve
	if !resolved {
		actionType = model.ActionUnresolve
	}

	var action *model.SyncAction
	err = s.db.RunInTransaction(ctx, func(tx cachedb.Querier) error {
		if err := s.writer.SetDiscussionResolvedTx(ctx, tx, mrID, discussionID, resolved); err != nil {
			return err
		}
		action, err = s.queue.EnqueueTx(ctx, tx, queue.EnqueueInput{
			MRID:       mrID,
			ActionType: actionType,
			Payload:    payloadJSON,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notifier.TriggerSync()
	return action, nil
}

// RetryFailed resets one terminally-failed action to pending and nudges the
// engine.
func (s *Service) RetryFailed(ctx context.Context, actionID int64) error {
	if err := s.queue.Retry(ctx, actionID); err != nil {
		return err
	}
	s.notifier.TriggerSync()
	return nil
}

// DiscardAction permanently abandons an action on the user's behalf.
func (s *Service) DiscardAction(ctx context.Context, actionID int64) error {
	return s.queue.MarkDiscarded(ctx, actionID, "discarded by user")
}
