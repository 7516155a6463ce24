// Package syncproc implements the sync processor: it drains pending
// SyncAction rows, dispatches each to the remote API client by action type,
// and classifies the outcome into synced / re-queued / discarded using
// internal/remoteapi's error taxonomy. It never decides *when* to run —
// internal/syncengine owns the tick loop and calls ProcessPending once per
// instance per tick.
package syncproc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ultragitlab/ultragitlab/internal/apperror"
	"github.com/ultragitlab/ultragitlab/internal/applog"
	"github.com/ultragitlab/ultragitlab/internal/eventbus"
	"github.com/ultragitlab/ultragitlab/internal/model"
	"github.com/ultragitlab/ultragitlab/internal/queue"
	"github.com/ultragitlab/ultragitlab/internal/remoteapi"
)

// Processor executes queued actions for a single instance against its
// remote API client. One Processor is created per instance (each has its
// own token-bound *remoteapi.Client); the engine owns the per-instance
// fan-out.
type Processor struct {
	client *remoteapi.Client
	queue  *queue.Queue
	bus    *eventbus.Bus
}

// New returns a Processor wired to client (already configured with the
// owning instance's token), the shared queue accessor, and the event bus.
func New(client *remoteapi.Client, q *queue.Queue, bus *eventbus.Bus) *Processor {
	return &Processor{client: client, queue: q, bus: bus}
}

// Result summarizes one ProcessPending run, used by the engine to fold into
// its per-tick status record.
type Result struct {
	Synced    int
	Discarded int
	Failed    int // includes both retry-eligible and terminal failures
}

// ProcessPending drains every pending action for this instance in FIFO
// order. A failure on one action is isolated — it is counted in the
// returned Result (a delivery failure is also recorded on the row's
// last_error, a bookkeeping failure is logged), but does not abort the
// drain of the actions behind it.
func (p *Processor) ProcessPending(ctx context.Context) (Result, error) {
	actions, err := p.queue.GetPending(ctx)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, a := range actions {
		outcome, err := p.processOne(ctx, a)
		if err != nil {
			// A bookkeeping failure (DB error marking the row) is distinct
			// from an upstream delivery failure, which processOne already
			// folded into outcome. Surface it but keep draining.
			applog.Warn("syncproc: action %d: %v", a.ID, err)
			res.Failed++
			continue
		}
		switch outcome {
		case outcomeSynced:
			res.Synced++
		case outcomeDiscarded:
			res.Discarded++
		case outcomeFailed:
			res.Failed++
		}
	}
	return res, nil
}

type outcome int

const (
	outcomeSynced outcome = iota
	outcomeDiscarded
	outcomeFailed
)

// processOne executes a single action end to end: mark syncing, dispatch,
// classify, and record the terminal (or retry) transition.
func (p *Processor) processOne(ctx context.Context, a *model.SyncAction) (outcome, error) {
	if err := p.queue.MarkSyncing(ctx, a.ID); err != nil {
		return outcomeFailed, err
	}

	deliverErr := p.dispatch(ctx, a)
	if deliverErr == nil {
		if err := p.queue.MarkSynced(ctx, a.ID); err != nil {
			return outcomeFailed, err
		}
		p.publishSynced(a, true, nil)
		return outcomeSynced, nil
	}

	if reason, discardable := remoteapi.IsDiscardable(deliverErr); discardable {
		if err := p.queue.MarkDiscarded(ctx, a.ID, reason); err != nil {
			return outcomeFailed, err
		}
		p.publishSynced(a, false, &reason)
		return outcomeDiscarded, nil
	}

	msg := deliverErr.Error()
	newStatus, err := p.queue.MarkFailed(ctx, a.ID, msg)
	if err != nil {
		return outcomeFailed, err
	}
	if newStatus == model.StatusFailed {
		// Terminal: the retry budget is exhausted, so this is as
		// significant to the UI as a discard.
		p.publishSynced(a, false, &msg)
	}
	return outcomeFailed, nil
}

func (p *Processor) publishSynced(a *model.SyncAction, success bool, errMsg *string) {
	p.bus.PublishActionSynced(eventbus.ActionSynced{
		ActionID:         a.ID,
		ActionType:       string(a.ActionType),
		Success:          success,
		Error:            errMsg,
		MRID:             a.MRID,
		LocalReferenceID: a.LocalReferenceID,
	})
}

// dispatch routes a single action to the remote API by action_type.
func (p *Processor) dispatch(ctx context.Context, a *model.SyncAction) error {
	switch a.ActionType {
	case model.ActionApprove:
		return p.dispatchApprove(ctx, a, false)
	case model.ActionUnapprove:
		return p.dispatchApprove(ctx, a, true)
	case model.ActionComment:
		return p.dispatchComment(ctx, a)
	case model.ActionReply:
		return p.dispatchReply(ctx, a)
	case model.ActionResolve:
		return p.dispatchResolve(ctx, a, true)
	case model.ActionUnresolve:
		return p.dispatchResolve(ctx, a, false)
	default:
		return apperror.NewInvalidInputField(fmt.Sprintf("unknown action type %q", a.ActionType), "action_type")
	}
}

func unmarshalPayload[T any](payload string) (*T, error) {
	var v T
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return nil, apperror.NewInvalidInputField("malformed action payload: "+err.Error(), "payload")
	}
	return &v, nil
}

func (p *Processor) dispatchApprove(ctx context.Context, a *model.SyncAction, unapprove bool) error {
	payload, err := unmarshalPayload[model.ApprovalPayload](a.Payload)
	if err != nil {
		return err
	}
	if unapprove {
		return p.client.UnapproveMergeRequest(ctx, payload.ProjectID, payload.MRIID)
	}
	return p.client.ApproveMergeRequest(ctx, payload.ProjectID, payload.MRIID)
}

// dispatchComment delivers a comment: an inline comment (file_path set)
// requires all three SHAs; anything else is a general comment. A local
// cause (missing SHA) surfaces as InvalidInput and is handled like any
// other processor error — the discard/retry classification in
// remoteapi.IsDiscardable only matches GitLabAPI/NotFound kinds, so the
// action goes through MarkFailed (re-queued as `pending` until
// model.MaxRetries, then `failed`) and is never `discarded`: the defect is
// local, not a stale MR.
func (p *Processor) dispatchComment(ctx context.Context, a *model.SyncAction) error {
	payload, err := unmarshalPayload[model.CommentPayload](a.Payload)
	if err != nil {
		return err
	}
	if !payload.IsInline() {
		return p.client.AddComment(ctx, payload.ProjectID, payload.MRIID, payload.Body)
	}
	if !payload.HasAllSHAs() {
		return apperror.NewInvalidInput("inline comment requires base_sha, head_sha, and start_sha")
	}
	return p.client.AddInlineComment(ctx, payload.ProjectID, payload.MRIID, payload.Body,
		*payload.FilePath, payload.OldLine, payload.NewLine, *payload.BaseSHA, *payload.HeadSHA, *payload.StartSHA)
}

func (p *Processor) dispatchReply(ctx context.Context, a *model.SyncAction) error {
	payload, err := unmarshalPayload[model.ReplyPayload](a.Payload)
	if err != nil {
		return err
	}
	return p.client.ReplyToDiscussion(ctx, payload.ProjectID, payload.MRIID, payload.DiscussionID, payload.Body)
}

func (p *Processor) dispatchResolve(ctx context.Context, a *model.SyncAction, resolved bool) error {
	payload, err := unmarshalPayload[model.ResolvePayload](a.Payload)
	if err != nil {
		return err
	}
	return p.client.ResolveDiscussion(ctx, payload.ProjectID, payload.MRIID, payload.DiscussionID, resolved)
}
