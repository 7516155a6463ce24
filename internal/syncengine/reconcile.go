package syncengine

import (
	"context"
	"strings"

	"github.com/ultragitlab/ultragitlab/internal/applog"
	"github.com/ultragitlab/ultragitlab/internal/cacheread"
	"github.com/ultragitlab/ultragitlab/internal/eventbus"
	"github.com/ultragitlab/ultragitlab/internal/model"
	"github.com/ultragitlab/ultragitlab/internal/remoteapi"
)

// reconcileMergeRequest upserts one fetched MR and its diff/comments.
// Per-MR failures are isolated: the caller logs and continues rather than
// aborting the rest of the tick.
func (e *Engine) reconcileMergeRequest(ctx context.Context, client *remoteapi.Client, inst *model.Instance, wireMR remoteapi.MergeRequest, projectNames map[int64]string) error {
	mr := mapMergeRequest(inst.ID, wireMR)
	mr.ProjectName = e.projectName(ctx, client, wireMR.ProjectID, projectNames)

	if approvals, err := client.GetMergeRequestApprovals(ctx, wireMR.ProjectID, wireMR.IID); err != nil {
		applog.Warn("syncengine: get approvals for mr %d: %v", wireMR.ID, err)
	} else {
		applyApprovals(mr, approvals, inst.AuthenticatedUsername)
	}

	if err := e.writer.UpsertMergeRequest(ctx, mr); err != nil {
		return err
	}
	e.bus.PublishMRUpdated(eventbus.MRUpdated{
		MRID: mr.ID, UpdateType: eventbus.MRFieldsUpdated, InstanceID: inst.ID, IID: mr.IID,
	})

	e.bus.PublishSyncProgress(eventbus.SyncProgress{Phase: eventbus.PhaseFetchingDiff, Message: "fetching diff"})
	if err := e.reconcileDiff(ctx, client, mr); err != nil {
		applog.Warn("syncengine: reconcile diff for mr %d: %v", mr.ID, err)
	} else {
		e.bus.PublishMRUpdated(eventbus.MRUpdated{
			MRID: mr.ID, UpdateType: eventbus.MRDiffUpdated, InstanceID: inst.ID, IID: mr.IID,
		})
	}

	e.bus.PublishSyncProgress(eventbus.SyncProgress{Phase: eventbus.PhaseFetchingComments, Message: "fetching comments"})
	if err := e.reconcileComments(ctx, client, mr); err != nil {
		applog.Warn("syncengine: reconcile comments for mr %d: %v", mr.ID, err)
	} else {
		e.bus.PublishMRUpdated(eventbus.MRUpdated{
			MRID: mr.ID, UpdateType: eventbus.MRCommentsUpdated, InstanceID: inst.ID, IID: mr.IID,
		})
	}

	return nil
}

// projectName resolves and caches a project's namespaced path for the
// duration of one tick, avoiding a GetProject round-trip per MR sharing a
// project.
func (e *Engine) projectName(ctx context.Context, client *remoteapi.Client, projectID int64, cache map[int64]string) string {
	if name, ok := cache[projectID]; ok {
		return name
	}
	project, err := client.GetProject(ctx, projectID)
	if err != nil {
		applog.Warn("syncengine: get project %d: %v", projectID, err)
		return ""
	}
	cache[projectID] = project.PathWithNamespace
	return project.PathWithNamespace
}

// mapMergeRequest projects the upstream wire shape onto the cached model.
func mapMergeRequest(instanceID int64, wire remoteapi.MergeRequest) *model.MergeRequest {
	reviewers := make([]string, 0, len(wire.Reviewers))
	for _, u := range wire.Reviewers {
		reviewers = append(reviewers, u.Username)
	}
	var pipelineStatus *string
	if wire.HeadPipeline != nil {
		pipelineStatus = &wire.HeadPipeline.Status
	}

	return &model.MergeRequest{
		ID:             wire.ID,
		InstanceID:     instanceID,
		IID:            wire.IID,
		ProjectID:      wire.ProjectID,
		Title:          wire.Title,
		Description:    wire.Description,
		AuthorUsername: wire.Author.Username,
		SourceBranch:   wire.SourceBranch,
		TargetBranch:   wire.TargetBranch,
		State:          model.ParseMergeRequestState(wire.State),
		WebURL:         wire.WebURL,
		CreatedAt:      parseUpstreamTime(wire.CreatedAt),
		UpdatedAt:      parseUpstreamTime(wire.UpdatedAt),
		MergedAt:       parseUpstreamTimePtr(wire.MergedAt),
		Labels:         append([]string(nil), wire.Labels...),
		Reviewers:      reviewers,
		PipelineStatus: pipelineStatus,
	}
}

// applyApprovals fills in the approval-related fields, keeping
// approval_status consistent with approvals_count >= approvals_required.
func applyApprovals(mr *model.MergeRequest, a *remoteapi.MergeRequestApprovals, authenticatedUsername string) {
	count := int64(len(a.ApprovedBy))
	required := a.ApprovalsRequired
	mr.ApprovalsCount = &count
	mr.ApprovalsRequired = &required

	status := model.ApprovalPending
	if count >= required {
		status = model.ApprovalApproved
	}
	mr.ApprovalStatus = &status

	for _, ab := range a.ApprovedBy {
		if ab.User.Username == authenticatedUsername {
			mr.UserHasApproved = true
			break
		}
	}
}

// reconcileDiff fetches the latest diff version and replaces the cached
// diff + diff_files rows, computing per-file and aggregate line counts
// from the unified diff text via cacheread.ParseHunks.
func (e *Engine) reconcileDiff(ctx context.Context, client *remoteapi.Client, mr *model.MergeRequest) error {
	version, err := client.GetLatestMergeRequestDiff(ctx, mr.ProjectID, mr.IID)
	if err != nil {
		return err
	}

	diff := &model.Diff{
		MRID:     mr.ID,
		BaseSHA:  version.BaseCommitSHA,
		HeadSHA:  version.HeadCommitSHA,
		StartSHA: version.StartCommitSHA,
	}

	files := make([]*model.DiffFile, 0, len(version.Diffs))
	var content strings.Builder
	for _, fd := range version.Diffs {
		additions, deletions := countLines(fd.Diff)
		diff.Additions += additions
		diff.Deletions += deletions

		var oldPath *string
		if !fd.NewFile && fd.OldPath != fd.NewPath {
			op := fd.OldPath
			oldPath = &op
		}
		diffContent := fd.Diff
		files = append(files, &model.DiffFile{
			MRID:        mr.ID,
			OldPath:     oldPath,
			NewPath:     fd.NewPath,
			ChangeType:  classifyChange(fd),
			Additions:   additions,
			Deletions:   deletions,
			DiffContent: &diffContent,
		})
		content.WriteString(fd.Diff)
		content.WriteByte('\n')
	}
	diff.Content = content.String()
	diff.FileCount = int64(len(files))

	return e.writer.UpsertDiffWithFiles(ctx, diff, files)
}

func classifyChange(fd remoteapi.FileDiff) model.ChangeType {
	switch {
	case fd.NewFile:
		return model.ChangeAdded
	case fd.DeletedFile:
		return model.ChangeDeleted
	case fd.RenamedFile:
		return model.ChangeRenamed
	default:
		return model.ChangeModified
	}
}

// countLines tallies added/removed lines across every hunk of a single
// file's unified diff text.
func countLines(diffText string) (additions, deletions int64) {
	for _, hunk := range cacheread.ParseHunks(diffText) {
		for _, l := range hunk.Lines {
			switch l.Type {
			case model.LineAdded:
				additions++
			case model.LineRemoved:
				deletions++
			}
		}
	}
	return
}

// reconcileComments fetches every discussion thread and upserts its notes,
// flagging system notes rather than dropping them.
func (e *Engine) reconcileComments(ctx context.Context, client *remoteapi.Client, mr *model.MergeRequest) error {
	discussions, err := client.ListDiscussions(ctx, mr.ProjectID, mr.IID)
	if err != nil {
		return err
	}

	for _, d := range discussions {
		var parentID *int64
		for _, note := range d.Notes {
			c := mapNote(mr.ID, d.ID, parentID, note)
			if err := e.writer.UpsertRemoteComment(ctx, c); err != nil {
				applog.Warn("syncengine: upsert comment %d: %v", note.ID, err)
				continue
			}
			if parentID == nil {
				id := note.ID
				parentID = &id
			}
		}
	}
	return nil
}

func mapNote(mrID int64, discussionID string, parentID *int64, note remoteapi.DiscussionNote) *model.Comment {
	c := &model.Comment{
		ID:             note.ID,
		MRID:           mrID,
		DiscussionID:   &discussionID,
		ParentID:       parentID,
		AuthorUsername: note.Author.Username,
		Body:           note.Body,
		Resolvable:     note.Resolvable,
		System:         note.System,
		CreatedAt:      parseUpstreamTime(note.CreatedAt),
		UpdatedAt:      parseUpstreamTime(note.UpdatedAt),
	}
	if note.Resolved != nil {
		c.Resolved = *note.Resolved
	}
	if note.Position != nil {
		c.FilePath = note.Position.NewPath
		if c.FilePath == nil {
			c.FilePath = note.Position.OldPath
		}
		c.OldLine = note.Position.OldLine
		c.NewLine = note.Position.NewLine
		lt := model.LineContext
		switch {
		case note.Position.NewLine != nil && note.Position.OldLine == nil:
			lt = model.LineAdded
		case note.Position.OldLine != nil && note.Position.NewLine == nil:
			lt = model.LineRemoved
		}
		c.LineType = &lt
	}
	return c
}
