package cachewrite

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ultragitlab/ultragitlab/internal/apperror"
	"github.com/ultragitlab/ultragitlab/internal/cachedb"
	"github.com/ultragitlab/ultragitlab/internal/model"
)

// UpsertMergeRequest inserts or updates the cached projection of one
// upstream MR. The identity columns (instance_id, iid, project_id) are
// written on insert and left untouched on conflict; every other column is
// refreshed from mr, along with cached_at.
func (w *Writer) UpsertMergeRequest(ctx context.Context, mr *model.MergeRequest) error {
	labelsJSON, err := json.Marshal(mr.Labels)
	if err != nil {
		return apperror.NewInternal("marshal labels: " + err.Error())
	}
	reviewersJSON, err := json.Marshal(mr.Reviewers)
	if err != nil {
		return apperror.NewInternal("marshal reviewers: " + err.Error())
	}

	mr.CachedAt = time.Now().Unix()

	_, err = w.db.SQL().ExecContext(ctx, `
		INSERT INTO merge_requests (
			id, instance_id, iid, project_id, project_name, title, description, author_username,
			source_branch, target_branch, state, web_url, created_at, updated_at, merged_at,
			approval_status, approvals_required, approvals_count, labels, reviewers,
			pipeline_status, cached_at, user_has_approved
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_name = excluded.project_name,
			title = excluded.title,
			description = excluded.description,
			author_username = excluded.author_username,
			source_branch = excluded.source_branch,
			target_branch = excluded.target_branch,
			state = excluded.state,
			web_url = excluded.web_url,
			updated_at = excluded.updated_at,
			merged_at = excluded.merged_at,
			approval_status = excluded.approval_status,
			approvals_required = excluded.approvals_required,
			approvals_count = excluded.approvals_count,
			labels = excluded.labels,
			reviewers = excluded.reviewers,
			pipeline_status = excluded.pipeline_status,
			cached_at = excluded.cached_at,
			user_has_approved = excluded.user_has_approved`,
		mr.ID, mr.InstanceID, mr.IID, mr.ProjectID, mr.ProjectName, mr.Title, mr.Description, mr.AuthorUsername,
		mr.SourceBranch, mr.TargetBranch, string(mr.State), mr.WebURL, mr.CreatedAt, mr.UpdatedAt, mr.MergedAt,
		approvalStatusValue(mr.ApprovalStatus), mr.ApprovalsRequired, mr.ApprovalsCount, string(labelsJSON), string(reviewersJSON),
		mr.PipelineStatus, mr.CachedAt, mr.UserHasApproved,
	)
	if err != nil {
		return apperror.NewDatabaseOp(err.Error(), "upsert merge request")
	}
	return nil
}

func approvalStatusValue(s *model.ApprovalStatus) any {
	if s == nil {
		return nil
	}
	return string(*s)
}

// PurgeMRsNotIn deletes every cached MR for instanceID whose remote id is
// not in keepIDs, cascading to diffs/diff_files/comments/sync_actions.
// keepIDs must already be the union of the freshly-fetched open set and any
// MR with an in-flight queued action — callers build that union before
// calling this, not this function. If keepIDs is empty, every MR for the
// instance is purged. Returns the deleted MRs' ids and iids for
// mr-updated{purged} events.
func (w *Writer) PurgeMRsNotIn(ctx context.Context, instanceID int64, keepIDs []int64) ([]model.MergeRequest, error) {
	var purged []model.MergeRequest

	err := w.db.RunInTransaction(ctx, func(tx cachedb.Querier) error {
		query := `SELECT id, iid FROM merge_requests WHERE instance_id = ?`
		args := []any{instanceID}
		if len(keepIDs) > 0 {
			placeholders := make([]any, len(keepIDs))
			q := ""
			for i, id := range keepIDs {
				placeholders[i] = id
				if i > 0 {
					q += ","
				}
				q += "?"
			}
			query += ` AND id NOT IN (` + q + `)`
			args = append(args, placeholders...)
		}

		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return apperror.NewDatabaseOp(err.Error(), "purge: select candidates")
		}
		var ids []int64
		for rows.Next() {
			var mr model.MergeRequest
			if err := rows.Scan(&mr.ID, &mr.IID); err != nil {
				rows.Close()
				return apperror.NewDatabaseOp(err.Error(), "purge: scan candidate")
			}
			mr.InstanceID = instanceID
			purged = append(purged, mr)
			ids = append(ids, mr.ID)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return apperror.NewDatabaseOp(err.Error(), "purge: iterate candidates")
		}

		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `DELETE FROM merge_requests WHERE id = ?`, id); err != nil {
				return apperror.NewDatabaseOp(err.Error(), "purge: delete")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return purged, nil
}

// ApplyApprovalOptimistic bumps the cached approvals_count/status/
// user_has_approved fields immediately, before the enqueued approve action
// has synced. unapprove=true reverses the effect. The next reconcile tick
// overwrites these fields from upstream regardless, so this is a
// zero-latency UI nicety, not a source of truth.
func (w *Writer) ApplyApprovalOptimistic(ctx context.Context, mrID int64, unapprove bool) error {
	return w.db.RunInTransaction(ctx, func(tx cachedb.Querier) error {
		return w.ApplyApprovalOptimisticTx(ctx, tx, mrID, unapprove)
	})
}

// ApplyApprovalOptimisticTx is ApplyApprovalOptimistic inside an existing
// transaction, for callers pairing it with an enqueue.
func (w *Writer) ApplyApprovalOptimisticTx(ctx context.Context, tx cachedb.Querier, mrID int64, unapprove bool) error {
	row := tx.QueryRowContext(ctx, `SELECT approvals_count, approvals_required FROM merge_requests WHERE id = ?`, mrID)
	var count, required *int64
	if err := row.Scan(&count, &required); err != nil {
		return apperror.NewDatabaseOp(err.Error(), "apply approval: read")
	}

	var c int64
	if count != nil {
		c = *count
	}
	if unapprove {
		if c > 0 {
			c--
		}
	} else {
		c++
	}

	status := model.ApprovalPending
	if required != nil && c >= *required {
		status = model.ApprovalApproved
	}

	_, err := tx.ExecContext(ctx, `
		UPDATE merge_requests SET approvals_count = ?, approval_status = ?, user_has_approved = ? WHERE id = ?`,
		c, string(status), !unapprove, mrID)
	if err != nil {
		return apperror.NewDatabaseOp(err.Error(), "apply approval: write")
	}
	return nil
}
