// Package cacheread implements the read-only queries the CLI and the
// companion HTTP server run against the local cache: plain parameterized
// SQL behind typed Go methods, no ORM. It never writes and never touches
// the network; internal/cachewrite and internal/queue own all mutation.
package cacheread

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/ultragitlab/ultragitlab/internal/apperror"
	"github.com/ultragitlab/ultragitlab/internal/cachedb"
	"github.com/ultragitlab/ultragitlab/internal/model"
)

// Reader is the read-only accessor bundle. A single value serves every
// caller; it holds no per-request state.
type Reader struct {
	db *cachedb.DB
}

// New returns a Reader backed by db.
func New(db *cachedb.DB) *Reader { return &Reader{db: db} }

// ListFilter narrows ListMergeRequests: state filter, free-text search,
// instance scoping.
type ListFilter struct {
	InstanceID *int64
	State      model.MergeRequestState // zero value means "all"
	Search     string                  // case-insensitive substring over title+description
}

const mrColumns = `
	id, instance_id, iid, project_id, project_name, title, description, author_username,
	source_branch, target_branch, state, web_url, created_at, updated_at, merged_at,
	approval_status, approvals_required, approvals_count, labels, reviewers,
	pipeline_status, cached_at, user_has_approved`

func scanMR(row interface{ Scan(...any) error }) (*model.MergeRequest, error) {
	var mr model.MergeRequest
	var state string
	var approvalStatus sql.NullString
	var labelsJSON, reviewersJSON string
	if err := row.Scan(
		&mr.ID, &mr.InstanceID, &mr.IID, &mr.ProjectID, &mr.ProjectName, &mr.Title, &mr.Description, &mr.AuthorUsername,
		&mr.SourceBranch, &mr.TargetBranch, &state, &mr.WebURL, &mr.CreatedAt, &mr.UpdatedAt, &mr.MergedAt,
		&approvalStatus, &mr.ApprovalsRequired, &mr.ApprovalsCount, &labelsJSON, &reviewersJSON,
		&mr.PipelineStatus, &mr.CachedAt, &mr.UserHasApproved,
	); err != nil {
		return nil, err
	}
	mr.State = model.ParseMergeRequestState(state)
	if approvalStatus.Valid {
		s := model.ApprovalStatus(approvalStatus.String)
		mr.ApprovalStatus = &s
	}
	_ = json.Unmarshal([]byte(labelsJSON), &mr.Labels)
	_ = json.Unmarshal([]byte(reviewersJSON), &mr.Reviewers)
	return &mr, nil
}

// ListMergeRequests returns cached merge requests matching filter, most
// recently updated first.
func (r *Reader) ListMergeRequests(ctx context.Context, filter ListFilter) ([]*model.MergeRequest, error) {
	query := `SELECT ` + mrColumns + ` FROM merge_requests WHERE 1=1`
	var args []any

	if filter.InstanceID != nil {
		query += ` AND instance_id = ?`
		args = append(args, *filter.InstanceID)
	}
	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, string(filter.State))
	}
	if filter.Search != "" {
		query += ` AND (LOWER(title) LIKE ? OR LOWER(description) LIKE ?)`
		needle := "%" + strings.ToLower(filter.Search) + "%"
		args = append(args, needle, needle)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := r.db.SQL().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperror.NewDatabaseOp(err.Error(), "list merge requests")
	}
	defer rows.Close()

	var out []*model.MergeRequest
	for rows.Next() {
		mr, err := scanMR(rows)
		if err != nil {
			return nil, apperror.NewDatabaseOp(err.Error(), "scan merge request")
		}
		out = append(out, mr)
	}
	return out, rows.Err()
}

// GetMergeRequest fetches a single cached MR by its remote id.
func (r *Reader) GetMergeRequest(ctx context.Context, mrID int64) (*model.MergeRequest, error) {
	row := r.db.SQL().QueryRowContext(ctx, `SELECT `+mrColumns+` FROM merge_requests WHERE id = ?`, mrID)
	mr, err := scanMR(row)
	if err == sql.ErrNoRows {
		return nil, apperror.NewNotFoundWithID("MergeRequest", strconv.FormatInt(mrID, 10))
	}
	if err != nil {
		return nil, apperror.NewDatabaseOp(err.Error(), "get merge request")
	}
	return mr, nil
}
