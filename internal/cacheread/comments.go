package cacheread

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/ultragitlab/ultragitlab/internal/apperror"
	"github.com/ultragitlab/ultragitlab/internal/model"
)

const commentColumns = `
	id, mr_id, discussion_id, parent_id, author_username, body,
	file_path, old_line, new_line, line_type, resolved, resolvable, system,
	created_at, updated_at, cached_at, is_local`

func scanComment(row interface{ Scan(...any) error }) (*model.Comment, error) {
	var c model.Comment
	var lineType sql.NullString
	if err := row.Scan(&c.ID, &c.MRID, &c.DiscussionID, &c.ParentID, &c.AuthorUsername, &c.Body,
		&c.FilePath, &c.OldLine, &c.NewLine, &lineType, &c.Resolved, &c.Resolvable, &c.System,
		&c.CreatedAt, &c.UpdatedAt, &c.CachedAt, &c.IsLocal); err != nil {
		return nil, err
	}
	if lineType.Valid {
		lt := model.LineType(lineType.String)
		c.LineType = &lt
	}
	return &c, nil
}

// ListComments returns every comment on an MR, oldest first, so a
// discussion thread renders in reply order.
func (r *Reader) ListComments(ctx context.Context, mrID int64) ([]*model.Comment, error) {
	rows, err := r.db.SQL().QueryContext(ctx, `
		SELECT `+commentColumns+` FROM comments WHERE mr_id = ? ORDER BY created_at ASC`, mrID)
	if err != nil {
		return nil, apperror.NewDatabaseOp(err.Error(), "list comments")
	}
	defer rows.Close()

	var out []*model.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, apperror.NewDatabaseOp(err.Error(), "scan comment")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListFileComments returns every inline comment anchored to a specific file
// path on an MR, used by the diff viewer to annotate lines.
func (r *Reader) ListFileComments(ctx context.Context, mrID int64, filePath string) ([]*model.Comment, error) {
	rows, err := r.db.SQL().QueryContext(ctx, `
		SELECT `+commentColumns+` FROM comments WHERE mr_id = ? AND file_path = ? ORDER BY created_at ASC`, mrID, filePath)
	if err != nil {
		return nil, apperror.NewDatabaseOp(err.Error(), "list file comments")
	}
	defer rows.Close()

	var out []*model.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, apperror.NewDatabaseOp(err.Error(), "scan file comment")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DiffRefs is the (base, head, start) SHA triple an inline comment must
// anchor to.
type DiffRefs struct {
	BaseSHA  string
	HeadSHA  string
	StartSHA string
}

// GetDiffRefs fetches the SHA triple cached for an MR's current diff.
func (r *Reader) GetDiffRefs(ctx context.Context, mrID int64) (*DiffRefs, error) {
	row := r.db.SQL().QueryRowContext(ctx, `SELECT base_sha, head_sha, start_sha FROM diffs WHERE mr_id = ?`, mrID)
	var refs DiffRefs
	err := row.Scan(&refs.BaseSHA, &refs.HeadSHA, &refs.StartSHA)
	if err == sql.ErrNoRows {
		return nil, apperror.NewNotFoundWithID("Diff", "mr "+strconv.FormatInt(mrID, 10))
	}
	if err != nil {
		return nil, apperror.NewDatabaseOp(err.Error(), "get diff refs")
	}
	return &refs, nil
}
