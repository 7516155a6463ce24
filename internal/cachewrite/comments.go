package cachewrite

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/ultragitlab/ultragitlab/internal/apperror"
	"github.com/ultragitlab/ultragitlab/internal/cachedb"
	"github.com/ultragitlab/ultragitlab/internal/model"
)

// UpsertRemoteComment inserts or updates a comment fetched from upstream
// discussions. System notes are stored with System=true rather than
// dropped, so a "merged by X" note can still be shown in a discussion
// thread if the UI chooses to.
func (w *Writer) UpsertRemoteComment(ctx context.Context, c *model.Comment) error {
	c.CachedAt = time.Now().Unix()
	_, err := w.db.SQL().ExecContext(ctx, `
		INSERT INTO comments (
			id, mr_id, discussion_id, parent_id, author_username, body,
			file_path, old_line, new_line, line_type, resolved, resolvable, system,
			created_at, updated_at, cached_at, is_local
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(id) DO UPDATE SET
			body = excluded.body,
			resolved = excluded.resolved,
			resolvable = excluded.resolvable,
			updated_at = excluded.updated_at,
			cached_at = excluded.cached_at`,
		c.ID, c.MRID, c.DiscussionID, c.ParentID, c.AuthorUsername, c.Body,
		c.FilePath, c.OldLine, c.NewLine, lineTypeValue(c.LineType), c.Resolved, c.Resolvable, c.System,
		c.CreatedAt, c.UpdatedAt, c.CachedAt)
	if err != nil {
		return apperror.NewDatabaseOp(err.Error(), "upsert remote comment")
	}
	return nil
}

func lineTypeValue(lt *model.LineType) any {
	if lt == nil {
		return nil
	}
	return string(*lt)
}

// nextLocalID mints a negative comment id, satisfying the is_local=true =>
// id<0 invariant. UnixNano rather than unix-seconds avoids collisions
// between two local comments created within the same second.
func nextLocalID() int64 {
	return -time.Now().UnixNano()
}

// CreateLocalComment inserts a new locally-authored comment (general or
// inline) with a freshly-minted negative id.
func (w *Writer) CreateLocalComment(ctx context.Context, in model.NewComment, authorUsername string) (*model.Comment, error) {
	return w.CreateLocalCommentTx(ctx, w.db.SQL(), in, authorUsername)
}

// CreateLocalCommentTx is CreateLocalComment against an existing
// transaction, so the optimistic write and the queue entry either both
// land or both roll back.
func (w *Writer) CreateLocalCommentTx(ctx context.Context, tx cachedb.Querier, in model.NewComment, authorUsername string) (*model.Comment, error) {
	now := time.Now().Unix()
	c := &model.Comment{
		ID:             nextLocalID(),
		MRID:           in.MRID,
		AuthorUsername: authorUsername,
		Body:           in.Body,
		FilePath:       in.FilePath,
		OldLine:        in.OldLine,
		NewLine:        in.NewLine,
		LineType:       in.LineType,
		Resolvable:     in.FilePath != nil,
		CreatedAt:      now,
		UpdatedAt:      now,
		CachedAt:       now,
		IsLocal:        true,
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO comments (
			id, mr_id, discussion_id, parent_id, author_username, body,
			file_path, old_line, new_line, line_type, resolved, resolvable, system,
			created_at, updated_at, cached_at, is_local
		) VALUES (?, ?, NULL, NULL, ?, ?, ?, ?, ?, ?, 0, ?, 0, ?, ?, ?, 1)`,
		c.ID, c.MRID, c.AuthorUsername, c.Body, c.FilePath, c.OldLine, c.NewLine,
		lineTypeValue(c.LineType), c.Resolvable, c.CreatedAt, c.UpdatedAt, c.CachedAt)
	if err != nil {
		return nil, apperror.NewDatabaseOp(err.Error(), "create local comment")
	}
	return c, nil
}

// CreateLocalReply inserts a local reply to an existing discussion,
// identified by discussionID rather than a file position.
func (w *Writer) CreateLocalReply(ctx context.Context, mrID int64, discussionID, body, authorUsername string) (*model.Comment, error) {
	return w.CreateLocalReplyTx(ctx, w.db.SQL(), mrID, discussionID, body, authorUsername)
}

// CreateLocalReplyTx is CreateLocalReply against an existing transaction.
func (w *Writer) CreateLocalReplyTx(ctx context.Context, tx cachedb.Querier, mrID int64, discussionID, body, authorUsername string) (*model.Comment, error) {
	now := time.Now().Unix()
	c := &model.Comment{
		ID:             nextLocalID(),
		MRID:           mrID,
		DiscussionID:   &discussionID,
		AuthorUsername: authorUsername,
		Body:           body,
		CreatedAt:      now,
		UpdatedAt:      now,
		CachedAt:       now,
		IsLocal:        true,
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO comments (
			id, mr_id, discussion_id, parent_id, author_username, body,
			file_path, old_line, new_line, line_type, resolved, resolvable, system,
			created_at, updated_at, cached_at, is_local
		) VALUES (?, ?, ?, NULL, ?, ?, NULL, NULL, NULL, NULL, 0, 0, 0, ?, ?, ?, 1)`,
		c.ID, c.MRID, c.DiscussionID, c.AuthorUsername, c.Body, c.CreatedAt, c.UpdatedAt, c.CachedAt)
	if err != nil {
		return nil, apperror.NewDatabaseOp(err.Error(), "create local reply")
	}
	return c, nil
}

// SetDiscussionResolved optimistically flips the resolved flag on every
// comment in a discussion thread, ahead of the queued resolve/unresolve
// action syncing.
func (w *Writer) SetDiscussionResolved(ctx context.Context, mrID int64, discussionID string, resolved bool) error {
	return w.SetDiscussionResolvedTx(ctx, w.db.SQL(), mrID, discussionID, resolved)
}

// SetDiscussionResolvedTx is SetDiscussionResolved against an existing
// transaction.
func (w *Writer) SetDiscussionResolvedTx(ctx context.Context, tx cachedb.Querier, mrID int64, discussionID string, resolved bool) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE comments SET resolved = ? WHERE mr_id = ? AND discussion_id = ?`,
		resolved, mrID, discussionID)
	if err != nil {
		return apperror.NewDatabaseOp(err.Error(), "set discussion resolved")
	}
	return nil
}

// GetComment fetches a single comment by id (positive upstream id or
// negative local id).
func (w *Writer) GetComment(ctx context.Context, commentID int64) (*model.Comment, error) {
	row := w.db.SQL().QueryRowContext(ctx, `
		SELECT id, mr_id, discussion_id, parent_id, author_username, body,
			file_path, old_line, new_line, line_type, resolved, resolvable, system,
			created_at, updated_at, cached_at, is_local
		FROM comments WHERE id = ?`, commentID)

	var c model.Comment
	var lineType sql.NullString
	err := row.Scan(&c.ID, &c.MRID, &c.DiscussionID, &c.ParentID, &c.AuthorUsername, &c.Body,
		&c.FilePath, &c.OldLine, &c.NewLine, &lineType, &c.Resolved, &c.Resolvable, &c.System,
		&c.CreatedAt, &c.UpdatedAt, &c.CachedAt, &c.IsLocal)
	if err == sql.ErrNoRows {
		return nil, apperror.NewNotFoundWithID("Comment", strconv.FormatInt(commentID, 10))
	}
	if err != nil {
		return nil, apperror.NewDatabaseOp(err.Error(), "get comment")
	}
	if lineType.Valid {
		lt := model.LineType(lineType.String)
		c.LineType = &lt
	}
	return &c, nil
}
