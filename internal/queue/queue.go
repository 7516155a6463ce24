// Package queue implements the durable FIFO action queue: every
// locally-originated write (approve, comment, reply, resolve, unresolve,
// unapprove) is persisted here before the sync engine attempts delivery, so
// nothing is lost across a restart or a failed upload.
package queue

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/ultragitlab/ultragitlab/internal/apperror"
	"github.com/ultragitlab/ultragitlab/internal/cachedb"
	"github.com/ultragitlab/ultragitlab/internal/model"
)

// Queue is the sync_actions table accessor. It holds no state of its own
// beyond the database handle.
type Queue struct {
	db *cachedb.DB
}

// New returns a Queue backed by db.
func New(db *cachedb.DB) *Queue { return &Queue{db: db} }

// EnqueueInput carries the fields needed to create a new queue entry.
type EnqueueInput struct {
	MRID             int64
	ActionType       model.ActionType
	Payload          string
	LocalReferenceID *int64
}

// Enqueue inserts a new pending action in its own transaction. Callers that
// pair the enqueue with an optimistic cache mutation use EnqueueTx inside
// their own RunInTransaction instead, so both land or roll back together.
func (q *Queue) Enqueue(ctx context.Context, in EnqueueInput) (*model.SyncAction, error) {
	var created *model.SyncAction
	err := q.db.RunInTransaction(ctx, func(tx cachedb.Querier) error {
		var err error
		created, err = q.EnqueueTx(ctx, tx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// EnqueueTx inserts a new pending action inside an existing transaction.
// When LocalReferenceID is set, the insert is conditional: it fails with
// apperror.Sync if a pending or syncing row already references the same
// LocalReferenceID, so a comment action can never be queued twice for the
// same local comment. The check and insert share the caller's BEGIN
// IMMEDIATE transaction, so two concurrent enqueues can't both pass the
// check before either commits.
func (q *Queue) EnqueueTx(ctx context.Context, tx cachedb.Querier, in EnqueueInput) (*model.SyncAction, error) {
	if in.LocalReferenceID != nil {
		var existing int64
		row := tx.QueryRowContext(ctx, `
			SELECT id FROM sync_actions
			WHERE local_reference_id = ? AND status IN ('pending', 'syncing')
			LIMIT 1`, *in.LocalReferenceID)
		switch err := row.Scan(&existing); {
		case err == nil:
			return nil, apperror.NewSync("an action is already queued for this comment")
		case err != sql.ErrNoRows:
			return nil, apperror.NewDatabaseOp(err.Error(), "enqueue: check single-flight")
		}
	}

	createdAt := time.Now().Unix()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO sync_actions (mr_id, action_type, payload, local_reference_id, status, retry_count, created_at)
		VALUES (?, ?, ?, ?, 'pending', 0, ?)`,
		in.MRID, string(in.ActionType), in.Payload, in.LocalReferenceID, createdAt)
	if err != nil {
		return nil, apperror.NewDatabaseOp(err.Error(), "enqueue: insert")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, apperror.NewDatabaseOp(err.Error(), "enqueue: last insert id")
	}

	return &model.SyncAction{
		ID:               id,
		MRID:             in.MRID,
		ActionType:       in.ActionType,
		Payload:          in.Payload,
		LocalReferenceID: in.LocalReferenceID,
		Status:           model.StatusPending,
		RetryCount:       0,
		CreatedAt:        createdAt,
	}, nil
}

const selectColumns = `id, mr_id, action_type, payload, local_reference_id, status, retry_count, last_error, created_at, synced_at`

func scanAction(rows *sql.Rows) (*model.SyncAction, error) {
	var a model.SyncAction
	var actionType, status string
	if err := rows.Scan(&a.ID, &a.MRID, &actionType, &a.Payload, &a.LocalReferenceID,
		&status, &a.RetryCount, &a.LastError, &a.CreatedAt, &a.SyncedAt); err != nil {
		return nil, err
	}
	a.ActionType = model.ParseActionType(actionType)
	a.Status = model.ParseSyncStatus(status)
	return &a, nil
}

func (q *Queue) queryActions(ctx context.Context, query string, args ...any) ([]*model.SyncAction, error) {
	rows, err := q.db.SQL().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperror.NewDatabaseOp(err.Error(), "query actions")
	}
	defer rows.Close()

	var out []*model.SyncAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, apperror.NewDatabaseOp(err.Error(), "scan action")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetPending returns every action still waiting to be sent, oldest first.
func (q *Queue) GetPending(ctx context.Context) ([]*model.SyncAction, error) {
	return q.queryActions(ctx, `SELECT `+selectColumns+` FROM sync_actions WHERE status = 'pending' ORDER BY created_at ASC, id ASC`)
}

// GetRetryable returns failed actions still within the retry budget.
func (q *Queue) GetRetryable(ctx context.Context) ([]*model.SyncAction, error) {
	return q.queryActions(ctx, `SELECT `+selectColumns+` FROM sync_actions WHERE status = 'failed' AND retry_count < ? ORDER BY created_at ASC, id ASC`, model.MaxRetries)
}

// GetForMR returns every queued action for a given merge request, in order.
func (q *Queue) GetForMR(ctx context.Context, mrID int64) ([]*model.SyncAction, error) {
	return q.queryActions(ctx, `SELECT `+selectColumns+` FROM sync_actions WHERE mr_id = ? ORDER BY created_at ASC, id ASC`, mrID)
}

// PendingMRIDs returns the distinct mr_id of every action still pending or
// syncing against instanceID's merge requests, used by the sync engine to
// build the purge-survivor set: a reconcile must never delete an MR with
// in-flight local work.
func (q *Queue) PendingMRIDs(ctx context.Context, instanceID int64) ([]int64, error) {
	rows, err := q.db.SQL().QueryContext(ctx, `
		SELECT DISTINCT sa.mr_id
		FROM sync_actions sa
		JOIN merge_requests mr ON mr.id = sa.mr_id
		WHERE mr.instance_id = ? AND sa.status IN ('pending', 'syncing')`, instanceID)
	if err != nil {
		return nil, apperror.NewDatabaseOp(err.Error(), "pending mr ids")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, apperror.NewDatabaseOp(err.Error(), "scan pending mr id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkSyncing transitions an action to the in-flight state.
func (q *Queue) MarkSyncing(ctx context.Context, actionID int64) error {
	_, err := q.db.SQL().ExecContext(ctx, `UPDATE sync_actions SET status = 'syncing' WHERE id = ?`, actionID)
	if err != nil {
		return apperror.NewDatabaseOp(err.Error(), "mark syncing")
	}
	return nil
}

// MarkSynced transitions an action to its terminal success state.
func (q *Queue) MarkSynced(ctx context.Context, actionID int64) error {
	_, err := q.db.SQL().ExecContext(ctx, `UPDATE sync_actions SET status = 'synced', synced_at = ? WHERE id = ?`, time.Now().Unix(), actionID)
	if err != nil {
		return apperror.NewDatabaseOp(err.Error(), "mark synced")
	}
	return nil
}

// MarkFailed records an error and either re-queues the action as pending or,
// once retry_count reaches model.MaxRetries, moves it to the terminal
// `failed` state. It returns the resulting status so callers (the sync
// processor) can tell a retry-eligible failure from a terminal one without
// a second query.
func (q *Queue) MarkFailed(ctx context.Context, actionID int64, errMsg string) (model.SyncStatus, error) {
	row := q.db.SQL().QueryRowContext(ctx, `SELECT retry_count FROM sync_actions WHERE id = ?`, actionID)
	var retryCount int64
	switch err := row.Scan(&retryCount); {
	case err == sql.ErrNoRows:
		return "", apperror.NewNotFoundWithID("SyncAction", strconv.FormatInt(actionID, 10))
	case err != nil:
		return "", apperror.NewDatabaseOp(err.Error(), "mark failed: read retry count")
	}

	newRetryCount := retryCount + 1
	newStatus := model.StatusPending
	if newRetryCount >= model.MaxRetries {
		newStatus = model.StatusFailed
	}

	_, err := q.db.SQL().ExecContext(ctx, `UPDATE sync_actions SET status = ?, retry_count = ?, last_error = ? WHERE id = ?`,
		string(newStatus), newRetryCount, errMsg, actionID)
	if err != nil {
		return "", apperror.NewDatabaseOp(err.Error(), "mark failed: update")
	}
	return newStatus, nil
}

// Retry resets a terminally-failed action back to pending, clearing its
// error. Returns apperror.NotFound if no failed action with that id exists.
func (q *Queue) Retry(ctx context.Context, actionID int64) error {
	res, err := q.db.SQL().ExecContext(ctx, `UPDATE sync_actions SET status = 'pending', last_error = NULL WHERE id = ? AND status = 'failed'`, actionID)
	if err != nil {
		return apperror.NewDatabaseOp(err.Error(), "retry action")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperror.NewNotFoundWithID("SyncAction", strconv.FormatInt(actionID, 10))
	}
	return nil
}

// Delete removes an action from the queue entirely.
func (q *Queue) Delete(ctx context.Context, actionID int64) error {
	res, err := q.db.SQL().ExecContext(ctx, `DELETE FROM sync_actions WHERE id = ?`, actionID)
	if err != nil {
		return apperror.NewDatabaseOp(err.Error(), "delete action")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperror.NewNotFoundWithID("SyncAction", strconv.FormatInt(actionID, 10))
	}
	return nil
}

// MarkDiscarded marks an action as permanently abandoned, e.g. because the
// sync processor classified the upstream response as non-retriable (MR
// merged, closed, or deleted since the action was queued).
func (q *Queue) MarkDiscarded(ctx context.Context, actionID int64, reason string) error {
	_, err := q.db.SQL().ExecContext(ctx, `UPDATE sync_actions SET status = 'discarded', last_error = ? WHERE id = ?`, reason, actionID)
	if err != nil {
		return apperror.NewDatabaseOp(err.Error(), "mark discarded")
	}
	return nil
}

// Counts summarizes queue state for status reporting. Discarded rows are
// excluded from both fields.
func (q *Queue) Counts(ctx context.Context) (model.ActionCounts, error) {
	row := q.db.SQL().QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN status IN ('pending', 'syncing') THEN 1 END),
			COUNT(CASE WHEN status = 'failed' THEN 1 END)
		FROM sync_actions`)
	var c model.ActionCounts
	if err := row.Scan(&c.Pending, &c.Failed); err != nil {
		return model.ActionCounts{}, apperror.NewDatabaseOp(err.Error(), "count actions")
	}
	return c, nil
}

// CleanupSynced deletes every action in the terminal synced state, returning
// the number of rows removed.
func (q *Queue) CleanupSynced(ctx context.Context) (int64, error) {
	res, err := q.db.SQL().ExecContext(ctx, `DELETE FROM sync_actions WHERE status = 'synced'`)
	if err != nil {
		return 0, apperror.NewDatabaseOp(err.Error(), "cleanup synced")
	}
	return res.RowsAffected()
}

