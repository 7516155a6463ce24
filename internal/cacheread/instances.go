package cacheread

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/ultragitlab/ultragitlab/internal/apperror"
	"github.com/ultragitlab/ultragitlab/internal/model"
)

const instanceColumns = `id, url, name, has_token, authenticated_username, created_at`

func scanInstance(row interface{ Scan(...any) error }) (*model.Instance, error) {
	var in model.Instance
	if err := row.Scan(&in.ID, &in.URL, &in.Name, &in.HasToken, &in.AuthenticatedUsername, &in.CreatedAt); err != nil {
		return nil, err
	}
	return &in, nil
}

// ListInstances returns every configured instance, oldest first.
func (r *Reader) ListInstances(ctx context.Context) ([]*model.Instance, error) {
	rows, err := r.db.SQL().QueryContext(ctx, `SELECT `+instanceColumns+` FROM instances ORDER BY created_at ASC`)
	if err != nil {
		return nil, apperror.NewDatabaseOp(err.Error(), "list instances")
	}
	defer rows.Close()

	var out []*model.Instance
	for rows.Next() {
		in, err := scanInstance(rows)
		if err != nil {
			return nil, apperror.NewDatabaseOp(err.Error(), "scan instance")
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// GetInstance fetches a single instance by id.
func (r *Reader) GetInstance(ctx context.Context, instanceID int64) (*model.Instance, error) {
	row := r.db.SQL().QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM instances WHERE id = ?`, instanceID)
	in, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return nil, apperror.NewNotFoundWithID("Instance", strconv.FormatInt(instanceID, 10))
	}
	if err != nil {
		return nil, apperror.NewDatabaseOp(err.Error(), "get instance")
	}
	return in, nil
}

// ListSyncLog returns the most recent sync log entries, newest first,
// capped at model.MaxLogEntries. limit further caps the result if smaller.
func (r *Reader) ListSyncLog(ctx context.Context, limit int) ([]*model.SyncLog, error) {
	if limit <= 0 || limit > int(model.MaxLogEntries) {
		limit = int(model.MaxLogEntries)
	}
	rows, err := r.db.SQL().QueryContext(ctx, `
		SELECT id, operation, status, mr_id, message, duration_ms, timestamp
		FROM sync_log ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, apperror.NewDatabaseOp(err.Error(), "list sync log")
	}
	defer rows.Close()

	var out []*model.SyncLog
	for rows.Next() {
		var l model.SyncLog
		var status string
		if err := rows.Scan(&l.ID, &l.Operation, &status, &l.MRID, &l.Message, &l.DurationMs, &l.Timestamp); err != nil {
			return nil, apperror.NewDatabaseOp(err.Error(), "scan sync log entry")
		}
		l.Status = model.LogStatus(status)
		out = append(out, &l)
	}
	return out, rows.Err()
}
