package cachewrite

import (
	"context"
	"time"

	"github.com/ultragitlab/ultragitlab/internal/apperror"
	"github.com/ultragitlab/ultragitlab/internal/model"
)

// AppendLogInput carries one sync_log row to record.
type AppendLogInput struct {
	Operation  string
	Status     model.LogStatus
	MRID       *int64
	Message    *string
	DurationMs *int64
}

// AppendSyncLog inserts one observability entry, then prunes the table back
// to model.MaxLogEntries rows, keeping the log a bounded ring.
func (w *Writer) AppendSyncLog(ctx context.Context, in AppendLogInput) error {
	_, err := w.db.SQL().ExecContext(ctx, `
		INSERT INTO sync_log (operation, status, mr_id, message, duration_ms, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		in.Operation, string(in.Status), in.MRID, in.Message, in.DurationMs, time.Now().Unix())
	if err != nil {
		return apperror.NewDatabaseOp(err.Error(), "append sync log")
	}

	_, err = w.db.SQL().ExecContext(ctx, `
		DELETE FROM sync_log WHERE id NOT IN (
			SELECT id FROM sync_log ORDER BY timestamp DESC LIMIT ?
		)`, model.MaxLogEntries)
	if err != nil {
		return apperror.NewDatabaseOp(err.Error(), "prune sync log")
	}
	return nil
}
