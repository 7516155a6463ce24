// Package cachewrite implements every mutation the cache layer supports:
// instance CRUD, upserting MRs/diffs/comments fetched from upstream,
// purging closed MRs, and the optimistic local writes (approve, local
// comment creation) that the CLI and companion server apply in the same
// transaction that enqueues a SyncAction. internal/cacheread stays
// read-only; this package is the only place that touches these tables with
// anything but a SELECT.
package cachewrite

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/ultragitlab/ultragitlab/internal/apperror"
	"github.com/ultragitlab/ultragitlab/internal/cachedb"
	"github.com/ultragitlab/ultragitlab/internal/model"
)

// Writer is the mutation accessor bundle, mirroring cacheread.Reader's
// shape: a single value, backed by *cachedb.DB, with no per-request state.
type Writer struct {
	db *cachedb.DB
}

// New returns a Writer backed by db.
func New(db *cachedb.DB) *Writer { return &Writer{db: db} }

// CreateInstance registers a new upstream endpoint. url has its trailing
// slash stripped but is otherwise stored case-preserved.
func (w *Writer) CreateInstance(ctx context.Context, url, name string) (*model.Instance, error) {
	url = strings.TrimRight(url, "/")
	createdAt := time.Now().Unix()
	res, err := w.db.SQL().ExecContext(ctx, `
		INSERT INTO instances (url, name, has_token, authenticated_username, created_at)
		VALUES (?, ?, 0, '', ?)`, url, name, createdAt)
	if err != nil {
		return nil, apperror.NewDatabaseOp(err.Error(), "create instance")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, apperror.NewDatabaseOp(err.Error(), "create instance: last insert id")
	}
	return &model.Instance{ID: id, URL: url, Name: name, CreatedAt: createdAt}, nil
}

// SetHasToken flips the has_token flag, set once a credential is stored in
// the credential store. The flag is the only trace of token presence kept
// in the cache; the secret itself never lands here.
func (w *Writer) SetHasToken(ctx context.Context, instanceID int64, hasToken bool) error {
	_, err := w.db.SQL().ExecContext(ctx, `UPDATE instances SET has_token = ? WHERE id = ?`, hasToken, instanceID)
	if err != nil {
		return apperror.NewDatabaseOp(err.Error(), "set has_token")
	}
	return nil
}

// SetAuthenticatedUsername records the username returned by the first
// successful token validation.
func (w *Writer) SetAuthenticatedUsername(ctx context.Context, instanceID int64, username string) error {
	_, err := w.db.SQL().ExecContext(ctx, `UPDATE instances SET authenticated_username = ? WHERE id = ?`, username, instanceID)
	if err != nil {
		return apperror.NewDatabaseOp(err.Error(), "set authenticated username")
	}
	return nil
}

// DeleteInstance removes an instance; ON DELETE CASCADE on every owned
// table (merge_requests, diffs, diff_files, comments, sync_actions, file
// blob refs) handles the rest.
func (w *Writer) DeleteInstance(ctx context.Context, instanceID int64) error {
	res, err := w.db.SQL().ExecContext(ctx, `DELETE FROM instances WHERE id = ?`, instanceID)
	if err != nil {
		return apperror.NewDatabaseOp(err.Error(), "delete instance")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperror.NewNotFoundWithID("Instance", strconv.FormatInt(instanceID, 10))
	}
	return nil
}

const instanceColumns = `id, url, name, has_token, authenticated_username, created_at`

func scanInstance(row interface{ Scan(...any) error }) (*model.Instance, error) {
	var in model.Instance
	if err := row.Scan(&in.ID, &in.URL, &in.Name, &in.HasToken, &in.AuthenticatedUsername, &in.CreatedAt); err != nil {
		return nil, err
	}
	return &in, nil
}

// ListInstances returns every configured instance, oldest first.
func (w *Writer) ListInstances(ctx context.Context) ([]*model.Instance, error) {
	rows, err := w.db.SQL().QueryContext(ctx, `SELECT `+instanceColumns+` FROM instances ORDER BY created_at ASC`)
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
func (w *Writer) GetInstance(ctx context.Context, instanceID int64) (*model.Instance, error) {
	row := w.db.SQL().QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM instances WHERE id = ?`, instanceID)
	in, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return nil, apperror.NewNotFoundWithID("Instance", strconv.FormatInt(instanceID, 10))
	}
	if err != nil {
		return nil, apperror.NewDatabaseOp(err.Error(), "get instance")
	}
	return in, nil
}
