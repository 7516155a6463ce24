package cacheread

import (
	"context"
	"database/sql"

	"github.com/ultragitlab/ultragitlab/internal/apperror"
)

// GetLinkedBlob resolves (mrID, filePath, version) through file_blob_refs to
// the shared content-addressed blob. version is "base" or "head". Returns
// apperror.NotFound when the file version has not been cached yet.
func (r *Reader) GetLinkedBlob(ctx context.Context, mrID int64, filePath, version string) ([]byte, error) {
	row := r.db.SQL().QueryRowContext(ctx, `
		SELECT b.content
		FROM file_blob_refs ref
		JOIN file_blobs b ON b.sha = ref.sha
		WHERE ref.mr_id = ? AND ref.file_path = ? AND ref.version = ?`,
		mrID, filePath, version)

	var content []byte
	err := row.Scan(&content)
	if err == sql.ErrNoRows {
		return nil, apperror.NewNotFoundWithID("FileBlob", filePath+"@"+version)
	}
	if err != nil {
		return nil, apperror.NewDatabaseOp(err.Error(), "get linked blob")
	}
	return content, nil
}
