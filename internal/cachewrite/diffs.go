package cachewrite

import (
	"context"
	"time"

	"github.com/ultragitlab/ultragitlab/internal/apperror"
	"github.com/ultragitlab/ultragitlab/internal/cachedb"
	"github.com/ultragitlab/ultragitlab/internal/model"
)

// UpsertDiffWithFiles replaces the cached diff and diff_files rows for an
// MR in one transaction. Files are deleted and reinserted rather than
// diffed row-by-row: the upstream diff version is immutable once created,
// so a changed version always means a wholesale replacement, not an
// incremental patch.
func (w *Writer) UpsertDiffWithFiles(ctx context.Context, diff *model.Diff, files []*model.DiffFile) error {
	diff.CachedAt = time.Now().Unix()

	return w.db.RunInTransaction(ctx, func(tx cachedb.Querier) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO diffs (mr_id, content, base_sha, head_sha, start_sha, file_count, additions, deletions, cached_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(mr_id) DO UPDATE SET
				content = excluded.content,
				base_sha = excluded.base_sha,
				head_sha = excluded.head_sha,
				start_sha = excluded.start_sha,
				file_count = excluded.file_count,
				additions = excluded.additions,
				deletions = excluded.deletions,
				cached_at = excluded.cached_at`,
			diff.MRID, diff.Content, diff.BaseSHA, diff.HeadSHA, diff.StartSHA, diff.FileCount, diff.Additions, diff.Deletions, diff.CachedAt)
		if err != nil {
			return apperror.NewDatabaseOp(err.Error(), "upsert diff")
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM diff_files WHERE mr_id = ?`, diff.MRID); err != nil {
			return apperror.NewDatabaseOp(err.Error(), "replace diff files: clear")
		}

		for i, f := range files {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO diff_files (mr_id, old_path, new_path, change_type, additions, deletions, file_position, diff_content)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				diff.MRID, f.OldPath, f.NewPath, string(f.ChangeType), f.Additions, f.Deletions, i, f.DiffContent)
			if err != nil {
				return apperror.NewDatabaseOp(err.Error(), "replace diff files: insert")
			}
		}
		return nil
	})
}

// BlobRefVersion names which side of a diff a content-addressed blob ref
// points at, mirroring the file_blob_refs.version CHECK constraint.
type BlobRefVersion string

const (
	BlobBase BlobRefVersion = "base"
	BlobHead BlobRefVersion = "head"
)

// StoreBlob content-addresses a file version by its sha, deduping identical
// content across MRs.
func (w *Writer) StoreBlob(ctx context.Context, sha string, content []byte) error {
	_, err := w.db.SQL().ExecContext(ctx, `
		INSERT INTO file_blobs (sha, content) VALUES (?, ?)
		ON CONFLICT(sha) DO NOTHING`, sha, content)
	if err != nil {
		return apperror.NewDatabaseOp(err.Error(), "store blob")
	}
	return nil
}

// LinkBlob maps (mrID, filePath, version) to sha, so a later read can
// resolve to the shared blob without knowing which MR first fetched it.
func (w *Writer) LinkBlob(ctx context.Context, mrID int64, filePath string, version BlobRefVersion, sha string) error {
	_, err := w.db.SQL().ExecContext(ctx, `
		INSERT INTO file_blob_refs (mr_id, file_path, version, sha) VALUES (?, ?, ?, ?)
		ON CONFLICT(mr_id, file_path, version) DO UPDATE SET sha = excluded.sha`,
		mrID, filePath, string(version), sha)
	if err != nil {
		return apperror.NewDatabaseOp(err.Error(), "link blob")
	}
	return nil
}

// CollectOrphanBlobs deletes any file_blobs row no longer referenced by
// file_blob_refs, returning the number of rows removed.
func (w *Writer) CollectOrphanBlobs(ctx context.Context) (int64, error) {
	res, err := w.db.SQL().ExecContext(ctx, `
		DELETE FROM file_blobs
		WHERE sha NOT IN (SELECT DISTINCT sha FROM file_blob_refs)`)
	if err != nil {
		return 0, apperror.NewDatabaseOp(err.Error(), "collect orphan blobs")
	}
	return res.RowsAffected()
}
