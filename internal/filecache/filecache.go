// Package filecache serves base/head file contents for diff viewing,
// backed by the content-addressed blob tables: identical file versions
// shared across merge requests are fetched and stored once. Content is
// addressed by its own SHA-256, so the address doesn't depend on which
// commit the bytes were fetched at.
package filecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/ultragitlab/ultragitlab/internal/apperror"
	"github.com/ultragitlab/ultragitlab/internal/cachedb"
	"github.com/ultragitlab/ultragitlab/internal/cacheread"
	"github.com/ultragitlab/ultragitlab/internal/cachewrite"
	"github.com/ultragitlab/ultragitlab/internal/remoteapi"
)

// Version selects which side of the diff to read.
type Version string

const (
	Base Version = "base"
	Head Version = "head"
)

// Cache resolves file contents, hitting upstream only on a miss.
type Cache struct {
	reader *cacheread.Reader
	writer *cachewrite.Writer
}

// New returns a Cache backed by db.
func New(db *cachedb.DB) *Cache {
	return &Cache{reader: cacheread.New(db), writer: cachewrite.New(db)}
}

// GetFileContent returns the file's bytes at the MR's base or head. A local
// hit never touches the network; a miss fetches the raw content at the
// cached diff's ref, stores it content-addressed, and links the position to
// it. A file absent at the requested ref (added or deleted file) yields
// empty content, which is cached like any other result.
func (c *Cache) GetFileContent(ctx context.Context, client *remoteapi.Client, mrID int64, filePath string, version Version) ([]byte, error) {
	if version != Base && version != Head {
		return nil, apperror.NewInvalidInputField("version must be base or head", "version")
	}

	if content, err := c.reader.GetLinkedBlob(ctx, mrID, filePath, string(version)); err == nil {
		return content, nil
	} else if !apperror.Is(err, apperror.NotFound) {
		return nil, err
	}

	mr, err := c.reader.GetMergeRequest(ctx, mrID)
	if err != nil {
		return nil, err
	}
	refs, err := c.reader.GetDiffRefs(ctx, mrID)
	if err != nil {
		return nil, err
	}

	ref := refs.HeadSHA
	if version == Base {
		ref = refs.BaseSHA
	}

	content, err := client.GetRawFileContent(ctx, mr.ProjectID, filePath, ref)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(content)
	sha := hex.EncodeToString(sum[:])
	if err := c.writer.StoreBlob(ctx, sha, content); err != nil {
		return nil, err
	}
	if err := c.writer.LinkBlob(ctx, mrID, filePath, cachewrite.BlobRefVersion(version), sha); err != nil {
		return nil, err
	}
	return content, nil
}

// Maintain collects blobs no longer referenced by any MR, returning the
// number removed. Called after a purge shrinks the ref table.
func (c *Cache) Maintain(ctx context.Context) (int64, error) {
	return c.writer.CollectOrphanBlobs(ctx)
}
