// Package model defines the data types cached locally: instances, merge
// requests, diffs, comments, and the sync queue/log. These are the row
// shapes returned by internal/cachedb and internal/cacheread.
package model

// Instance is one configured upstream GitLab-compatible endpoint.
type Instance struct {
	ID                    int64
	URL                   string // trailing slash stripped, case preserved
	Name                  string
	HasToken              bool
	AuthenticatedUsername string // empty until first successful token validation
	CreatedAt             int64
}
