// Package credential is the secret store for instance tokens: a narrow
// Get/Set/Delete contract keyed by (service, account), account being the
// normalized instance URL. The OS keychain is treated as an opaque secret
// store, not as a domain concept of its own.
//
// A real OS-keychain backend (Keychain/Credential Manager/Secret Service)
// is left as a build-tag-gated stub; Store defaults to the file-backed
// implementation, which every platform and CI environment can use.
package credential

import (
	"context"
	"strings"
)

// ServiceName is the keychain service identifier every account is stored
// under.
const ServiceName = "ultra-gitlab"

// Store is the narrow credential contract. account is always a
// normalized instance URL (trailing slash stripped, lowercased).
type Store interface {
	// Get returns the stored secret for (service, account). It returns
	// apperror.NotFound if no entry exists.
	Get(ctx context.Context, service, account string) (string, error)
	// Set stores or overwrites the secret for (service, account).
	Set(ctx context.Context, service, account, secret string) error
	// Delete removes the secret for (service, account). Idempotent:
	// deleting a non-existent entry is not an error.
	Delete(ctx context.Context, service, account string) error
}

// Normalize lowercases and strips the trailing slash from an instance URL,
// so the same instance always maps to the same keychain account regardless
// of how the user typed it.
func Normalize(instanceURL string) string {
	return strings.ToLower(strings.TrimRight(instanceURL, "/"))
}
