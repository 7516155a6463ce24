//go:build keychain

package credential

import "context"

// KeychainStore is a placeholder for an OS keychain backend (Keychain on
// macOS, Credential Manager on Windows, Secret Service on Linux), compiled
// only with `-tags keychain`. Every method panics. Nothing in the repository
// constructs it, so builds with or without the tag use FileStore.
//
// TODO: wire a real keyring backend (e.g. zalando/go-keyring) behind this
// build tag when native keychain support is in scope.
type KeychainStore struct{}

func NewKeychainStore() *KeychainStore { return &KeychainStore{} }

func (k *KeychainStore) Get(ctx context.Context, service, account string) (string, error) {
	panic("credential: KeychainStore is not implemented, build without -tags keychain")
}

func (k *KeychainStore) Set(ctx context.Context, service, account, secret string) error {
	panic("credential: KeychainStore is not implemented, build without -tags keychain")
}

func (k *KeychainStore) Delete(ctx context.Context, service, account string) error {
	panic("credential: KeychainStore is not implemented, build without -tags keychain")
}
