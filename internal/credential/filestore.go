package credential

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/ultragitlab/ultragitlab/internal/apperror"
)

// FileStore is the default Store: a single 0600-permission JSON file
// mapping "service\x00account" to its secret, read whole, mutated, and
// rewritten on every change. Suitable for platforms and CI environments
// with no OS keychain.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a FileStore persisting to path. The file is created
// on first Set if it does not already exist.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func entryKey(service, account string) string {
	return service + "\x00" + account
}

func (f *FileStore) load() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, apperror.NewCredentialStorage("read credential file: " + err.Error())
	}
	var entries map[string]string
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, apperror.NewCredentialStorage("parse credential file: " + err.Error())
	}
	return entries, nil
}

func (f *FileStore) save(entries map[string]string) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return apperror.NewCredentialStorage("marshal credential file: " + err.Error())
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return apperror.NewCredentialStorage("create credential dir: " + err.Error())
	}
	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		return apperror.NewCredentialStorage("write credential file: " + err.Error())
	}
	return nil
}

// Get returns apperror.NotFound if service/account has no stored secret.
func (f *FileStore) Get(_ context.Context, service, account string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.load()
	if err != nil {
		return "", err
	}
	secret, ok := entries[entryKey(service, account)]
	if !ok {
		return "", apperror.NewNotFoundWithID("Credential", account)
	}
	return secret, nil
}

func (f *FileStore) Set(_ context.Context, service, account, secret string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.load()
	if err != nil {
		return err
	}
	entries[entryKey(service, account)] = secret
	return f.save(entries)
}

// Delete is idempotent: removing an absent entry is not an error.
func (f *FileStore) Delete(_ context.Context, service, account string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.load()
	if err != nil {
		return err
	}
	delete(entries, entryKey(service, account))
	return f.save(entries)
}
