// Package companionauth implements the companion server's authentication:
// constant-time PIN verification, a sliding-window rate limiter per source
// IP, an in-memory token session store, and the pairing QR code. Sessions
// are deliberately memory-only — a process restart logs every device out,
// and the persisted authorized-device list in settings.json is bookkeeping
// for the user, not a credential.
package companionauth

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CookieName is the session cookie the companion API's auth middleware
// checks.
const CookieName = "companion_token"

// SessionTTL is the Set-Cookie max-age handed to verified devices.
const SessionTTL = 30 * 24 * time.Hour

// SessionStore maps bearer tokens to device ids. Reads dominate (every
// protected API call resolves a token), so it is guarded by an RWMutex.
type SessionStore struct {
	mu     sync.RWMutex
	tokens map[string]string // token -> device id
}

// NewSessionStore returns an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{tokens: make(map[string]string)}
}

// Add registers a freshly-minted token for a device.
func (s *SessionStore) Add(token, deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = deviceID
}

// DeviceForToken resolves a token to its device id.
func (s *SessionStore) DeviceForToken(token string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	deviceID, ok := s.tokens[token]
	return deviceID, ok
}

// RevokeDevice deletes every session belonging to deviceID.
func (s *SessionStore) RevokeDevice(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, d := range s.tokens {
		if d == deviceID {
			delete(s.tokens, token)
		}
	}
}

// Clear drops every session, used when the PIN is regenerated.
func (s *SessionStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = make(map[string]string)
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

// NewToken mints a random 128-bit session token.
func NewToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewDeviceID mints a fresh device identifier.
func NewDeviceID() string {
	return uuid.NewString()
}
