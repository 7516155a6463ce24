package companionauth

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/ultragitlab/ultragitlab/internal/apperror"
	"github.com/ultragitlab/ultragitlab/internal/config"
)

// Authenticator verifies PINs and manages the resulting sessions and
// authorized-device records. The PIN itself lives in settings.json (via the
// config.Manager) so regenerating it from the CLI is visible to a running
// server through the settings watcher.
type Authenticator struct {
	settings *config.Manager
	sessions *SessionStore
	limiter  *RateLimiter
}

// New wires an Authenticator against the settings manager.
func New(settings *config.Manager) *Authenticator {
	return &Authenticator{
		settings: settings,
		sessions: NewSessionStore(),
		limiter:  NewRateLimiter(),
	}
}

// Sessions exposes the session store for the auth middleware.
func (a *Authenticator) Sessions() *SessionStore { return a.sessions }

// VerifyResult is a successful PIN verification.
type VerifyResult struct {
	Token    string
	DeviceID string
}

// VerifyPIN checks pin against the configured value in constant time. On
// success it mints a fresh token and device id, persists the device record
// to settings, and registers the session. A rate-limited source IP is
// rejected before the comparison runs, regardless of correctness.
func (a *Authenticator) VerifyPIN(ctx context.Context, sourceIP, pin, deviceName string) (*VerifyResult, error) {
	if a.limiter.Blocked(sourceIP) {
		return nil, apperror.NewAuthentication("too many failed attempts, try again later")
	}

	configured := a.settings.Settings().CompanionServer.PIN
	if configured == "" {
		a.limiter.RecordFailure(sourceIP)
		return nil, apperror.NewAuthentication("companion access is not configured")
	}
	if subtle.ConstantTimeCompare([]byte(pin), []byte(configured)) != 1 {
		a.limiter.RecordFailure(sourceIP)
		return nil, apperror.NewAuthentication("invalid PIN")
	}

	token := NewToken()
	deviceID := NewDeviceID()
	now := time.Now().Unix()

	if deviceName == "" {
		deviceName = "companion device"
	}
	err := a.settings.Update(func(s *config.Settings) {
		s.CompanionServer.AuthorizedDevices = append(s.CompanionServer.AuthorizedDevices, config.AuthorizedDevice{
			DeviceID:   deviceID,
			Name:       deviceName,
			CreatedAt:  now,
			LastActive: now,
		})
	})
	if err != nil {
		return nil, apperror.NewInternal("persist authorized device: " + err.Error())
	}

	a.sessions.Add(token, deviceID)
	return &VerifyResult{Token: token, DeviceID: deviceID}, nil
}

// RateLimited reports whether sourceIP is currently over budget, so the
// HTTP layer can answer 429 instead of 401.
func (a *Authenticator) RateLimited(sourceIP string) bool {
	return a.limiter.Blocked(sourceIP)
}

// TouchDevice bumps a device's last_active timestamp. Failures are
// swallowed: activity bookkeeping must never fail a request.
func (a *Authenticator) TouchDevice(deviceID string) {
	_ = a.settings.Update(func(s *config.Settings) {
		for i := range s.CompanionServer.AuthorizedDevices {
			if s.CompanionServer.AuthorizedDevices[i].DeviceID == deviceID {
				s.CompanionServer.AuthorizedDevices[i].LastActive = time.Now().Unix()
				return
			}
		}
	})
}

// RevokeDevice drops a device's sessions and its persisted record.
func (a *Authenticator) RevokeDevice(deviceID string) error {
	a.sessions.RevokeDevice(deviceID)
	return a.settings.Update(func(s *config.Settings) {
		devices := s.CompanionServer.AuthorizedDevices[:0]
		for _, d := range s.CompanionServer.AuthorizedDevices {
			if d.DeviceID != deviceID {
				devices = append(devices, d)
			}
		}
		s.CompanionServer.AuthorizedDevices = devices
	})
}

// RegeneratePIN replaces the configured PIN, clearing every session and
// every authorized device: old pairings must not survive a new PIN.
func (a *Authenticator) RegeneratePIN(newPIN string) error {
	if len(newPIN) != 6 {
		return apperror.NewInvalidInputField("PIN must be exactly 6 digits", "pin")
	}
	for _, c := range newPIN {
		if c < '0' || c > '9' {
			return apperror.NewInvalidInputField("PIN must be exactly 6 digits", "pin")
		}
	}
	err := a.settings.Update(func(s *config.Settings) {
		s.CompanionServer.PIN = newPIN
		s.CompanionServer.AuthorizedDevices = nil
	})
	if err != nil {
		return err
	}
	a.sessions.Clear()
	return nil
}
