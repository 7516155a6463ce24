package companionauth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ultragitlab/ultragitlab/internal/config"
)

func newTestAuth(t *testing.T, pin string) *Authenticator {
	t.Helper()
	settings, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	if pin != "" {
		if err := settings.Update(func(s *config.Settings) { s.CompanionServer.PIN = pin }); err != nil {
			t.Fatalf("set pin: %v", err)
		}
	}
	return New(settings)
}

func TestVerifyPINSuccessMintsSessionAndDevice(t *testing.T) {
	a := newTestAuth(t, "123456")

	result, err := a.VerifyPIN(context.Background(), "192.168.1.10", "123456", "my phone")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Token == "" || result.DeviceID == "" {
		t.Fatalf("expected token and device id, got %+v", result)
	}

	deviceID, ok := a.Sessions().DeviceForToken(result.Token)
	if !ok || deviceID != result.DeviceID {
		t.Fatal("token must resolve to the minted device")
	}

	devices := a.settings.Settings().CompanionServer.AuthorizedDevices
	if len(devices) != 1 || devices[0].Name != "my phone" {
		t.Fatalf("device must be persisted to settings, got %+v", devices)
	}
}

func TestVerifyPINWrongPIN(t *testing.T) {
	a := newTestAuth(t, "123456")

	if _, err := a.VerifyPIN(context.Background(), "192.168.1.10", "654321", ""); err == nil {
		t.Fatal("wrong PIN must be rejected")
	}
	if a.Sessions().Len() != 0 {
		t.Fatal("failed verification must not mint a session")
	}
}

func TestVerifyPINEmptyConfiguredPINAlwaysRejects(t *testing.T) {
	a := newTestAuth(t, "")

	if _, err := a.VerifyPIN(context.Background(), "192.168.1.10", "", ""); err == nil {
		t.Fatal("unconfigured PIN must reject, even against an empty guess")
	}
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	r := newRateLimiterAt(clock)

	// 5 failures within 30 seconds: each attempt was allowed at the time.
	for i := 0; i < 5; i++ {
		if r.Blocked("10.0.0.1") {
			t.Fatalf("attempt %d must not be blocked yet", i+1)
		}
		r.RecordFailure("10.0.0.1")
		now = now.Add(6 * time.Second)
	}

	// The 6th attempt inside the window is blocked regardless of the PIN.
	if !r.Blocked("10.0.0.1") {
		t.Fatal("6th attempt within the window must be blocked")
	}

	// Another IP is unaffected.
	if r.Blocked("10.0.0.2") {
		t.Fatal("rate limit must be per source IP")
	}

	// 60 seconds after the first failure, the oldest entries age out and
	// attempts are accepted again.
	now = time.Unix(1_700_000_000, 0).Add(61 * time.Second)
	if r.Blocked("10.0.0.1") {
		t.Fatal("window expiry must unblock the IP")
	}
}

func TestRateLimitSuccessDoesNotClearFailures(t *testing.T) {
	a := newTestAuth(t, "123456")
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := a.VerifyPIN(ctx, "10.0.0.1", "000000", ""); err == nil {
			t.Fatal("wrong PIN must fail")
		}
	}
	// A correct PIN still verifies on the 5th attempt...
	if _, err := a.VerifyPIN(ctx, "10.0.0.1", "123456", ""); err != nil {
		t.Fatalf("correct PIN within budget must verify: %v", err)
	}
	// ...but the prior failures still count: one more wrong guess (the 6th
	// attempt) exhausts the window and blocks the next attempt.
	if _, err := a.VerifyPIN(ctx, "10.0.0.1", "000000", ""); err == nil {
		t.Fatal("wrong PIN must fail")
	}
	if !a.RateLimited("10.0.0.1") {
		t.Fatal("success must not launder earlier failures")
	}
}

func TestRegeneratePINClearsSessionsAndDevices(t *testing.T) {
	a := newTestAuth(t, "123456")
	ctx := context.Background()

	if _, err := a.VerifyPIN(ctx, "10.0.0.1", "123456", "phone"); err != nil {
		t.Fatalf("verify: %v", err)
	}

	if err := a.RegeneratePIN("999999"); err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if a.Sessions().Len() != 0 {
		t.Fatal("regenerating the PIN must clear all sessions")
	}
	cfg := a.settings.Settings().CompanionServer
	if len(cfg.AuthorizedDevices) != 0 {
		t.Fatal("regenerating the PIN must clear authorized devices")
	}
	if cfg.PIN != "999999" {
		t.Fatalf("expected new PIN persisted, got %q", cfg.PIN)
	}
}

func TestRegeneratePINRejectsMalformedPIN(t *testing.T) {
	a := newTestAuth(t, "123456")
	for _, bad := range []string{"", "12345", "1234567", "12345a"} {
		if err := a.RegeneratePIN(bad); err == nil {
			t.Fatalf("PIN %q must be rejected", bad)
		}
	}
}

func TestRevokeDevice(t *testing.T) {
	a := newTestAuth(t, "123456")
	ctx := context.Background()

	r1, err := a.VerifyPIN(ctx, "10.0.0.1", "123456", "phone")
	if err != nil {
		t.Fatalf("verify 1: %v", err)
	}
	r2, err := a.VerifyPIN(ctx, "10.0.0.2", "123456", "tablet")
	if err != nil {
		t.Fatalf("verify 2: %v", err)
	}

	if err := a.RevokeDevice(r1.DeviceID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, ok := a.Sessions().DeviceForToken(r1.Token); ok {
		t.Fatal("revoked device's token must be dead")
	}
	if _, ok := a.Sessions().DeviceForToken(r2.Token); !ok {
		t.Fatal("other device's session must survive")
	}
	devices := a.settings.Settings().CompanionServer.AuthorizedDevices
	if len(devices) != 1 || devices[0].DeviceID != r2.DeviceID {
		t.Fatalf("expected only the tablet to remain, got %+v", devices)
	}
}

func TestRandomPINShape(t *testing.T) {
	pin, err := RandomPIN()
	if err != nil {
		t.Fatalf("RandomPIN: %v", err)
	}
	if len(pin) != 6 {
		t.Fatalf("expected 6 digits, got %q", pin)
	}
	for _, c := range pin {
		if c < '0' || c > '9' {
			t.Fatalf("expected digits only, got %q", pin)
		}
	}
}

func TestQRSVG(t *testing.T) {
	svg, err := QRSVG(PairingURL("192.168.1.5", 8543, "123456"))
	if err != nil {
		t.Fatalf("QRSVG: %v", err)
	}
	s := string(svg)
	if !strings.HasPrefix(s, "<svg") || !strings.HasSuffix(s, "</svg>") {
		t.Fatalf("expected an SVG document, got %.60s...", s)
	}
	if !strings.Contains(s, "<rect") {
		t.Fatal("expected QR modules rendered as rects")
	}
}
