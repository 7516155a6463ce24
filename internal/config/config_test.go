package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultsOnFirstRun(t *testing.T) {
	dir := t.TempDir()

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	s := m.Settings()
	if s.Sync.IntervalSecs != 300 || !s.Sync.SyncAuthored || !s.Sync.SyncReviewing || s.Sync.MaxMrsPerSync != 100 {
		t.Fatalf("unexpected defaults: %+v", s.Sync)
	}
	if s.CompanionServer.Enabled {
		t.Fatal("companion server must default to disabled")
	}

	if _, err := os.Stat(filepath.Join(dir, "settings.json")); err != nil {
		t.Fatalf("first run must persist settings.json: %v", err)
	}
}

func TestUpdatePersistsAcrossLoads(t *testing.T) {
	dir := t.TempDir()

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	err = m.Update(func(s *Settings) {
		s.Sync.IntervalSecs = 60
		s.CompanionServer.Enabled = true
		s.CompanionServer.PIN = "123456"
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	reloaded, err := Load(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	s := reloaded.Settings()
	if s.Sync.IntervalSecs != 60 || !s.CompanionServer.Enabled || s.CompanionServer.PIN != "123456" {
		t.Fatalf("update must survive a reload, got %+v", s)
	}
}

func TestEnvOverrideShadowsFile(t *testing.T) {
	t.Setenv("ULTRAGITLAB_SYNC_INTERVAL_SECS", "45")

	m, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := m.Settings().Sync.IntervalSecs; got != 45 {
		t.Fatalf("env var must shadow settings.json, got %d", got)
	}
}

func TestSettingsCloneIsolatesDeviceSlice(t *testing.T) {
	m, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	err = m.Update(func(s *Settings) {
		s.CompanionServer.AuthorizedDevices = []AuthorizedDevice{{DeviceID: "d1", Name: "phone"}}
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	copy1 := m.Settings()
	copy1.CompanionServer.AuthorizedDevices[0].Name = "mutated"

	if m.Settings().CompanionServer.AuthorizedDevices[0].Name != "phone" {
		t.Fatal("mutating a returned copy must not affect the manager's state")
	}
}

func TestParseSeedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "instances.toml")
	doc := `
[[instances]]
url = "https://gitlab.example.com"
name = "work"
token = "glpat-abc"

[[instances]]
url = "https://gitlab.internal"
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	seed, err := ParseSeedFile(path)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(seed.Instances) != 2 {
		t.Fatalf("expected 2 instances, got %d", len(seed.Instances))
	}
	if seed.Instances[0].Name != "work" || seed.Instances[0].Token != "glpat-abc" {
		t.Fatalf("unexpected first instance: %+v", seed.Instances[0])
	}
}

func TestParseSeedFileRejectsMissingURL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "instances.toml")
	if err := os.WriteFile(path, []byte("[[instances]]\nname = \"broken\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ParseSeedFile(path); err == nil {
		t.Fatal("an instance without a url must be rejected")
	}
}
