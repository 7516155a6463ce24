// Package config owns the layered settings for ultragitlab. The durable
// document is settings.json in the per-user data directory; individual
// fields can be overridden by a project-level .ultra-gitlab.yaml found by
// walking up from the working directory, and by ULTRAGITLAB_* environment
// variables. Precedence, highest first: flag > env > yaml override >
// settings.json > default.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// SyncSettings controls the sync engine's tick loop.
type SyncSettings struct {
	IntervalSecs  int  `json:"intervalSecs"`
	SyncAuthored  bool `json:"syncAuthored"`
	SyncReviewing bool `json:"syncReviewing"`
	MaxMrsPerSync int  `json:"maxMrsPerSync"`
}

// AuthorizedDevice is one companion client that has passed PIN verification.
// The session token itself is memory-only; this record is what survives a
// restart.
type AuthorizedDevice struct {
	DeviceID   string `json:"deviceId"`
	Name       string `json:"name"`
	CreatedAt  int64  `json:"createdAt"`
	LastActive int64  `json:"lastActive"`
}

// CompanionSettings controls the embedded LAN server.
type CompanionSettings struct {
	Enabled           bool               `json:"enabled"`
	Port              int                `json:"port"`
	PIN               string             `json:"pin"`
	AuthorizedDevices []AuthorizedDevice `json:"authorizedDevices"`
}

// Settings is the full settings.json document.
type Settings struct {
	Sync            SyncSettings      `json:"sync"`
	CompanionServer CompanionSettings `json:"companionServer"`
}

// Defaults returns the zero-configuration settings.
func Defaults() Settings {
	return Settings{
		Sync: SyncSettings{
			IntervalSecs:  300,
			SyncAuthored:  true,
			SyncReviewing: true,
			MaxMrsPerSync: 100,
		},
		CompanionServer: CompanionSettings{
			Enabled: false,
			Port:    8543,
		},
	}
}

// DefaultDataDir returns the per-user data directory holding the cache
// database, settings.json, credentials file, and logs.
func DefaultDataDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(base, "ultra-gitlab"), nil
}

// Manager loads settings.json once, serves copies, and writes every update
// back through to disk. Reads and writes are guarded by a mutex so the
// companion server's device bookkeeping and the CLI's settings edits can't
// interleave a lost update.
type Manager struct {
	mu       sync.Mutex
	path     string
	settings Settings
	v        *viper.Viper
}

// Load reads settings.json from dir (creating the default document on first
// run) and layers the env/yaml overrides on top.
func Load(dir string) (*Manager, error) {
	path := filepath.Join(dir, "settings.json")
	settings := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// First run: persist the defaults so the file exists for the
		// companion server's watcher and for hand-editing.
		if err := writeSettings(path, settings); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("read settings file: %w", err)
	default:
		if err := json.Unmarshal(data, &settings); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	m := &Manager{path: path, settings: settings, v: newOverlay()}
	m.applyOverrides()
	return m, nil
}

// newOverlay builds the viper layer holding env vars and the optional
// project-level yaml override file, located by walking up from the working
// directory.
func newOverlay() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			candidate := filepath.Join(dir, ".ultra-gitlab.yaml")
			if _, err := os.Stat(candidate); err == nil {
				v.SetConfigFile(candidate)
				_ = v.ReadInConfig()
				break
			}
		}
	}

	v.SetEnvPrefix("ULTRAGITLAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// applyOverrides folds any env/yaml values into the in-memory settings.
// Overrides never write back to settings.json; they shadow it.
func (m *Manager) applyOverrides() {
	if m.v.IsSet("sync.interval-secs") {
		m.settings.Sync.IntervalSecs = m.v.GetInt("sync.interval-secs")
	}
	if m.v.IsSet("sync.authored") {
		m.settings.Sync.SyncAuthored = m.v.GetBool("sync.authored")
	}
	if m.v.IsSet("sync.reviewing") {
		m.settings.Sync.SyncReviewing = m.v.GetBool("sync.reviewing")
	}
	if m.v.IsSet("sync.max-mrs") {
		m.settings.Sync.MaxMrsPerSync = m.v.GetInt("sync.max-mrs")
	}
	if m.v.IsSet("companion.enabled") {
		m.settings.CompanionServer.Enabled = m.v.GetBool("companion.enabled")
	}
	if m.v.IsSet("companion.port") {
		m.settings.CompanionServer.Port = m.v.GetInt("companion.port")
	}
}

// Path returns the absolute path of the settings.json document, used by the
// companion server's fsnotify watcher.
func (m *Manager) Path() string { return m.path }

// Settings returns a copy of the current settings.
func (m *Manager) Settings() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings.clone()
}

// Update applies fn to the settings under the lock and writes the result
// through to disk.
func (m *Manager) Update(fn func(*Settings)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// fn is also applied to the on-disk document, and that document is what
	// gets written, so env/yaml overrides held in m.settings stay out of
	// settings.json.
	durable := Defaults()
	if data, err := os.ReadFile(m.path); err == nil {
		if err := json.Unmarshal(data, &durable); err != nil {
			return fmt.Errorf("parse %s: %w", m.path, err)
		}
	}
	fn(&durable)
	fn(&m.settings)
	return writeSettings(m.path, durable)
}

// Reload re-reads settings.json from disk, used when an external edit (or
// another process) changed the file under a running server.
func (m *Manager) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("reload settings: %w", err)
	}
	settings := Defaults()
	if err := json.Unmarshal(data, &settings); err != nil {
		return fmt.Errorf("reload settings: parse: %w", err)
	}
	m.settings = settings
	m.applyOverrides()
	return nil
}

func (s Settings) clone() Settings {
	cp := s
	cp.CompanionServer.AuthorizedDevices = append([]AuthorizedDevice(nil), s.CompanionServer.AuthorizedDevices...)
	return cp
}

func writeSettings(path string, s Settings) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}

// yamlOverrideDoc documents the .ultra-gitlab.yaml shape for `ultragitlab
// config example`. Kept next to the keys applyOverrides reads so the two
// stay in step.
type yamlOverrideDoc struct {
	Sync struct {
		IntervalSecs int  `yaml:"interval-secs"`
		Authored     bool `yaml:"authored"`
		Reviewing    bool `yaml:"reviewing"`
		MaxMrs       int  `yaml:"max-mrs"`
	} `yaml:"sync"`
	Companion struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"companion"`
}

// ExampleOverrideYAML renders a commented sample .ultra-gitlab.yaml.
func ExampleOverrideYAML() (string, error) {
	var doc yamlOverrideDoc
	doc.Sync.IntervalSecs = 300
	doc.Sync.Authored = true
	doc.Sync.Reviewing = true
	doc.Sync.MaxMrs = 100
	doc.Companion.Port = 8543

	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
