package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// InstanceSeed is one [[instances]] entry in a TOML bootstrap file, used by
// `ultragitlab instance import --file` for scripted/CI setup where the
// interactive wizard is unavailable.
type InstanceSeed struct {
	URL   string `toml:"url"`
	Name  string `toml:"name"`
	Token string `toml:"token"`
}

// SeedFile is the parsed TOML bootstrap document.
type SeedFile struct {
	Instances []InstanceSeed `toml:"instances"`
}

// ParseSeedFile reads and validates a TOML instance bootstrap file.
func ParseSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var f SeedFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	for i, in := range f.Instances {
		if in.URL == "" {
			return nil, fmt.Errorf("seed file %s: instances[%d] has no url", path, i)
		}
	}
	return &f, nil
}
