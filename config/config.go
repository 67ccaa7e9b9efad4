// Package config handles tailctl's user configuration.
//
// Config is stored at $XDG_CONFIG_HOME/tailctl/config.yaml (defaults to
// ~/.config/tailctl/config.yaml). Every field has a working zero value, so
// the file is optional.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so yaml files can spell values as "10s".
type Duration time.Duration

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config controls how tailctl talks to the tailscale binary and renders
// status.
type Config struct {
	// Binary overrides the tailscale executable; empty means PATH lookup.
	Binary string `yaml:"binary,omitempty"`
	// UpArgs are extra arguments appended to every `tailscale up`.
	UpArgs []string `yaml:"up-args,omitempty"`
	// RefreshInterval overrides the watch-mode background refresh cadence.
	RefreshInterval Duration `yaml:"refresh-interval,omitempty"`
	// PublicIPLookup toggles the public-IP panel in status and watch output.
	PublicIPLookup *bool `yaml:"public-ip-lookup,omitempty"`
	// LogLevel is debug, info, warn, or error. Empty means info.
	LogLevel string `yaml:"log-level,omitempty"`
}

// LookupPublicIP reports whether public-IP lookups are enabled. They are
// on unless explicitly disabled.
func (c *Config) LookupPublicIP() bool {
	return c.PublicIPLookup == nil || *c.PublicIPLookup
}

// Path returns the config file location. It respects XDG_CONFIG_HOME,
// falling back to ~/.config/tailctl/config.yaml.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".config", "tailctl", "config.yaml")
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "tailctl", "config.yaml")
}

// StatePath returns the location of the persistent state database,
// $XDG_STATE_HOME/tailctl/state.db by default.
func StatePath() string {
	dir := os.Getenv("XDG_STATE_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".local", "state", "tailctl", "state.db")
		}
		dir = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(dir, "tailctl", "state.db")
}

// Load reads the config file. If the file does not exist, a zero Config is
// returned (not an error).
func Load() (*Config, error) {
	return LoadFrom(Path())
}

// LoadFrom reads a config file from an explicit path.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.RefreshInterval < 0 {
		return nil, fmt.Errorf("parse config: refresh-interval must not be negative")
	}
	return &cfg, nil
}

// Save writes the config to disk, creating directories as needed.
func (c *Config) Save() error {
	return c.SaveTo(Path())
}

// SaveTo writes the config to an explicit path.
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
