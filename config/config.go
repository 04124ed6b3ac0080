// Package config loads the YAML client configuration. The config is
// read once at startup and passed explicitly; nothing in this module
// consults it through globals.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"wildland.io/core/keys"
)

// Config is the client configuration.
type Config struct {
	// KeyDir holds the keystore (secret and public key files).
	KeyDir string `yaml:"key-dir"`

	// MountDir is where the composed filesystem is mounted.
	MountDir string `yaml:"mount-dir"`

	// ManifestDirs are local directories searched for manifests by
	// name before any remote resolution.
	ManifestDirs []string `yaml:"manifest-dirs"`

	// DefaultOwner is the fingerprint behind the @default alias.
	DefaultOwner string `yaml:"default-owner"`

	// Aliases maps alias names (without the "@") to fingerprints.
	Aliases map[string]string `yaml:"aliases"`
}

// Default returns a configuration rooted under baseDir.
func Default(baseDir string) *Config {
	return &Config{
		KeyDir:       filepath.Join(baseDir, "keys"),
		MountDir:     filepath.Join(baseDir, "wildland"),
		ManifestDirs: []string{filepath.Join(baseDir, "manifests")},
	}
}

// Load reads a config file. Unknown fields are an error, so typos do not
// silently produce a default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes config bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config parse error: %w", err)
	}
	for alias, owner := range cfg.Aliases {
		if strings.HasPrefix(alias, "@") {
			return nil, fmt.Errorf("alias %q must be declared without the '@'", alias)
		}
		if !keys.IsFingerprint(owner) {
			return nil, fmt.Errorf("alias %q does not point at a fingerprint: %q", alias, owner)
		}
	}
	if cfg.DefaultOwner != "" && !keys.IsFingerprint(cfg.DefaultOwner) {
		return nil, fmt.Errorf("default-owner is not a fingerprint: %q", cfg.DefaultOwner)
	}
	return &cfg, nil
}

// ResolveAlias maps an owner field from a Wildland path to a
// fingerprint. Accepts a literal fingerprint, "" or "@default" (the
// configured default owner), "@default-owner" (same), and custom
// "@alias" names.
func (c *Config) ResolveAlias(owner string) (string, error) {
	switch {
	case owner == "" || owner == "@default" || owner == "@default-owner":
		if c.DefaultOwner == "" {
			return "", fmt.Errorf("no default owner configured")
		}
		return c.DefaultOwner, nil
	case keys.IsFingerprint(owner):
		return owner, nil
	case strings.HasPrefix(owner, "@"):
		if fp, ok := c.Aliases[owner[1:]]; ok {
			return fp, nil
		}
		return "", fmt.Errorf("unknown alias: %s", owner)
	default:
		return "", fmt.Errorf("unrecognized owner: %q", owner)
	}
}
