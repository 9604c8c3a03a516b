package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// LedgerProfile is a declarative description of one ledger: its name, the
// modules to load, and per-stream validation settings. Profiles live as
// YAML files and select everything module construction needs.
type LedgerProfile struct {
	Name        string          `yaml:"name" json:"name"`
	Description string          `yaml:"description,omitempty" json:"description,omitempty"`
	Modules     []ModuleConfig  `yaml:"modules,omitempty" json:"modules,omitempty"`
	Streams     []StreamProfile `yaml:"streams,omitempty" json:"streams,omitempty"`
}

// ModuleConfig enables a module in a profile.
type ModuleConfig struct {
	Name    string         `yaml:"name" json:"name"`
	Version string         `yaml:"version" json:"version"`
	Enabled bool           `yaml:"enabled" json:"enabled"`
	Options map[string]any `yaml:"options,omitempty" json:"options,omitempty"`
}

// StreamProfile configures validation for one stream.
type StreamProfile struct {
	Stream string `yaml:"stream" json:"stream"`
	// Schema is a JSON Schema document applied to payloads of this stream.
	Schema map[string]any `yaml:"schema,omitempty" json:"schema,omitempty"`
	// Policy is a CEL expression gating appends to this stream.
	Policy string `yaml:"policy,omitempty" json:"policy,omitempty"`
}

// LoadProfile reads and validates a ledger profile from a YAML file.
func LoadProfile(path string) (*LedgerProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile %s: %w", path, err)
	}
	var p LedgerProfile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return &p, nil
}

// LoadProfilesDir loads every *.yaml / *.yml profile in a directory.
func LoadProfilesDir(dir string) (map[string]*LedgerProfile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read profiles dir %s: %w", dir, err)
	}

	profiles := make(map[string]*LedgerProfile)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		p, err := LoadProfile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if _, dup := profiles[p.Name]; dup {
			return nil, fmt.Errorf("duplicate profile name %q", p.Name)
		}
		profiles[p.Name] = p
	}
	return profiles, nil
}

// Validate checks structural invariants: non-empty name, unique module
// names, semver module versions, unique streams.
func (p *LedgerProfile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("profile name cannot be empty")
	}

	seenModules := make(map[string]bool)
	for _, m := range p.Modules {
		if m.Name == "" {
			return fmt.Errorf("module name cannot be empty")
		}
		if seenModules[m.Name] {
			return fmt.Errorf("duplicate module %q", m.Name)
		}
		seenModules[m.Name] = true
		if _, err := semver.NewVersion(m.Version); err != nil {
			return fmt.Errorf("module %q has invalid version %q: %w", m.Name, m.Version, err)
		}
	}

	seenStreams := make(map[string]bool)
	for _, s := range p.Streams {
		if s.Stream == "" {
			return fmt.Errorf("stream name cannot be empty")
		}
		if seenStreams[s.Stream] {
			return fmt.Errorf("duplicate stream %q", s.Stream)
		}
		seenStreams[s.Stream] = true
	}
	return nil
}

// StreamProfileFor returns the stream's profile, if any.
func (p *LedgerProfile) StreamProfileFor(stream string) (*StreamProfile, bool) {
	for i := range p.Streams {
		if p.Streams[i].Stream == stream {
			return &p.Streams[i], true
		}
	}
	return nil, false
}
