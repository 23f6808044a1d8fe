// Package config holds the runtime configuration for the lune-but-weird
// tool: file-type constants and the lune.yaml debug-session settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// BreakpointSpec is a breakpoint declared in lune.yaml
type BreakpointSpec struct {
	File string `yaml:"file"`
	Line int    `yaml:"line"`
}

// Config represents the top-level lune.yaml configuration
type Config struct {
	// Listen is the remote debug server address ("" disables the server)
	Listen string `yaml:"listen,omitempty"`

	// Journal is the path of the SQLite mutation journal ("" disables it)
	Journal string `yaml:"journal,omitempty"`

	// Breakpoints are set before the program starts
	Breakpoints []BreakpointSpec `yaml:"breakpoints,omitempty"`

	// Debug enables verbose logging
	Debug bool `yaml:"debug,omitempty"`

	// NoColor disables colored output
	NoColor bool `yaml:"no_color,omitempty"`
}

// LoadConfig reads and parses a lune.yaml file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return ParseConfig(data, path)
}

// ParseConfig parses lune.yaml content from bytes.
// The path argument is used only for error messages.
func ParseConfig(data []byte, path string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.validate(path); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FindConfig searches for lune.yaml starting from dir and walking up to
// parent directories. Returns the config path, or empty string when no
// config exists anywhere up the tree.
func FindConfig(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving directory: %w", err)
	}

	for {
		candidate := filepath.Join(dir, DefaultConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

func (c *Config) validate(path string) error {
	for i, bp := range c.Breakpoints {
		if bp.File == "" {
			return fmt.Errorf("%s: breakpoint %d has no file", path, i)
		}
		if bp.Line <= 0 {
			return fmt.Errorf("%s: breakpoint %d has invalid line %d", path, i, bp.Line)
		}
	}
	return nil
}

// IsBundleFile reports whether path has a recognized bundle extension
func IsBundleFile(path string) bool {
	ext := filepath.Ext(path)
	for _, known := range BundleFileExtensions {
		if ext == known {
			return true
		}
	}
	return false
}
