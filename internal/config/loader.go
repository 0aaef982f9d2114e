package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/aristath/composer/internal/flow"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*ComposerConfig, error) {
	// Start with defaults
	cfg := DefaultConfig()

	// Merge global config if exists
	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	// Merge project config if exists (highest precedence)
	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	if cfg.Journal.Path == "" {
		cfg.Journal.Path = DefaultJournalPath()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GlobalPath returns the per-user config file path.
func GlobalPath() string {
	return filepath.Join(xdg.ConfigHome, "composer", "config.json")
}

// ProjectPath returns the project config file path relative to cwd.
func ProjectPath() string {
	return filepath.Join(".composer", "config.json")
}

// DefaultJournalPath returns the default run history database path.
func DefaultJournalPath() string {
	return filepath.Join(xdg.DataHome, "composer", "journal.db")
}

// Validate reports configuration values that cannot be used.
func (c *ComposerConfig) Validate() error {
	if _, err := flow.ParsePolicy(c.DefaultFlow); err != nil {
		return fmt.Errorf("default_flow: %w", err)
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative, got %d", c.Concurrency)
	}
	if c.Watch.DebounceMS < 0 {
		return fmt.Errorf("watch.debounce_ms must not be negative, got %d", c.Watch.DebounceMS)
	}
	if c.Shell == "" {
		return fmt.Errorf("shell must not be empty")
	}
	return nil
}

// mergeConfigFile reads a JSON config file and overlays it onto the base
// config. Keys absent from the file keep their current value; env entries
// are merged by key. Missing files are silently skipped.
func mergeConfigFile(base *ComposerConfig, path string) error {
	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // Missing file is not an error
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	if err := json.Unmarshal(data, base); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}
