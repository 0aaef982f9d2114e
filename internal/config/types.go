package config

import (
	"time"

	"github.com/aristath/composer/internal/flow"
)

// WatchConfig tunes the file watcher used by watch mode.
type WatchConfig struct {
	DebounceMS int `json:"debounce_ms"` // Quiet period before a change batch is delivered
}

// JournalConfig controls the run history database.
type JournalConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"` // Defaults to $XDG_DATA_HOME/composer/journal.db
}

// TracingConfig controls OpenTelemetry span export.
type TracingConfig struct {
	Enabled bool   `json:"enabled"`
	Output  string `json:"output,omitempty"` // "stdout", "stderr" or a file path
}

// ComposerConfig is the top-level configuration.
type ComposerConfig struct {
	DefaultFlow string            `json:"default_flow"`  // Top-level policy for runs
	Concurrency int               `json:"concurrency"`   // Parallel group limit, 0 for unbounded
	Composefile string            `json:"composefile"`   // Task file loaded by the CLI
	Shell       string            `json:"shell"`         // Interpreter for composefile commands
	Env         map[string]string `json:"env,omitempty"` // Extra environment for commands
	Watch       WatchConfig       `json:"watch"`
	Journal     JournalConfig     `json:"journal"`
	Tracing     TracingConfig     `json:"tracing"`
}

// Policy returns the configured default flow. Validate reports bad values;
// here they fall back to series.
func (c *ComposerConfig) Policy() flow.Policy {
	p, err := flow.ParsePolicy(c.DefaultFlow)
	if err != nil {
		return flow.Series
	}
	return p
}

// Debounce returns the watch debounce window.
func (c *ComposerConfig) Debounce() time.Duration {
	return time.Duration(c.Watch.DebounceMS) * time.Millisecond
}
