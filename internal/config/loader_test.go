package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aristath/composer/internal/flow"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name          string
		globalConfig  string
		projectConfig string
		check         func(t *testing.T, cfg *ComposerConfig)
		expectError   string
	}{
		{
			name: "No config files - returns defaults",
			check: func(t *testing.T, cfg *ComposerConfig) {
				if cfg.DefaultFlow != "series" {
					t.Errorf("default_flow = %q, want series", cfg.DefaultFlow)
				}
				if cfg.Watch.DebounceMS != 100 {
					t.Errorf("debounce_ms = %d, want 100", cfg.Watch.DebounceMS)
				}
				if cfg.Composefile != "composer.yaml" {
					t.Errorf("composefile = %q, want composer.yaml", cfg.Composefile)
				}
				if cfg.Journal.Path == "" {
					t.Error("expected journal path to default to the data directory")
				}
			},
		},
		{
			name:         "Global only - overlays present keys",
			globalConfig: `{"concurrency": 4, "watch": {"debounce_ms": 250}}`,
			check: func(t *testing.T, cfg *ComposerConfig) {
				if cfg.Concurrency != 4 {
					t.Errorf("concurrency = %d, want 4", cfg.Concurrency)
				}
				if cfg.Watch.DebounceMS != 250 {
					t.Errorf("debounce_ms = %d, want 250", cfg.Watch.DebounceMS)
				}
				if cfg.Shell != "sh" {
					t.Errorf("shell = %q, want default sh", cfg.Shell)
				}
			},
		},
		{
			name:          "Project overrides global - project wins",
			globalConfig:  `{"default_flow": "parallel", "env": {"A": "global", "B": "global"}}`,
			projectConfig: `{"default_flow": "settleSeries", "env": {"B": "project"}}`,
			check: func(t *testing.T, cfg *ComposerConfig) {
				if cfg.Policy() != flow.SettleSeries {
					t.Errorf("policy = %q, want settleSeries", cfg.Policy())
				}
				if cfg.Env["A"] != "global" || cfg.Env["B"] != "project" {
					t.Errorf("env = %v, want A from global and B from project", cfg.Env)
				}
			},
		},
		{
			name:          "Journal and tracing",
			projectConfig: `{"journal": {"enabled": true, "path": "/tmp/j.db"}, "tracing": {"enabled": true, "output": "stdout"}}`,
			check: func(t *testing.T, cfg *ComposerConfig) {
				if !cfg.Journal.Enabled || cfg.Journal.Path != "/tmp/j.db" {
					t.Errorf("journal = %+v", cfg.Journal)
				}
				if !cfg.Tracing.Enabled || cfg.Tracing.Output != "stdout" {
					t.Errorf("tracing = %+v", cfg.Tracing)
				}
			},
		},
		{
			name:          "Unknown flow is rejected",
			projectConfig: `{"default_flow": "sideways"}`,
			expectError:   "default_flow",
		},
		{
			name:         "Negative concurrency is rejected",
			globalConfig: `{"concurrency": -1}`,
			expectError:  "concurrency",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Create temp directory for test configs
			tmpDir := t.TempDir()

			globalPath := ""
			if tt.globalConfig != "" {
				globalPath = filepath.Join(tmpDir, "global.json")
				if err := os.WriteFile(globalPath, []byte(tt.globalConfig), 0644); err != nil {
					t.Fatalf("writing global config: %v", err)
				}
			}

			projectPath := ""
			if tt.projectConfig != "" {
				projectPath = filepath.Join(tmpDir, "project.json")
				if err := os.WriteFile(projectPath, []byte(tt.projectConfig), 0644); err != nil {
					t.Fatalf("writing project config: %v", err)
				}
			}

			cfg, err := Load(globalPath, projectPath)
			if tt.expectError != "" {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.expectError) {
					t.Errorf("error %q does not mention %q", err.Error(), tt.expectError)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestLoad_MalformedJSON(t *testing.T) {
	tmpDir := t.TempDir()

	globalPath := filepath.Join(tmpDir, "global.json")
	if err := os.WriteFile(globalPath, []byte("{invalid json"), 0644); err != nil {
		t.Fatalf("writing malformed config: %v", err)
	}

	_, err := Load(globalPath, "")
	if err == nil {
		t.Fatal("expected error for malformed JSON, got nil")
	}

	// Error should mention the file
	if !strings.Contains(err.Error(), globalPath) {
		t.Errorf("expected error to mention %s, got %q", globalPath, err.Error())
	}
}

func TestLoad_MissingFilesNotError(t *testing.T) {
	cfg, err := Load("/nonexistent/global.json", "/nonexistent/project.json")
	if err != nil {
		t.Fatalf("expected no error for missing files, got: %v", err)
	}

	if cfg.Policy() != flow.Series {
		t.Errorf("policy = %q, want series", cfg.Policy())
	}
	if cfg.Debounce().Milliseconds() != 100 {
		t.Errorf("debounce = %v, want 100ms", cfg.Debounce())
	}
}

func TestConventionalPaths(t *testing.T) {
	if !strings.HasSuffix(GlobalPath(), filepath.Join("composer", "config.json")) {
		t.Errorf("unexpected global path %q", GlobalPath())
	}
	if ProjectPath() != filepath.Join(".composer", "config.json") {
		t.Errorf("unexpected project path %q", ProjectPath())
	}
	if !strings.HasSuffix(DefaultJournalPath(), filepath.Join("composer", "journal.db")) {
		t.Errorf("unexpected journal path %q", DefaultJournalPath())
	}
}
