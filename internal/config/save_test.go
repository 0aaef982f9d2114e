package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestSaveCreatesFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	cfg := DefaultConfig()
	cfg.Concurrency = 3

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}

	var loaded ComposerConfig
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("Config file contains invalid JSON: %v", err)
	}

	if loaded.Concurrency != 3 {
		t.Errorf("Expected concurrency 3, got %d", loaded.Concurrency)
	}
}

func TestSaveCreatesParentDir(t *testing.T) {
	tmpDir := t.TempDir()
	// Nested path that doesn't exist yet
	path := filepath.Join(tmpDir, "nested", "deep", "config.json")

	if err := Save(DefaultConfig(), path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Fatalf("Config file was not created: %s", path)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	cfg := &ComposerConfig{
		DefaultFlow: "settleParallel",
		Concurrency: 8,
		Composefile: "tasks.yaml",
		Shell:       "bash",
		Env:         map[string]string{"GOFLAGS": "-mod=mod"},
		Watch:       WatchConfig{DebounceMS: 40},
		Journal:     JournalConfig{Enabled: true, Path: filepath.Join(tmpDir, "journal.db")},
		Tracing:     TracingConfig{Enabled: true, Output: "stdout"},
	}

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.DefaultFlow != "settleParallel" {
		t.Errorf("default_flow mismatch: got %q", loaded.DefaultFlow)
	}
	if loaded.Concurrency != 8 || loaded.Shell != "bash" || loaded.Composefile != "tasks.yaml" {
		t.Errorf("scalar fields mismatch: %+v", loaded)
	}
	if loaded.Env["GOFLAGS"] != "-mod=mod" {
		t.Errorf("env mismatch: got %v", loaded.Env)
	}
	if loaded.Watch.DebounceMS != 40 {
		t.Errorf("debounce mismatch: got %d", loaded.Watch.DebounceMS)
	}
	if !loaded.Journal.Enabled || loaded.Journal.Path != cfg.Journal.Path {
		t.Errorf("journal mismatch: got %+v", loaded.Journal)
	}
	if !loaded.Tracing.Enabled || loaded.Tracing.Output != "stdout" {
		t.Errorf("tracing mismatch: got %+v", loaded.Tracing)
	}
}

func TestSaveOverwritesExisting(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	cfg1 := DefaultConfig()
	cfg1.Shell = "first-value"
	if err := Save(cfg1, path); err != nil {
		t.Fatalf("First save failed: %v", err)
	}

	cfg2 := DefaultConfig()
	cfg2.Shell = "second-value"
	if err := Save(cfg2, path); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}

	loaded, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Shell != "second-value" {
		t.Errorf("Expected 'second-value', got '%s'", loaded.Shell)
	}
}
