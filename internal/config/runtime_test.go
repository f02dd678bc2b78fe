package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadRuntimeMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadRuntime(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("LoadRuntime: %v", err)
	}
	if time.Duration(cfg.TickPeriod) != 10*time.Millisecond {
		t.Errorf("TickPeriod = %s, want 10ms default", cfg.TickPeriod)
	}
}

func TestLoadRuntimeOverlaysFileFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runtime.yaml")
	content := "tick_period: 50ms\nlog_level: debug\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadRuntime(path)
	if err != nil {
		t.Fatalf("LoadRuntime: %v", err)
	}
	if time.Duration(cfg.TickPeriod) != 50*time.Millisecond {
		t.Errorf("TickPeriod = %s, want 50ms", cfg.TickPeriod)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestLoadRuntimeRejectsNonPositiveTickPeriod(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runtime.yaml")
	if err := os.WriteFile(path, []byte("tick_period: 0s\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadRuntime(path); err == nil {
		t.Fatal("expected error for zero tick_period")
	}
}
