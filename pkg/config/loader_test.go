package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault_Validates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected default config to validate, got %v", err)
	}
	if cfg.Run.MaxCycles != 10 {
		t.Errorf("Expected default max cycles 10, got %d", cfg.Run.MaxCycles)
	}
	if cfg.Run.Strategy != "conservative" {
		t.Errorf("Expected default strategy conservative, got %s", cfg.Run.Strategy)
	}
}

func TestParse_OverridesDefaults(t *testing.T) {
	data := []byte(`
target:
  id: device-01
  capabilities:
    shell: "true"
run:
  max_cycles: 3
  strategy: balanced
daemon:
  queue_capacity: 64
`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Expected parse to succeed, got %v", err)
	}
	if cfg.Target.ID != "device-01" {
		t.Errorf("Expected target id device-01, got %s", cfg.Target.ID)
	}
	if cfg.Run.MaxCycles != 3 {
		t.Errorf("Expected max cycles 3, got %d", cfg.Run.MaxCycles)
	}
	if cfg.Run.Strategy != "balanced" {
		t.Errorf("Expected strategy balanced, got %s", cfg.Run.Strategy)
	}
	if cfg.Daemon.QueueCapacity != 64 {
		t.Errorf("Expected queue capacity 64, got %d", cfg.Daemon.QueueCapacity)
	}
	// Untouched fields keep defaults.
	if cfg.Run.FailureThreshold != 3 {
		t.Errorf("Expected default failure threshold 3, got %d", cfg.Run.FailureThreshold)
	}
	if cfg.Audit.HistorySize != 256 {
		t.Errorf("Expected default history size 256, got %d", cfg.Audit.HistorySize)
	}
}

func TestParse_RejectsBadStrategy(t *testing.T) {
	data := []byte(`
run:
  strategy: reckless
`)
	if _, err := Parse(data); err == nil {
		t.Fatal("Expected validation error for unknown strategy, got nil")
	}
}

func TestParse_RejectsBackoffInversion(t *testing.T) {
	data := []byte(`
run:
  backoff_base: 2m
  backoff_cap: 30s
`)
	if _, err := Parse(data); err == nil {
		t.Fatal("Expected validation error for backoff base above cap, got nil")
	}
}

func TestParse_RejectsMalformedYAML(t *testing.T) {
	if _, err := Parse([]byte("run: [")); err == nil {
		t.Fatal("Expected parse error for malformed YAML, got nil")
	}
}

func TestParse_UpdateRequiresHost(t *testing.T) {
	data := []byte(`
methods:
  update:
    enabled: true
`)
	if _, err := Parse(data); err == nil {
		t.Fatal("Expected validation error for enabled update without host, got nil")
	}
}

func TestLoad_ReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mend.yaml")
	content := []byte("target:\n  id: t-1\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Expected load to succeed, got %v", err)
	}
	if cfg.Target.ID != "t-1" {
		t.Errorf("Expected target id t-1, got %s", cfg.Target.ID)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Expected error for missing file, got nil")
	}
}

func TestTelemetryConfig_ToTelemetry(t *testing.T) {
	cfg := Default()
	cfg.Telemetry.LogLevel = "debug"
	cfg.Telemetry.MetricsEnabled = false

	tc := cfg.Telemetry.ToTelemetry("1.2.3")
	if tc.ServiceVersion != "1.2.3" {
		t.Errorf("Expected version 1.2.3, got %s", tc.ServiceVersion)
	}
	if tc.Logging.Level != "debug" {
		t.Errorf("Expected log level debug, got %s", tc.Logging.Level)
	}
	if tc.Metrics.Enabled {
		t.Error("Expected metrics disabled")
	}
}

func TestParse_DurationsDecoded(t *testing.T) {
	data := []byte(`
daemon:
  monitor_interval: 250ms
  stop_timeout: 2s
`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Expected parse to succeed, got %v", err)
	}
	if cfg.Daemon.MonitorInterval.Std() != 250*time.Millisecond {
		t.Errorf("Expected monitor interval 250ms, got %v", cfg.Daemon.MonitorInterval)
	}
	if cfg.Daemon.StopTimeout.Std() != 2*time.Second {
		t.Errorf("Expected stop timeout 2s, got %v", cfg.Daemon.StopTimeout)
	}
}
