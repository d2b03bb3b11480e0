package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mend.yaml")
	if err := os.WriteFile(path, []byte("target:\n  id: before\n"), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, zerolog.Nop(), func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("target:\n  id: after\n"), 0o644); err != nil {
		t.Fatalf("Failed to rewrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Target.ID != "after" {
			t.Errorf("Expected reloaded target id after, got %s", cfg.Target.ID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Expected reload callback, got none")
	}
}

func TestWatcher_IgnoresInvalidChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mend.yaml")
	if err := os.WriteFile(path, []byte("target:\n  id: ok\n"), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, zerolog.Nop(), func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("run: ["), 0o644); err != nil {
		t.Fatalf("Failed to rewrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		t.Errorf("Expected no reload for invalid config, got %v", cfg.Target.ID)
	case <-time.After(500 * time.Millisecond):
	}
}
