package commands

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openmend/openmend/pkg/config"
)

func TestConfigSource_WatchSwapsSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mend.yaml")
	if err := os.WriteFile(path, []byte("target:\n  id: before\n"), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	source := newConfigSource(cfg)
	if source.Load().Target.ID != "before" {
		t.Fatalf("Expected initial target id before, got %s", source.Load().Target.ID)
	}

	w, err := source.Watch(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to start config watch: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("target:\n  id: after\n"), 0o644); err != nil {
		t.Fatalf("Failed to rewrite config: %v", err)
	}

	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-deadline:
			t.Fatalf("Expected snapshot to pick up new target id, still %s", source.Load().Target.ID)
		case <-tick.C:
			if source.Load().Target.ID == "after" {
				return
			}
		}
	}
}
