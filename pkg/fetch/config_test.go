package fetch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	keyPath := filepath.Join(t.TempDir(), "id_test")
	if err := os.WriteFile(keyPath, []byte("placeholder"), 0o600); err != nil {
		t.Fatalf("Failed to write key file: %v", err)
	}

	cfg := DefaultConfig("manifests.example.com", "mend", "/srv/mend/methods.yaml")
	cfg.PrivateKeyPath = keyPath
	cfg.StrictHostKeyChecking = false
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	cfg := testConfig(t)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected valid config, got %v", err)
	}
}

func TestConfig_Validate_Rejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing host", func(c *Config) { c.Host = "" }},
		{"bad port", func(c *Config) { c.Port = 0 }},
		{"port too large", func(c *Config) { c.Port = 70000 }},
		{"missing user", func(c *Config) { c.User = "" }},
		{"missing remote path", func(c *Config) { c.RemotePath = "" }},
		{"no auth", func(c *Config) { c.PrivateKeyPath = ""; c.Password = "" }},
		{"missing key file", func(c *Config) { c.PrivateKeyPath = "/no/such/key" }},
		{"zero timeout", func(c *Config) { c.ConnectionTimeout = 0 }},
	}

	for _, tc := range cases {
		cfg := testConfig(t)
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("Expected %s to be rejected, got nil error", tc.name)
		}
	}
}

func TestConfig_PasswordOnlyAllowed(t *testing.T) {
	cfg := testConfig(t)
	cfg.PrivateKeyPath = ""
	cfg.Password = "secret"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected password-only config to validate, got %v", err)
	}
}

func TestConfig_Address(t *testing.T) {
	cfg := testConfig(t)
	cfg.Port = 2222
	if addr := cfg.Address(); addr != "manifests.example.com:2222" {
		t.Errorf("Expected manifests.example.com:2222, got %s", addr)
	}
}

func TestConfig_DefaultTimeout(t *testing.T) {
	cfg := DefaultConfig("h", "u", "/p")
	if cfg.ConnectionTimeout != 30*time.Second {
		t.Errorf("Expected 30s default timeout, got %v", cfg.ConnectionTimeout)
	}
	if cfg.Port != 22 {
		t.Errorf("Expected default port 22, got %d", cfg.Port)
	}
}

func TestSFTPSource_SeedAndMatches(t *testing.T) {
	src, err := NewSFTPSource(testConfig(t), zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create source: %v", err)
	}

	data := []byte("methods:\n  - name: a\n")
	if src.Matches(data) {
		t.Error("Expected no match before seeding")
	}

	src.Seed(data)
	if !src.Matches(data) {
		t.Error("Expected match after seeding identical content")
	}
	if src.Matches([]byte("different")) {
		t.Error("Expected no match for different content")
	}
}

func TestNewSFTPSource_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Host = ""
	if _, err := NewSFTPSource(cfg, zerolog.Nop()); err == nil {
		t.Fatal("Expected error for invalid config, got nil")
	}
}
