package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Default returns a configuration with every tunable at its default.
func Default() *Config {
	return &Config{
		Target: TargetConfig{
			ID:           "local",
			Capabilities: map[string]string{},
		},
		Run: RunConfig{
			MaxCycles:        10,
			FailureThreshold: 3,
			BackoffBase:      Duration(2 * time.Second),
			BackoffCap:       Duration(60 * time.Second),
			TimeoutCeiling:   Duration(30 * time.Second),
			Strategy:         "conservative",
		},
		Daemon: DaemonConfig{
			MonitorInterval:  Duration(time.Second),
			UpdateInterval:   Duration(15 * time.Minute),
			PopTimeout:       Duration(500 * time.Millisecond),
			StopTimeout:      Duration(5 * time.Second),
			QueueCapacity:    1024,
			DiskPath:         "/",
			MinDiskFreeRatio: 0.05,
		},
		Audit: AuditConfig{
			HistorySize: 256,
		},
		Methods: MethodsConfig{
			Update: UpdateConfig{
				SFTPPort: 22,
			},
		},
		Policy: PolicyConfig{
			DenyVeryHighRisk: true,
		},
		Telemetry: TelemetryConfig{
			LogLevel:         "info",
			LogFormat:        "console",
			LogOutput:        "stdout",
			MetricsNamespace: "openmend",
		},
	}
}

// Load reads, merges over defaults, and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML content over the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration's structural constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Run.BackoffCap > 0 && c.Run.BackoffBase > c.Run.BackoffCap {
		return fmt.Errorf("invalid configuration: backoff_base exceeds backoff_cap")
	}
	return nil
}
