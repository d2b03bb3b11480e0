package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openmend/openmend/pkg/telemetry"
)

// Duration is a time.Duration that reads from YAML as either a duration
// string ("500ms", "2s") or a bare integer of nanoseconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// String implements fmt.Stringer.
func (d Duration) String() string { return time.Duration(d).String() }

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value %q", value.Value)
	}
	*d = Duration(n)
	return nil
}

// Config is the root openmend configuration.
type Config struct {
	// Target identifies the managed target this instance remediates.
	Target TargetConfig `yaml:"target"`

	// Run tunes the orchestration loop.
	Run RunConfig `yaml:"run"`

	// Daemon tunes the event daemon.
	Daemon DaemonConfig `yaml:"daemon"`

	// Audit configures record persistence.
	Audit AuditConfig `yaml:"audit"`

	// Methods configures method manifests and plugins.
	Methods MethodsConfig `yaml:"methods"`

	// Policy configures the risk policy gate.
	Policy PolicyConfig `yaml:"policy"`

	// Telemetry configures logging, tracing, and metrics.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// TargetConfig identifies and describes the managed target.
type TargetConfig struct {
	// ID uniquely names the target.
	ID string `yaml:"id" validate:"required"`

	// Capabilities seeds the context profile's capability set.
	Capabilities map[string]string `yaml:"capabilities,omitempty"`

	// DetectCommand is the shell command that observes target state. It
	// prints one of unknown, not_converged, partially_converged, or
	// converged on stdout.
	DetectCommand string `yaml:"detect_command"`

	// TerminalMarker is a file path whose existence marks the target as
	// irrecoverable. Empty disables the marker probe.
	TerminalMarker string `yaml:"terminal_marker,omitempty"`
}

// RunConfig tunes the orchestration loop.
type RunConfig struct {
	// MaxCycles is the cycle budget per run.
	MaxCycles int `yaml:"max_cycles" validate:"omitempty,min=1"`

	// FailureThreshold is the consecutive-failure count before the
	// escalation set widens.
	FailureThreshold int `yaml:"failure_threshold" validate:"omitempty,min=1"`

	// BackoffBase is the first inter-cycle delay.
	BackoffBase Duration `yaml:"backoff_base"`

	// BackoffCap bounds the inter-cycle delay.
	BackoffCap Duration `yaml:"backoff_cap"`

	// TimeoutCeiling is the initial per-method execution ceiling.
	TimeoutCeiling Duration `yaml:"timeout_ceiling"`

	// Strategy is the initial strategy tier.
	Strategy string `yaml:"strategy" validate:"omitempty,oneof=conservative balanced aggressive experimental"`
}

// DaemonConfig tunes the event daemon.
type DaemonConfig struct {
	// MonitorInterval is the monitor unit's poll tick.
	MonitorInterval Duration `yaml:"monitor_interval"`

	// UpdateInterval is the update unit's check tick.
	UpdateInterval Duration `yaml:"update_interval"`

	// PopTimeout bounds each queue wait.
	PopTimeout Duration `yaml:"pop_timeout"`

	// StopTimeout bounds the shutdown join.
	StopTimeout Duration `yaml:"stop_timeout"`

	// QueueCapacity bounds the event queue.
	QueueCapacity int `yaml:"queue_capacity" validate:"omitempty,min=1"`

	// HeapLimitBytes trips the memory probe.
	HeapLimitBytes uint64 `yaml:"heap_limit_bytes"`

	// DiskPath is the filesystem checked by the disk probe.
	DiskPath string `yaml:"disk_path"`

	// MinDiskFreeRatio trips the disk probe.
	MinDiskFreeRatio float64 `yaml:"min_disk_free_ratio" validate:"omitempty,gt=0,lt=1"`
}

// AuditConfig configures record persistence.
type AuditConfig struct {
	// DatabasePath is the SQLite file. Empty disables durable storage.
	DatabasePath string `yaml:"database_path"`

	// HistorySize bounds the in-memory record history.
	HistorySize int `yaml:"history_size" validate:"omitempty,min=1"`
}

// MethodsConfig configures the method set.
type MethodsConfig struct {
	// ManifestPath is the YAML manifest of declarative methods.
	ManifestPath string `yaml:"manifest_path"`

	// PluginDir holds WASM method plugins.
	PluginDir string `yaml:"plugin_dir"`

	// ScoringHook is an optional Starlark script adjusting probability
	// estimates.
	ScoringHook string `yaml:"scoring_hook"`

	// Update configures the manifest update source.
	Update UpdateConfig `yaml:"update"`
}

// UpdateConfig configures where the update unit fetches manifests from.
type UpdateConfig struct {
	// Enabled turns the update unit on.
	Enabled bool `yaml:"enabled"`

	// SFTPHost is the remote host serving manifests.
	SFTPHost string `yaml:"sftp_host" validate:"required_if=Enabled true"`

	// SFTPPort is the remote SSH port.
	SFTPPort int `yaml:"sftp_port" validate:"omitempty,min=1,max=65535"`

	// SFTPUser is the SSH user.
	SFTPUser string `yaml:"sftp_user"`

	// SFTPKeyPath is the private key file.
	SFTPKeyPath string `yaml:"sftp_key_path"`

	// RemotePath is the manifest path on the remote host.
	RemotePath string `yaml:"remote_path"`
}

// PolicyConfig configures the risk policy gate.
type PolicyConfig struct {
	// Dir holds additional rego policy files.
	Dir string `yaml:"dir"`

	// DenyVeryHighRisk blocks very-high-risk methods outside the
	// experimental strategy even when no custom policy says so.
	DenyVeryHighRisk bool `yaml:"deny_very_high_risk"`
}

// TelemetryConfig is the YAML surface of the telemetry stack.
type TelemetryConfig struct {
	LogLevel         string  `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn error fatal"`
	LogFormat        string  `yaml:"log_format" validate:"omitempty,oneof=console json"`
	LogOutput        string  `yaml:"log_output"`
	TracingEnabled   bool    `yaml:"tracing_enabled"`
	TracingExporter  string  `yaml:"tracing_exporter" validate:"omitempty,oneof=otlp stdout none"`
	TracingEndpoint  string  `yaml:"tracing_endpoint"`
	SamplingRate     float64 `yaml:"sampling_rate" validate:"omitempty,gte=0,lte=1"`
	MetricsEnabled   bool    `yaml:"metrics_enabled"`
	MetricsListen    string  `yaml:"metrics_listen"`
	MetricsNamespace string  `yaml:"metrics_namespace"`
}

// ToTelemetry maps the YAML surface onto a full telemetry configuration,
// starting from defaults.
func (t TelemetryConfig) ToTelemetry(version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	if t.LogLevel != "" {
		cfg.Logging.Level = t.LogLevel
	}
	if t.LogFormat != "" {
		cfg.Logging.Format = t.LogFormat
	}
	if t.LogOutput != "" {
		cfg.Logging.Output = t.LogOutput
	}
	cfg.Tracing.Enabled = t.TracingEnabled
	if t.TracingExporter != "" {
		cfg.Tracing.Exporter = t.TracingExporter
	}
	if t.TracingEndpoint != "" {
		cfg.Tracing.Endpoint = t.TracingEndpoint
	}
	if t.SamplingRate > 0 {
		cfg.Tracing.SamplingRate = t.SamplingRate
	}
	cfg.Metrics.Enabled = t.MetricsEnabled
	if t.MetricsListen != "" {
		cfg.Metrics.ListenAddress = t.MetricsListen
	}
	if t.MetricsNamespace != "" {
		cfg.Metrics.Namespace = t.MetricsNamespace
	}
	return cfg
}
