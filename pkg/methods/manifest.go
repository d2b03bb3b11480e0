package methods

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openmend/openmend/pkg/remedy"
)

// Manifest is the parsed method manifest.
type Manifest struct {
	// Version is the manifest schema version.
	Version int `yaml:"version"`

	// Methods are the declared method entries.
	Methods []MethodSpec `yaml:"methods"`
}

// MethodSpec declares one remediation method.
type MethodSpec struct {
	// Name is the unique method name.
	Name string `yaml:"name"`

	// Kind selects the backend: "exec" or "wasm".
	Kind string `yaml:"kind"`

	// Risk is the declared risk tier.
	Risk remedy.RiskTier `yaml:"risk"`

	// Escalation marks the method as escalation-only.
	Escalation bool `yaml:"escalation"`

	// Prerequisites lists capability names that must be present on the
	// target for the method to be considered.
	Prerequisites []string `yaml:"prerequisites"`

	// BaseProbability is the starting success estimate in [0, 1].
	BaseProbability float64 `yaml:"base_probability"`

	// Boosts are capability-conditional probability deltas.
	Boosts []Boost `yaml:"boosts"`

	// Exec configures the exec backend. Required when Kind is "exec".
	Exec *ExecSpec `yaml:"exec,omitempty"`

	// WASM configures the WASM backend. Required when Kind is "wasm".
	WASM *WASMSpec `yaml:"wasm,omitempty"`
}

// Boost adds Delta to the estimated probability when the named capability is
// present. When Equals is non-empty the capability value must match it too.
type Boost struct {
	// Capability is the capability key to test.
	Capability string `yaml:"capability"`

	// Equals optionally constrains the capability value.
	Equals string `yaml:"equals,omitempty"`

	// Delta is added to the base probability on a match. May be negative.
	Delta float64 `yaml:"delta"`
}

// ExecSpec configures a command-backed method.
type ExecSpec struct {
	// Command is the executable or shell command line.
	Command string `yaml:"command"`

	// Args are passed verbatim. When empty, Command runs through the shell.
	Args []string `yaml:"args,omitempty"`

	// Shell overrides the default /bin/sh for shell-form commands.
	Shell string `yaml:"shell,omitempty"`

	// WorkDir sets the working directory.
	WorkDir string `yaml:"workdir,omitempty"`

	// Env sets additional environment variables.
	Env map[string]string `yaml:"env,omitempty"`

	// SuccessCodes are exit codes treated as success. Defaults to {0}.
	SuccessCodes []int `yaml:"success_codes,omitempty"`
}

// WASMSpec configures a WASM-plugin-backed method.
type WASMSpec struct {
	// Module is the path to the compiled module, relative to the plugin dir.
	Module string `yaml:"module"`

	// MemoryLimitPages caps the module's linear memory in 64KB pages.
	// Defaults to 256 pages (16MB).
	MemoryLimitPages uint32 `yaml:"memory_limit_pages,omitempty"`
}

// ScoreHook lets an external evaluator replace the additive capability
// scoring for a method. It receives the method name, the manifest-derived
// probability, and the target capabilities. The hook result is clamped to
// [0, 1]; hook errors fall back to the manifest-derived probability.
type ScoreHook func(ctx context.Context, method string, base float64, capabilities map[string]string) (float64, error)

// ParseManifest decodes and validates a method manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse method manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadManifest reads and parses a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read method manifest: %w", err)
	}
	return ParseManifest(data)
}

// ValidateManifest checks raw manifest bytes without building methods. It has
// the shape the updater expects for pre-apply validation.
func ValidateManifest(data []byte) error {
	_, err := ParseManifest(data)
	return err
}

// Validate checks the manifest for structural problems.
func (m *Manifest) Validate() error {
	if len(m.Methods) == 0 {
		return fmt.Errorf("manifest declares no methods")
	}

	seen := make(map[string]bool, len(m.Methods))
	for i := range m.Methods {
		spec := &m.Methods[i]
		if spec.Name == "" {
			return fmt.Errorf("method %d: name is required", i)
		}
		if seen[spec.Name] {
			return fmt.Errorf("method %s: duplicate name", spec.Name)
		}
		seen[spec.Name] = true

		if err := spec.Risk.Validate(); err != nil {
			return fmt.Errorf("method %s: %w", spec.Name, err)
		}
		if spec.BaseProbability < 0 || spec.BaseProbability > 1 {
			return fmt.Errorf("method %s: base_probability %v outside [0, 1]", spec.Name, spec.BaseProbability)
		}

		switch spec.Kind {
		case "exec":
			if spec.Exec == nil || spec.Exec.Command == "" {
				return fmt.Errorf("method %s: exec.command is required", spec.Name)
			}
		case "wasm":
			if spec.WASM == nil || spec.WASM.Module == "" {
				return fmt.Errorf("method %s: wasm.module is required", spec.Name)
			}
		default:
			return fmt.Errorf("method %s: unknown kind %q", spec.Name, spec.Kind)
		}

		for _, b := range spec.Boosts {
			if b.Capability == "" {
				return fmt.Errorf("method %s: boost capability is required", spec.Name)
			}
		}
	}
	return nil
}

// BuilderOptions configures candidate construction.
type BuilderOptions struct {
	// PluginDir is the base directory for WASM module paths.
	PluginDir string

	// Hook optionally refines probability estimates. Nil keeps the additive
	// manifest scoring.
	Hook ScoreHook

	// WASMTimeout bounds plugin instantiation. Defaults to 30s.
	WASMTimeout time.Duration
}

// BuildCandidates turns the manifest into registrable candidates. WASM
// modules are compiled eagerly so that a broken plugin fails at load time
// rather than mid-run.
func (m *Manifest) BuildCandidates(ctx context.Context, opts BuilderOptions) ([]remedy.Candidate, error) {
	candidates := make([]remedy.Candidate, 0, len(m.Methods))
	for i := range m.Methods {
		spec := &m.Methods[i]

		var (
			method remedy.Method
			err    error
		)
		switch spec.Kind {
		case "exec":
			method = NewExecMethod(spec, opts.Hook)
		case "wasm":
			modulePath := spec.WASM.Module
			if !filepath.IsAbs(modulePath) {
				modulePath = filepath.Join(opts.PluginDir, modulePath)
			}
			method, err = NewWASMMethod(ctx, spec, modulePath, opts)
			if err != nil {
				return nil, fmt.Errorf("method %s: %w", spec.Name, err)
			}
		}

		candidates = append(candidates, remedy.Candidate{
			Method:     method,
			Risk:       spec.Risk,
			Escalation: spec.Escalation,
		})
	}
	return candidates, nil
}

// scoreSpec computes the manifest-derived probability for a profile: the base
// plus the delta of every matching boost, clamped to [0, 1].
func scoreSpec(spec *MethodSpec, profile *remedy.ContextProfile) float64 {
	p := spec.BaseProbability
	for _, b := range spec.Boosts {
		v, ok := profile.Capabilities[b.Capability]
		if !ok {
			continue
		}
		if b.Equals != "" && v != b.Equals {
			continue
		}
		p += b.Delta
	}
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return p
}

// applyHook runs the score hook when present, falling back to the manifest
// score on error.
func applyHook(hook ScoreHook, name string, base float64, profile *remedy.ContextProfile) float64 {
	if hook == nil {
		return base
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p, err := hook(ctx, name, base, profile.Capabilities)
	if err != nil {
		return base
	}
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return p
}
