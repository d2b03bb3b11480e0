package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/openmend/openmend/pkg/audit"
	"github.com/openmend/openmend/pkg/config"
	"github.com/openmend/openmend/pkg/methods"
	"github.com/openmend/openmend/pkg/policy"
	"github.com/openmend/openmend/pkg/remedy"
	"github.com/openmend/openmend/pkg/telemetry"
)

// loadConfig reads the config file from the --config flag, falling back to
// defaults when no file is given.
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

// buildTelemetry constructs the logger, tracer, and metrics stack.
func buildTelemetry(cfg *config.Config, version string) (*telemetry.Telemetry, error) {
	tc := cfg.Telemetry.ToTelemetry(version)
	if verbose {
		tc.Logging.Level = "debug"
	}
	return telemetry.NewTelemetry(tc)
}

// buildRecorder opens the audit store and wraps it in a recorder.
func buildRecorder(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry) (*audit.Recorder, *audit.SQLiteStore, error) {
	store, err := audit.NewSQLiteStore(audit.SQLiteConfig{Path: cfg.Audit.DatabasePath})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open audit store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to initialize audit store: %w", err)
	}

	recorder := audit.NewRecorder(store, cfg.Audit.HistorySize, tel.Logger.Zerolog())
	return recorder, store, nil
}

// buildScoreHook loads the Starlark scoring hook when configured.
func buildScoreHook(cfg *config.Config) (methods.ScoreHook, error) {
	if cfg.Methods.ScoringHook == "" {
		return nil, nil
	}

	script, err := os.ReadFile(cfg.Methods.ScoringHook)
	if err != nil {
		return nil, fmt.Errorf("failed to read scoring hook: %w", err)
	}

	eval := config.NewStarlarkEvaluator(5 * time.Second)
	hook := func(ctx context.Context, method string, base float64, capabilities map[string]string) (float64, error) {
		return eval.ScoreHook(ctx, string(script), method, base, capabilities)
	}
	return hook, nil
}

// buildRegistry loads the method manifest, builds candidates, and attaches
// gate when one is given. Callers own the gate's lifecycle so the daemon can
// share one engine across triggered runs.
func buildRegistry(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry, gate remedy.PolicyGate) (*remedy.Registry, error) {
	manifest, err := methods.LoadManifest(cfg.Methods.ManifestPath)
	if err != nil {
		return nil, err
	}

	hook, err := buildScoreHook(cfg)
	if err != nil {
		return nil, err
	}

	candidates, err := manifest.BuildCandidates(ctx, methods.BuilderOptions{
		PluginDir: cfg.Methods.PluginDir,
		Hook:      hook,
	})
	if err != nil {
		return nil, err
	}

	logger := tel.Logger.Zerolog()
	registry := remedy.NewRegistry(logger)
	for _, c := range candidates {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register method %s: %w", c.Name(), err)
		}
	}

	if gate != nil {
		registry.WithPolicyGate(gate)
	}

	return registry, nil
}

// buildPolicyGate creates the policy engine with built-in and file policies.
func buildPolicyGate(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry) (*policy.Engine, error) {
	engine, err := policy.NewEngine(tel.Logger.Zerolog(), cfg.Policy.DenyVeryHighRisk)
	if err != nil {
		return nil, err
	}
	if cfg.Policy.Dir != "" {
		if err := engine.LoadPolicies(ctx, []string{cfg.Policy.Dir}); err != nil {
			return nil, err
		}
	}
	return engine, nil
}

// buildTerminalDetector assembles the terminal probes: the operator marker
// file, the irrecoverable-signature scan over recent audit records, and the
// all-liveness-checks-failing structural check.
func buildTerminalDetector(cfg *config.Config, tel *telemetry.Telemetry, recorder *audit.Recorder, detector remedy.StateDetector) *remedy.SignatureDetector {
	var probes []remedy.Probe
	if cfg.Target.TerminalMarker != "" {
		probes = append(probes, remedy.FileMarkerProbe(cfg.Target.TerminalMarker))
	}
	if recorder != nil {
		probes = append(probes, remedy.DiagnosticProbe(func() []string {
			var texts []string
			for _, a := range recorder.RecentAttempts() {
				if a.Error != "" {
					texts = append(texts, a.Error)
				}
			}
			for _, e := range recorder.RecentEvents() {
				texts = append(texts, e.Message)
			}
			return texts
		}))
	}

	diskPath := cfg.Daemon.DiskPath
	if diskPath == "" {
		diskPath = "/"
	}
	checks := []remedy.LivenessCheck{
		{Name: "filesystem", Check: func(_ context.Context) bool {
			_, err := os.Stat(diskPath)
			return err == nil
		}},
	}
	if detector != nil {
		checks = append(checks, remedy.LivenessCheck{Name: "state_detection", Check: func(ctx context.Context) bool {
			_, err := detector.DetectState(ctx)
			return err == nil
		}})
	}
	probes = append(probes, remedy.LivenessProbe(checks...))

	return remedy.NewSignatureDetector(tel.Logger.Zerolog(), probes...)
}

// buildProfile seeds a fresh context profile from the configuration.
func buildProfile(cfg *config.Config) *remedy.ContextProfile {
	caps := make(map[string]string, len(cfg.Target.Capabilities))
	for k, v := range cfg.Target.Capabilities {
		caps[k] = v
	}
	strategy := remedy.Strategy(cfg.Run.Strategy)
	if strategy == "" {
		strategy = remedy.StrategyConservative
	}
	return &remedy.ContextProfile{
		TargetID:       cfg.Target.ID,
		Capabilities:   caps,
		State:          remedy.StateUnknown,
		Strategy:       strategy,
		MaxCycles:      cfg.Run.MaxCycles,
		TimeoutCeiling: cfg.Run.TimeoutCeiling.Std(),
		Seed:           time.Now().UnixNano(),
	}
}

// orchestratorOptions maps run configuration onto engine options.
func orchestratorOptions(cfg *config.Config) remedy.OrchestratorOptions {
	return remedy.OrchestratorOptions{
		MaxCycles:        cfg.Run.MaxCycles,
		FailureThreshold: cfg.Run.FailureThreshold,
		BackoffBase:      cfg.Run.BackoffBase.Std(),
		BackoffCap:       cfg.Run.BackoffCap.Std(),
	}
}
