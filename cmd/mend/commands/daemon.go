package commands

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openmend/openmend/pkg/config"
	"github.com/openmend/openmend/pkg/daemon"
	"github.com/openmend/openmend/pkg/fetch"
	"github.com/openmend/openmend/pkg/methods"
	"github.com/openmend/openmend/pkg/remedy"
	"github.com/openmend/openmend/pkg/telemetry"
)

// configSource hands out the latest valid configuration. The daemon reads a
// fresh snapshot for every triggered remediation run, so edits to the config
// file land without a restart.
type configSource struct {
	current atomic.Pointer[config.Config]
}

func newConfigSource(cfg *config.Config) *configSource {
	s := &configSource{}
	s.current.Store(cfg)
	return s
}

// Load returns the current configuration snapshot.
func (s *configSource) Load() *config.Config {
	return s.current.Load()
}

// Watch starts the file watcher on path and swaps in each valid reload.
func (s *configSource) Watch(path string, logger zerolog.Logger) (*config.Watcher, error) {
	return config.NewWatcher(path, logger, func(cfg *config.Config) {
		s.current.Store(cfg)
	})
}

func newDaemonCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the event daemon",
		Long: `Run the background daemon that watches the target.

The daemon polls health probes, classifies reported events by severity,
and dispatches them to category handlers. Events that indicate lost
convergence trigger a remediation run. When manifest updates are enabled
the daemon also polls the remote manifest source and applies validated
updates with a backup of the previous version.`,
		Example: `  # Run the daemon in the foreground
  mend daemon --config mend.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), version)
		},
	}

	return cmd
}

func runDaemon(ctx context.Context, version string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	tel, err := buildTelemetry(cfg, version)
	if err != nil {
		return err
	}
	defer tel.Shutdown(context.Background())

	recorder, store, err := buildRecorder(ctx, cfg, tel)
	if err != nil {
		return err
	}
	defer store.Close()

	logger := tel.Logger.Zerolog()
	detector := methods.NewExecDetector(cfg.Target.DetectCommand, logger)
	terminal := buildTerminalDetector(cfg, tel, recorder, detector)

	source := newConfigSource(cfg)
	if configPath != "" {
		watcher, err := source.Watch(configPath, logger)
		if err != nil {
			return fmt.Errorf("failed to watch config file: %w", err)
		}
		defer watcher.Close()
	}

	gate, err := buildPolicyGate(ctx, cfg, tel)
	if err != nil {
		return err
	}
	if cfg.Policy.Dir != "" {
		if err := gate.WatchPolicies(ctx, []string{cfg.Policy.Dir}); err != nil {
			tel.Logger.WithError(err).Warn("Policy directory watch unavailable, edits need a restart")
		} else {
			defer gate.StopWatching()
		}
	}

	// Remediation runs are single-flight: a triggered run that finds one
	// already in progress is dropped, the active run will re-detect state
	// anyway.
	var remediating atomic.Bool
	trigger := func(trigCtx context.Context, ev daemon.ReportedEvent) error {
		if !remediating.CompareAndSwap(false, true) {
			tel.Logger.WithEventID(ev.ID).Debug("Remediation already in progress, skipping trigger")
			return nil
		}
		go func() {
			defer remediating.Store(false)
			if err := runTriggeredRemediation(ctx, source.Load(), tel, recorder, gate, terminal, detector, ev); err != nil {
				tel.Logger.WithError(err).WithEventID(ev.ID).Error("Triggered remediation failed")
			}
		}()
		return nil
	}

	d := daemon.New(logger, daemon.Options{
		MonitorInterval: cfg.Daemon.MonitorInterval.Std(),
		UpdateInterval:  cfg.Daemon.UpdateInterval.Std(),
		PopTimeout:      cfg.Daemon.PopTimeout.Std(),
		StopTimeout:     cfg.Daemon.StopTimeout.Std(),
		QueueCapacity:   cfg.Daemon.QueueCapacity,
	}, trigger).
		WithProbe(daemon.NewMemoryProbe(cfg.Daemon.HeapLimitBytes)).
		WithProbe(daemon.NewDiskProbe(cfg.Daemon.DiskPath, cfg.Daemon.MinDiskFreeRatio)).
		WithEventSink(recorder).
		WithTerminalDetector(terminal).
		WithMetrics(tel.Metrics)

	if cfg.Methods.Update.Enabled {
		updater, err := buildUpdater(cfg, tel)
		if err != nil {
			return err
		}
		d = d.WithUpdater(updater)
	}

	if err := tel.Metrics.StartMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	if err := d.Start(ctx); err != nil {
		return err
	}
	tel.Logger.WithTargetID(cfg.Target.ID).Info("Daemon started")

	<-ctx.Done()
	tel.Logger.Info("Shutting down daemon")
	if err := d.Stop(); err != nil {
		return err
	}

	status := d.GetStatus()
	if status.TerminalObserved {
		tel.Logger.Error("Daemon stopped after terminal event")
		os.Exit(3)
	}
	return nil
}

// runTriggeredRemediation executes one orchestration run in response to an
// event. The registry is rebuilt so manifest updates applied since the last
// run take effect; the policy gate and detectors are shared with the daemon.
func runTriggeredRemediation(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry, sink remedy.AuditSink, gate remedy.PolicyGate, terminal remedy.TerminalDetector, detector remedy.StateDetector, ev daemon.ReportedEvent) error {
	registry, err := buildRegistry(ctx, cfg, tel, gate)
	if err != nil {
		return err
	}

	orch := remedy.NewOrchestrator(detector, registry, tel.Logger.Zerolog(), orchestratorOptions(cfg)).
		WithTerminalDetector(terminal).
		WithAuditSink(sink).
		WithMetrics(tel.Metrics)

	profile := buildProfile(cfg)

	tel.Logger.WithEventID(ev.ID).WithTargetID(profile.TargetID).Info("Event triggered remediation run")
	tel.Metrics.RecordRunStarted(profile.TargetID)
	started := time.Now()

	report, err := orch.Run(ctx, profile)
	if report != nil {
		tel.Metrics.RecordRunCompleted(string(report.StopReason), time.Since(started))
		if recorder, ok := sink.(interface {
			RecordReport(context.Context, *remedy.FinalReport) error
		}); ok {
			if recErr := recorder.RecordReport(ctx, report); recErr != nil {
				tel.Logger.WithError(recErr).Warn("Failed to persist final report")
			}
		}
	}
	return err
}

// buildUpdater wires the SFTP manifest source into the daemon's updater.
func buildUpdater(cfg *config.Config, tel *telemetry.Telemetry) (*daemon.ManifestUpdater, error) {
	uc := cfg.Methods.Update
	fetchCfg := fetch.DefaultConfig(uc.SFTPHost, uc.SFTPUser, uc.RemotePath)
	if uc.SFTPPort != 0 {
		fetchCfg.Port = uc.SFTPPort
	}
	fetchCfg.PrivateKeyPath = uc.SFTPKeyPath

	source, err := fetch.NewSFTPSource(fetchCfg, tel.Logger.Zerolog())
	if err != nil {
		return nil, err
	}

	// Seed the deployed manifest as the baseline. The updater compares each
	// fetch against it and skips the swap when the content is identical.
	if current, err := os.ReadFile(cfg.Methods.ManifestPath); err == nil {
		source.Seed(current)
	}

	updater := daemon.NewManifestUpdater(source, cfg.Methods.ManifestPath, methods.ValidateManifest, tel.Logger.Zerolog())
	updater.OnApply(func() {
		tel.Logger.Info("Method manifest updated, next run will use the new method set")
	})
	return updater, nil
}
