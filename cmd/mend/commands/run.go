package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/openmend/openmend/pkg/methods"
	"github.com/openmend/openmend/pkg/remedy"
)

func newRunCommand(version string) *cobra.Command {
	var (
		maxCycles int
		strategy  string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run remediation until the target converges",
		Long: `Run the orchestration loop against the configured target.

Each cycle re-detects target state, prioritizes the eligible methods by
estimated success probability, and executes them until the state probe
reports convergence, the cycle budget runs out, or a terminal condition
is observed. Every attempt lands in the audit trail.`,
		Example: `  # Run with the default config search
  mend run --config mend.yaml

  # Override the cycle budget and strategy for this run
  mend run --config mend.yaml --max-cycles 5 --strategy balanced`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if maxCycles > 0 {
				cfg.Run.MaxCycles = maxCycles
			}
			if strategy != "" {
				cfg.Run.Strategy = strategy
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			tel, err := buildTelemetry(cfg, version)
			if err != nil {
				return err
			}
			defer tel.Shutdown(ctx)

			recorder, store, err := buildRecorder(ctx, cfg, tel)
			if err != nil {
				return err
			}
			defer store.Close()

			gate, err := buildPolicyGate(ctx, cfg, tel)
			if err != nil {
				return err
			}

			registry, err := buildRegistry(ctx, cfg, tel, gate)
			if err != nil {
				return err
			}

			detector := methods.NewExecDetector(cfg.Target.DetectCommand, tel.Logger.Zerolog())

			orch := remedy.NewOrchestrator(detector, registry, tel.Logger.Zerolog(), orchestratorOptions(cfg)).
				WithTerminalDetector(buildTerminalDetector(cfg, tel, recorder, detector)).
				WithAuditSink(recorder).
				WithMetrics(tel.Metrics)

			profile := buildProfile(cfg)

			tel.Metrics.RecordRunStarted(profile.TargetID)
			started := time.Now()

			report, err := orch.Run(ctx, profile)
			if report != nil {
				tel.Metrics.RecordRunCompleted(string(report.StopReason), time.Since(started))
				if recErr := recorder.RecordReport(ctx, report); recErr != nil {
					tel.Logger.WithError(recErr).Warn("Failed to persist final report")
				}
			}
			if err != nil {
				return err
			}

			printReport(report)

			if report.StopReason != remedy.StopSucceeded {
				os.Exit(2)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&maxCycles, "max-cycles", 0, "override the configured cycle budget")
	cmd.Flags().StringVar(&strategy, "strategy", "", "override the starting strategy")

	return cmd
}

func printReport(report *remedy.FinalReport) {
	if jsonOutput {
		data, err := json.MarshalIndent(report, "", "  ")
		if err == nil {
			fmt.Println(string(data))
		}
		return
	}

	fmt.Printf("Run:          %s\n", report.RunID)
	fmt.Printf("Target:       %s\n", report.TargetID)
	fmt.Printf("Final state:  %s\n", report.FinalState)
	fmt.Printf("Stop reason:  %s\n", report.StopReason)
	fmt.Printf("Cycles used:  %d\n", report.CyclesUsed)
	if report.SucceededMethod != "" {
		fmt.Printf("Succeeded by: %s\n", report.SucceededMethod)
	}
	fmt.Printf("Duration:     %s\n", report.Duration.Round(time.Millisecond))
	fmt.Printf("Attempts:     %d\n", len(report.Attempts))
	for _, a := range report.Attempts {
		status := "failed"
		if a.Success {
			status = "ok"
		}
		fmt.Printf("  #%d cycle %d  %-24s %-6s %s -> %s\n",
			a.Sequence, a.Cycle, a.Method, status, a.StateBefore, a.StateAfter)
	}
}
