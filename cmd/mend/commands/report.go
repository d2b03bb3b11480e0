package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newReportCommand() *cobra.Command {
	var withAttempts bool

	cmd := &cobra.Command{
		Use:   "report <run-id>",
		Short: "Show the final report of a run",
		Long: `Fetch a run's final report from the audit trail, optionally with the
full attempt history and integrity tags.`,
		Example: `  # Show a run report
  mend report 4f7c2d1e-...

  # Include every attempt record
  mend report 4f7c2d1e-... --attempts`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			runID := args[0]

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tel, err := buildTelemetry(cfg, "report")
			if err != nil {
				return err
			}
			defer tel.Shutdown(ctx)

			_, store, err := buildRecorder(ctx, cfg, tel)
			if err != nil {
				return err
			}
			defer store.Close()

			report, err := store.GetReport(ctx, runID)
			if err != nil {
				return err
			}
			if withAttempts {
				attempts, err := store.ListAttempts(ctx, runID)
				if err != nil {
					return err
				}
				report.Attempts = attempts
			}

			if jsonOutput {
				data, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("Run:          %s\n", report.RunID)
			fmt.Printf("Target:       %s\n", report.TargetID)
			fmt.Printf("Final state:  %s\n", report.FinalState)
			fmt.Printf("Stop reason:  %s\n", report.StopReason)
			fmt.Printf("Cycles used:  %d\n", report.CyclesUsed)
			if report.SucceededMethod != "" {
				fmt.Printf("Succeeded by: %s\n", report.SucceededMethod)
			}
			fmt.Printf("Started:      %s\n", report.StartedAt.Format(time.RFC3339))
			fmt.Printf("Completed:    %s\n", report.CompletedAt.Format(time.RFC3339))

			for _, a := range report.Attempts {
				status := "failed"
				if a.Success {
					status = "ok"
				}
				fmt.Printf("  #%d cycle %d  %-24s %-6s %s -> %s  [%s]\n",
					a.Sequence, a.Cycle, a.Method, status, a.StateBefore, a.StateAfter, a.Integrity)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&withAttempts, "attempts", false, "include the full attempt history")

	return cmd
}
