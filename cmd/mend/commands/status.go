package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the latest remediation outcome",
		Long: `Show the most recent run reports and daemon events from the audit
trail. The audit database is the shared source of truth between the CLI
and a daemon running on the same host.`,
		Example: `  # Show the last few runs
  mend status --config mend.yaml

  # Machine-readable output
  mend status --config mend.yaml --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tel, err := buildTelemetry(cfg, "status")
			if err != nil {
				return err
			}
			defer tel.Shutdown(ctx)

			_, store, err := buildRecorder(ctx, cfg, tel)
			if err != nil {
				return err
			}
			defer store.Close()

			reports, err := store.ListReports(ctx, limit)
			if err != nil {
				return err
			}
			events, err := store.ListEvents(ctx, limit)
			if err != nil {
				return err
			}

			if jsonOutput {
				out := map[string]interface{}{
					"reports": reports,
					"events":  events,
				}
				data, err := json.MarshalIndent(out, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			if len(reports) == 0 {
				fmt.Println("No runs recorded yet.")
			} else {
				fmt.Printf("Recent runs (%d):\n", len(reports))
				for _, r := range reports {
					fmt.Printf("  %s  %-20s %-18s %-22s cycles=%d  %s\n",
						r.CompletedAt.Format(time.RFC3339), r.TargetID, r.FinalState,
						r.StopReason, r.CyclesUsed, r.RunID)
				}
			}

			if len(events) > 0 {
				fmt.Printf("Recent events (%d):\n", len(events))
				for _, e := range events {
					fmt.Printf("  %s  %-10s %-12s %s\n",
						e.Timestamp.Format(time.RFC3339), e.Severity, e.Category, e.Message)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "maximum entries to show")

	return cmd
}
