// Package commands implements the mend CLI.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mend",
		Short: "OpenMend - Adaptive Target Remediation Engine",
		Long: `OpenMend drives a managed target toward a converged state by trying
remediation methods in adaptive priority order.

Features:
  - Manifest-driven methods (commands and WASM plugins)
  - Probability scoring with capability boosts and Starlark hooks
  - Escalation strategies with bounded retry budgets
  - OPA policy gating by risk tier
  - Concurrent event daemon with health probes
  - Durable SQLite audit trail with integrity tags`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newRunCommand(version))
	rootCmd.AddCommand(newDaemonCommand(version))
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newReportCommand())
	rootCmd.AddCommand(newMethodsCommand())

	return rootCmd
}
