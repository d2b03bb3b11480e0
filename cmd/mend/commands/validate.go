package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openmend/openmend/pkg/methods"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration, manifest, and policies",
		Long: `Validate everything a run would load: the configuration file, the
method manifest, the Starlark scoring hook, and the policy directory.
Nothing is executed against the target.`,
		Example: `  # Validate before deploying a config change
  mend validate --config mend.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			fmt.Println("config: ok")

			manifest, err := methods.LoadManifest(cfg.Methods.ManifestPath)
			if err != nil {
				return fmt.Errorf("manifest: %w", err)
			}
			fmt.Printf("manifest: ok (%d methods)\n", len(manifest.Methods))

			if _, err := buildScoreHook(cfg); err != nil {
				return fmt.Errorf("scoring hook: %w", err)
			}
			if cfg.Methods.ScoringHook != "" {
				fmt.Println("scoring hook: ok")
			}

			tel, err := buildTelemetry(cfg, "validate")
			if err != nil {
				return fmt.Errorf("telemetry: %w", err)
			}
			defer tel.Shutdown(ctx)

			engine, err := buildPolicyGate(ctx, cfg, tel)
			if err != nil {
				return fmt.Errorf("policies: %w", err)
			}
			fmt.Printf("policies: ok (%d loaded)\n", len(engine.ListPolicies()))

			return nil
		},
	}

	return cmd
}
