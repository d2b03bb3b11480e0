package commands

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/openmend/openmend/pkg/methods"
)

func newMethodsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "methods",
		Short: "List the methods in the manifest",
		Long: `List the methods declared in the manifest together with their risk
tier and the success probability estimated against the configured target
capabilities.`,
		Example: `  # Show methods ranked by estimated probability
  mend methods --config mend.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tel, err := buildTelemetry(cfg, "methods")
			if err != nil {
				return err
			}
			defer tel.Shutdown(cmd.Context())

			manifest, err := methods.LoadManifest(cfg.Methods.ManifestPath)
			if err != nil {
				return err
			}

			hook, err := buildScoreHook(cfg)
			if err != nil {
				return err
			}

			candidates, err := manifest.BuildCandidates(cmd.Context(), methods.BuilderOptions{
				PluginDir: cfg.Methods.PluginDir,
				Hook:      hook,
			})
			if err != nil {
				return err
			}

			profile := buildProfile(cfg)

			type row struct {
				Name        string  `json:"name"`
				Risk        string  `json:"risk"`
				Escalation  bool    `json:"escalation"`
				Available   bool    `json:"available"`
				Probability float64 `json:"probability"`
			}
			rows := make([]row, 0, len(candidates))
			for _, c := range candidates {
				rows = append(rows, row{
					Name:        c.Name(),
					Risk:        string(c.Risk),
					Escalation:  c.Escalation,
					Available:   c.Method.IsAvailable(profile),
					Probability: c.Method.EstimateProbability(profile),
				})
			}
			sort.Slice(rows, func(i, j int) bool { return rows[i].Probability > rows[j].Probability })

			if jsonOutput {
				data, err := json.MarshalIndent(rows, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("%-26s %-10s %-11s %-10s %s\n", "METHOD", "RISK", "ESCALATION", "AVAILABLE", "PROBABILITY")
			for _, r := range rows {
				fmt.Printf("%-26s %-10s %-11v %-10v %.2f\n", r.Name, r.Risk, r.Escalation, r.Available, r.Probability)
			}
			return nil
		},
	}

	return cmd
}
