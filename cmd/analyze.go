package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewise/internal/server"
)

func newAnalyzeCmd() *cobra.Command {
	var ifOutdated bool
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Recompute the current analysis from the raw pricing data",
		Long: `Runs the analyzer-only pass over the last scraped CSV with the current
configuration and overwrites the current analysis. With --if-outdated the pass
is skipped while the analysis is still fresh.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			app, err := buildApp(cmd.Context(), cfg, server.Options{})
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			defer app.Close(cmd.Context()) //nolint:errcheck // Close only logs

			if ifOutdated {
				verdict, err := app.Staleness.Evaluate(cmd.Context())
				if err != nil {
					return fmt.Errorf("evaluate staleness: %w", err)
				}
				if !verdict.Outdated {
					app.Logger().Info("analysis is fresh, skipping", zap.String("reason", verdict.Reason))
					fmt.Fprintln(cmd.OutOrStdout(), "fresh")
					return nil
				}
			}

			snap, err := app.Orchestrator.RunAnalyzerOnly(cmd.Context())
			if err != nil {
				return fmt.Errorf("analyzer pass: %w", err)
			}
			generated := "unknown"
			if snap != nil && snap.GeneratedAt != nil {
				generated = snap.GeneratedAt.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "analysis generated at %s\n", generated)
			return nil
		},
	}
	cmd.Flags().BoolVar(&ifOutdated, "if-outdated", false, "skip the pass while the current analysis is fresh")
	return cmd
}
