package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cardgrid/cardgrid/core/layout"
	"github.com/cardgrid/cardgrid/core/spec"
)

var (
	validateViewport int

	validateCmd = &cobra.Command{
		Use:   "validate <dashboard.json|yaml>",
		Short: "Validate a dashboard specification",
		Args:  cobra.ExactArgs(1),
		RunE:  validateDashboard,
	}
)

func init() {
	validateCmd.Flags().IntVar(&validateViewport, "viewport", 1280, "viewport width in pixels for layout checks")
	rootCmd.AddCommand(validateCmd)
}

func validateDashboard(cmd *cobra.Command, args []string) error {
	dash, err := spec.Load(args[0])
	if err != nil {
		return fmt.Errorf("load dashboard: %w", err)
	}
	for _, report := range dash.Reports {
		grid := layout.NewEngine(report.Layout)
		if _, err := grid.Place(report.ID, report.Cards, validateViewport); err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d report(s) valid\n", dash.ID, len(dash.Reports))
	for _, report := range dash.Reports {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s: %d card(s)\n", report.ID, len(report.Cards))
	}
	return nil
}
