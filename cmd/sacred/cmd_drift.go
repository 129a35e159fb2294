// Drift analysis command.
package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	driftProject string
	driftWindow  time.Duration
)

var driftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Score recent activity against approved plans",
	Long: `Extracts requirements from the project's approved plans and scores
each recent activity entry against them by embedding similarity. Reports
an overall alignment status, per-plan adherence, and the activities that
match no requirement at all.

Example:
  sacred drift --project api --window 168h`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		window := driftWindow
		if window == 0 {
			window = a.cfg.GetActivityWindow()
		}

		analysis := a.detector.Analyze(cmd.Context(), driftProject, window)
		if asJSON {
			return printJSON(analysis)
		}

		fmt.Printf("Project:   %s\n", analysis.ProjectID)
		fmt.Printf("Status:    %s\n", analysis.Status)
		fmt.Printf("Alignment: %.3f\n", analysis.AlignmentScore)
		fmt.Printf("Plans:     %d checked\n", analysis.SacredPlansChecked)

		if len(analysis.PlanAdherence) > 0 {
			fmt.Println("\nPlan adherence:")
			for planID, score := range analysis.PlanAdherence {
				fmt.Printf("  %-42s %.3f\n", planID, score)
			}
		}
		if len(analysis.Violations) > 0 {
			fmt.Println("\nViolations:")
			for _, v := range analysis.Violations {
				fmt.Printf("  [%s] %.3f  %s\n", v.Severity, v.Similarity, v.ActivityRef)
				fmt.Printf("         plan %s, closest requirement: %s\n", v.PlanID, v.ExpectedRequirement)
			}
		}
		if len(analysis.Recommendations) > 0 {
			fmt.Println("\nRecommendations:")
			for _, rec := range analysis.Recommendations {
				fmt.Printf("  - %s\n", rec)
			}
		}
		return nil
	},
}

func init() {
	driftCmd.Flags().StringVar(&driftProject, "project", "", "Project identifier (required)")
	driftCmd.Flags().DurationVar(&driftWindow, "window", 0, "Activity lookback window (default from config)")
	driftCmd.MarkFlagRequired("project")
}
