// Activity log commands: the input side of drift detection.
package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"sacredlayer/internal/activity"
)

var (
	activityProject string
	activityKind    string
	activitySince   time.Duration
)

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Record and inspect development activity",
	Long: `The activity log feeds drift detection. Record commits, decisions,
and change descriptions as they happen; the drift command scores them
against approved plans.

Examples:
  sacred activity add --project api --kind commit "Added OAuth2 login flow"
  sacred activity list --project api --since 72h`,
}

var activityAddCmd = &cobra.Command{
	Use:   "add <description...>",
	Short: "Record an activity entry",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := activity.Kind(activityKind)
		switch kind {
		case activity.KindCommit, activity.KindDecision, activity.KindChange, activity.KindNote:
		default:
			return fmt.Errorf("unknown kind %q (use commit, decision, change, or note)", activityKind)
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		rec := &activity.Record{
			ProjectID: activityProject,
			Content:   strings.Join(args, " "),
			Kind:      kind,
		}
		if err := a.activity.Record(rec); err != nil {
			return err
		}
		fmt.Printf("Recorded %s %s\n", rec.Kind, rec.ID)
		return nil
	},
}

var activityListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent activity",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		records, err := a.activity.Recent(activityProject, time.Now().Add(-activitySince))
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(records)
		}
		if len(records) == 0 {
			fmt.Println("No activity in window")
			return nil
		}
		for _, rec := range records {
			fmt.Printf("%s  %-8s  %s\n", rec.Timestamp.Format("2006-01-02 15:04"), rec.Kind, rec.Content)
		}
		return nil
	},
}

func init() {
	activityAddCmd.Flags().StringVar(&activityProject, "project", "", "Project identifier (required)")
	activityAddCmd.Flags().StringVar(&activityKind, "kind", "note", "Activity kind: commit, decision, change, note")
	activityAddCmd.MarkFlagRequired("project")

	activityListCmd.Flags().StringVar(&activityProject, "project", "", "Project identifier (required)")
	activityListCmd.Flags().DurationVar(&activitySince, "since", 168*time.Hour, "Lookback window")
	activityListCmd.MarkFlagRequired("project")

	activityCmd.AddCommand(activityAddCmd)
	activityCmd.AddCommand(activityListCmd)
}
