// Semantic query against approved plans.
package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	queryProject string
	queryTopK    int
)

var queryCmd = &cobra.Command{
	Use:   "query <question...>",
	Short: "Search approved plans semantically",
	Long: `Embeds the question and ranks approved plan chunks by similarity.
Matched plans are returned with their full content reconstructed from the
indexed chunks. Draft, superseded, and archived plans never appear.

Example:
  sacred query --project api "how do we handle token refresh"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		question := strings.Join(args, " ")
		resp, err := a.manager.QuerySacred(cmd.Context(), queryProject, question, queryTopK)
		if err != nil {
			return err
		}

		if asJSON {
			return printJSON(resp)
		}
		if len(resp.Matches) == 0 {
			fmt.Println("No approved plans matched")
			return nil
		}
		if resp.FilterFallback {
			fmt.Println("Note: metadata filtering degraded; results were narrowed in memory.")
		}
		for i, m := range resp.Matches {
			fmt.Printf("%d. %s  [%s]  similarity %.3f\n", i+1, m.PlanID, m.Status, m.Similarity)
			fmt.Printf("   %s\n", m.Title)
			fmt.Printf("   matched: %s\n", firstLine(m.MatchedChunk))
			if !m.Complete {
				fmt.Printf("   WARNING: reconstruction incomplete, missing chunks %v\n", m.MissingChunks)
			}
		}
		return nil
	},
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > 120 {
		s = s[:120] + "..."
	}
	return s
}

func init() {
	queryCmd.Flags().StringVar(&queryProject, "project", "", "Project identifier (required)")
	queryCmd.Flags().IntVar(&queryTopK, "top", 5, "Maximum number of plans to return")
	queryCmd.MarkFlagRequired("project")
}
