// Registry statistics command.
package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"sacredlayer/internal/registry"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show plan counts by status and project",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		stats, err := a.manager.GetStatistics()
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(stats)
		}

		fmt.Printf("Total plans: %d\n", stats.Total)

		if len(stats.ByStatus) > 0 {
			fmt.Println("\nBy status:")
			statuses := make([]string, 0, len(stats.ByStatus))
			for status := range stats.ByStatus {
				statuses = append(statuses, string(status))
			}
			sort.Strings(statuses)
			for _, status := range statuses {
				fmt.Printf("  %-18s %d\n", status, stats.ByStatus[registry.PlanStatus(status)])
			}
		}
		if len(stats.ByProject) > 0 {
			fmt.Println("\nBy project:")
			projects := make([]string, 0, len(stats.ByProject))
			for project := range stats.ByProject {
				projects = append(projects, project)
			}
			sort.Strings(projects)
			for _, project := range projects {
				fmt.Printf("  %-18s %d\n", project, stats.ByProject[project])
			}
		}
		return nil
	},
}
