// Plan lifecycle commands: create, submit, approve, lock, supersede, list,
// status, show.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"sacredlayer/internal/registry"
)

var (
	planProject  string
	planTitle    string
	planFile     string
	planStatus   string
	approverName string
	approvalCode string
)

// planCmd is the parent command for plan lifecycle operations
var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Plan lifecycle management",
	Long: `Create, submit, approve, lock, and supersede plans.

A plan starts as a draft, is submitted for approval, and becomes immutable
the moment it is approved. Approval requires the plan's verification code
and the operator-held secondary key (read from the environment; the CLI
prompts for it without echo).

Examples:
  sacred plan create --project api --title "Auth design" --file plan.md
  sacred plan submit <plan-id>
  sacred plan approve <plan-id> --code <verification-code> --approver alice
  sacred plan lock <plan-id>
  sacred plan supersede <old-id> <new-id>
  sacred plan list --project api --status approved`,
}

var planCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new draft plan",
	RunE: func(cmd *cobra.Command, args []string) error {
		planContent, err := readPlanContent()
		if err != nil {
			return err
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		plan, code, err := a.manager.CreatePlan(planProject, planTitle, planContent)
		if err != nil {
			return err
		}

		if asJSON {
			return printJSON(map[string]interface{}{
				"plan_id":           plan.PlanID,
				"status":            plan.Status,
				"chunk_count":       plan.ChunkCount,
				"content_hash":      plan.ContentHash,
				"verification_code": code,
			})
		}
		fmt.Printf("Created plan %s (%d chunks)\n", plan.PlanID, plan.ChunkCount)
		fmt.Printf("Verification code: %s\n", code)
		fmt.Println("Keep the code for approval; it changes if the draft content changes.")
		return nil
	},
}

var planSubmitCmd = &cobra.Command{
	Use:   "submit <plan-id>",
	Short: "Submit a draft for approval",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.manager.SubmitPlan(args[0]); err != nil {
			return err
		}
		fmt.Printf("Plan %s is pending approval\n", args[0])
		return nil
	},
}

var planApproveCmd = &cobra.Command{
	Use:   "approve <plan-id>",
	Short: "Approve a plan (two-factor)",
	Long: `Approves a plan using two factors: the verification code issued at
creation and the operator secondary key. The key is read from the
environment variable named in the configuration, or prompted for without
echo when unset there.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		secondaryKey := os.Getenv(a.cfg.Approval.SecondaryKeyEnv)
		if secondaryKey == "" {
			secondaryKey, err = promptSecret("Secondary approval key: ")
			if err != nil {
				return err
			}
		}

		ok, msg, err := a.manager.ApprovePlan(cmd.Context(), args[0], approverName, approvalCode, secondaryKey)
		if err != nil {
			if ok {
				// Approval committed; only the indexing failed.
				fmt.Printf("Plan %s approved; indexing incomplete: %v\n", args[0], err)
				fmt.Println("Run 'sacred plan reindex' to retry indexing.")
				return nil
			}
			return err
		}
		if !ok {
			fmt.Println(msg)
			os.Exit(1)
		}
		fmt.Printf("Plan %s approved by %s\n", args[0], approverName)
		return nil
	},
}

var planReindexCmd = &cobra.Command{
	Use:   "reindex <plan-id>",
	Short: "Re-push an approved plan's chunks into the vector index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.manager.ReindexPlan(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Plan %s reindexed\n", args[0])
		return nil
	},
}

var planLockCmd = &cobra.Command{
	Use:   "lock <plan-id>",
	Short: "Lock an approved plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.manager.LockPlan(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Plan %s locked\n", args[0])
		return nil
	},
}

var planSupersedeCmd = &cobra.Command{
	Use:   "supersede <old-plan-id> <new-plan-id>",
	Short: "Retire a plan in favor of an approved replacement",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.manager.SupersedePlan(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("Plan %s superseded by %s\n", args[0], args[1])
		return nil
	},
}

var planArchiveCmd = &cobra.Command{
	Use:   "archive <plan-id>",
	Short: "Archive a plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.manager.ArchivePlan(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Plan %s archived\n", args[0])
		return nil
	},
}

var planListCmd = &cobra.Command{
	Use:   "list",
	Short: "List plans",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		var status registry.PlanStatus
		if planStatus != "" {
			status = registry.PlanStatus(planStatus)
			if !status.Valid() {
				return fmt.Errorf("unknown status %q", planStatus)
			}
		}

		summaries, err := a.manager.ListPlans(planProject, status)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(summaries)
		}
		if len(summaries) == 0 {
			fmt.Println("No plans found")
			return nil
		}
		for _, s := range summaries {
			line := fmt.Sprintf("%-42s %-18s %s", s.PlanID, s.Status, s.Title)
			if s.ApprovedBy != "" {
				line += fmt.Sprintf(" (approved by %s)", s.ApprovedBy)
			}
			fmt.Println(line)
		}
		return nil
	},
}

var planStatusCmd = &cobra.Command{
	Use:   "status <plan-id>",
	Short: "Show a plan's status and metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		plan, err := a.manager.GetPlan(args[0])
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(plan)
		}
		fmt.Printf("Plan:       %s\n", plan.PlanID)
		fmt.Printf("Project:    %s\n", plan.ProjectID)
		fmt.Printf("Title:      %s\n", plan.Title)
		fmt.Printf("Status:     %s\n", plan.Status)
		fmt.Printf("Hash:       %s\n", plan.ContentHash)
		fmt.Printf("Chunks:     %d\n", plan.ChunkCount)
		fmt.Printf("Created:    %s\n", plan.CreatedAt.Format("2006-01-02 15:04:05 MST"))
		if plan.ApprovedAt != nil {
			fmt.Printf("Approved:   %s by %s\n", plan.ApprovedAt.Format("2006-01-02 15:04:05 MST"), plan.ApprovedBy)
		}
		for k, v := range plan.Metadata {
			fmt.Printf("%-11s %s\n", k+":", v)
		}
		return nil
	},
}

var planShowCmd = &cobra.Command{
	Use:   "show <plan-id>",
	Short: "Print a plan's full content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		plan, err := a.manager.GetPlan(args[0])
		if err != nil {
			return err
		}
		fmt.Println(plan.Content)
		return nil
	},
}

var planCodeCmd = &cobra.Command{
	Use:   "code <plan-id>",
	Short: "Recompute a plan's verification code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		code, err := a.manager.VerificationCode(args[0])
		if err != nil {
			return err
		}
		fmt.Println(code)
		return nil
	},
}

// readPlanContent reads the plan body from --file, or stdin when the flag
// is "-" or absent and stdin is piped.
func readPlanContent() (string, error) {
	if planFile != "" && planFile != "-" {
		data, err := os.ReadFile(planFile)
		if err != nil {
			return "", fmt.Errorf("failed to read plan file: %w", err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read plan from stdin: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", fmt.Errorf("no plan content provided (use --file or pipe to stdin)")
	}
	return string(data), nil
}

// promptSecret reads a line from the terminal without echoing it.
func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	key, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read key: %w", err)
	}
	return string(key), nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	planCreateCmd.Flags().StringVar(&planProject, "project", "", "Project identifier (required)")
	planCreateCmd.Flags().StringVar(&planTitle, "title", "", "Plan title")
	planCreateCmd.Flags().StringVar(&planFile, "file", "", "File holding the plan content (- for stdin)")
	planCreateCmd.MarkFlagRequired("project")

	planApproveCmd.Flags().StringVar(&approvalCode, "code", "", "Verification code issued at creation (required)")
	planApproveCmd.Flags().StringVar(&approverName, "approver", "", "Approver identity (required)")
	planApproveCmd.MarkFlagRequired("code")
	planApproveCmd.MarkFlagRequired("approver")

	planListCmd.Flags().StringVar(&planProject, "project", "", "Filter by project")
	planListCmd.Flags().StringVar(&planStatus, "status", "", "Filter by status")

	planCmd.AddCommand(planCreateCmd)
	planCmd.AddCommand(planSubmitCmd)
	planCmd.AddCommand(planApproveCmd)
	planCmd.AddCommand(planReindexCmd)
	planCmd.AddCommand(planLockCmd)
	planCmd.AddCommand(planSupersedeCmd)
	planCmd.AddCommand(planArchiveCmd)
	planCmd.AddCommand(planListCmd)
	planCmd.AddCommand(planStatusCmd)
	planCmd.AddCommand(planShowCmd)
	planCmd.AddCommand(planCodeCmd)
}
