// Workspace initialization.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"sacredlayer/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a .sacred workspace",
	Long: `Creates the .sacred directory with a default configuration file.
Edit .sacred/config.yaml afterwards to choose an embedding provider and
tune thresholds.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ws := resolveWorkspace()
		cfgPath := filepath.Join(ws, ".sacred", "config.yaml")

		if _, err := os.Stat(cfgPath); err == nil && !initForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
		}

		cfg := config.DefaultConfig()
		if err := cfg.Save(cfgPath); err != nil {
			return err
		}
		fmt.Printf("Initialized sacred workspace at %s\n", filepath.Join(ws, ".sacred"))
		fmt.Printf("Set the approval key in $%s before approving plans.\n", cfg.Approval.SecondaryKeyEnv)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing configuration")
}
