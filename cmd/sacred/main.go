// Package main implements the sacred CLI: immutable plan governance with
// two-factor approval and drift detection against recent activity.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"sacredlayer/internal/activity"
	"sacredlayer/internal/config"
	"sacredlayer/internal/drift"
	"sacredlayer/internal/embedding"
	"sacredlayer/internal/logging"
	"sacredlayer/internal/registry"
	"sacredlayer/internal/sacred"
	"sacredlayer/internal/vector"
)

var (
	// Global flags
	verbose   bool
	workspace string
	asJSON    bool

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "sacred",
	Short: "Sacred Layer - immutable plan governance",
	Long: `The Sacred Layer stores architectural plans that become immutable once
approved. Approval takes two independent factors: the plan's verification
code and the operator-held secondary key. Approved plans are chunked,
embedded, and semantically searchable; the drift detector scores recent
activity against their requirements.

Examples:
  sacred plan create --project api --title "Auth design" --file plan.md
  sacred plan approve plan-ab12cd34-ef567890 --code <code> --approver alice
  sacred query --project api "how do we handle token refresh"
  sacred drift --project api`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if err := logging.Initialize(resolveWorkspace()); err != nil {
			logger.Warn("file logging disabled", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func resolveWorkspace() string {
	if workspace != "" {
		return workspace
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// app bundles the wired stores for command handlers. Close in reverse of
// open order.
type app struct {
	cfg      *config.Config
	registry *registry.Store
	vectors  *vector.Store
	activity *activity.Store
	manager  *sacred.Manager
	detector *drift.Detector
}

func openApp() (*app, error) {
	ws := resolveWorkspace()
	cfg, err := config.LoadFromWorkspace(ws)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	reg, err := registry.NewStore(filepath.Join(ws, cfg.Storage.RegistryPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open plan registry: %w", err)
	}
	vec, err := vector.NewStore(filepath.Join(ws, cfg.Storage.VectorDir))
	if err != nil {
		reg.Close()
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	act, err := activity.NewStore(filepath.Join(ws, cfg.Storage.ActivityPath))
	if err != nil {
		vec.Close()
		reg.Close()
		return nil, fmt.Errorf("failed to open activity store: %w", err)
	}

	engine, err := embedding.NewEngine(embedding.Config{
		Provider:       cfg.Embedding.Provider,
		OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
		OllamaModel:    cfg.Embedding.OllamaModel,
		GenAIAPIKey:    cfg.Embedding.GenAIAPIKey,
		GenAIModel:     cfg.Embedding.GenAIModel,
		TaskType:       cfg.Embedding.TaskType,
		MaxRetries:     cfg.Embedding.MaxRetries,
	})
	if err != nil {
		act.Close()
		vec.Close()
		reg.Close()
		return nil, fmt.Errorf("failed to create embedding engine: %w", err)
	}

	keys := sacred.NewEnvKeyProvider(cfg.Approval.SecondaryKeyEnv, cfg.Approval.MinKeyLength)
	return &app{
		cfg:      cfg,
		registry: reg,
		vectors:  vec,
		activity: act,
		manager:  sacred.NewManager(cfg, reg, vec, engine, keys),
		detector: drift.NewDetector(cfg, reg, act, engine),
	}, nil
}

func (a *app) close() {
	a.activity.Close()
	a.vectors.Close()
	a.registry.Close()
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current directory)")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "Emit JSON instead of human-readable output")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(driftCmd)
	rootCmd.AddCommand(activityCmd)
	rootCmd.AddCommand(statsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
