// Package config loads and validates sacredlayer configuration.
// Configuration lives in <workspace>/.sacred/config.yaml and can be
// selectively overridden through environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all sacredlayer configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Storage paths
	Storage StorageConfig `yaml:"storage"`

	// Embedding engine configuration
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Two-factor approval configuration
	Approval ApprovalConfig `yaml:"approval"`

	// Content chunking
	Chunking ChunkingConfig `yaml:"chunking"`

	// Drift detection thresholds
	Drift DriftConfig `yaml:"drift"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig configures the SQLite-backed stores.
type StorageConfig struct {
	// Plan registry database
	RegistryPath string `yaml:"registry_path"`

	// Directory for per-project vector collection databases
	VectorDir string `yaml:"vector_dir"`

	// Activity record database
	ActivityPath string `yaml:"activity_path"`
}

// EmbeddingConfig configures the embedding engine.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // ollama, genai, offline

	// Ollama configuration
	OllamaEndpoint string `yaml:"ollama_endpoint"` // Default: "http://localhost:11434"
	OllamaModel    string `yaml:"ollama_model"`    // Default: "embeddinggemma"

	// GenAI configuration
	GenAIAPIKey string `yaml:"genai_api_key"`
	GenAIModel  string `yaml:"genai_model"` // Default: "gemini-embedding-001"
	TaskType    string `yaml:"task_type"`   // Default: "SEMANTIC_SIMILARITY"

	// Call bounds
	Timeout    string `yaml:"timeout"`     // Per-call timeout
	MaxRetries int    `yaml:"max_retries"` // Transient-failure retries
}

// ApprovalConfig configures the second approval factor.
type ApprovalConfig struct {
	// Environment variable holding the operator-held secondary key
	SecondaryKeyEnv string `yaml:"secondary_key_env"`

	// Minimum length policy for the secondary key
	MinKeyLength int `yaml:"min_key_length"`
}

// ChunkingConfig configures plan content chunking.
type ChunkingConfig struct {
	TargetSize int `yaml:"target_size"` // Characters per chunk
}

// DriftConfig configures drift analysis.
type DriftConfig struct {
	ViolationThreshold float64 `yaml:"violation_threshold"` // Below this = violation
	HighSeverityBelow  float64 `yaml:"high_severity_below"` // Below this = high severity
	ActivityWindow     string  `yaml:"activity_window"`     // Lookback window (duration)
}

// LoggingConfig configures the categorized file logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "sacredlayer",
		Version: "1.0.0",

		Storage: StorageConfig{
			RegistryPath: ".sacred/registry.db",
			VectorDir:    ".sacred/vectors",
			ActivityPath: ".sacred/activity.db",
		},

		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			GenAIModel:     "gemini-embedding-001",
			TaskType:       "SEMANTIC_SIMILARITY",
			Timeout:        "30s",
			MaxRetries:     3,
		},

		Approval: ApprovalConfig{
			SecondaryKeyEnv: "SACRED_APPROVAL_KEY",
			MinKeyLength:    32,
		},

		Chunking: ChunkingConfig{
			TargetSize: 1000,
		},

		Drift: DriftConfig{
			ViolationThreshold: 0.3,
			HighSeverityBelow:  0.1,
			ActivityWindow:     "168h", // 7 days
		},

		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file: defaults, but env overrides still apply.
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// LoadFromWorkspace loads the config from <workspace>/.sacred/config.yaml.
func LoadFromWorkspace(workspace string) (*Config, error) {
	return Load(filepath.Join(workspace, ".sacred", "config.yaml"))
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Embedding.GenAIAPIKey = key
	}
	if provider := os.Getenv("SACRED_EMBEDDING_PROVIDER"); provider != "" {
		c.Embedding.Provider = provider
	}
	if endpoint := os.Getenv("OLLAMA_ENDPOINT"); endpoint != "" {
		c.Embedding.OllamaEndpoint = endpoint
	}
	if path := os.Getenv("SACRED_REGISTRY_DB"); path != "" {
		c.Storage.RegistryPath = path
	}
	if dir := os.Getenv("SACRED_VECTOR_DIR"); dir != "" {
		c.Storage.VectorDir = dir
	}
	if path := os.Getenv("SACRED_ACTIVITY_DB"); path != "" {
		c.Storage.ActivityPath = path
	}
	if env := os.Getenv("SACRED_APPROVAL_KEY_ENV"); env != "" {
		c.Approval.SecondaryKeyEnv = env
	}
}

// GetEmbeddingTimeout returns the per-call embedding timeout as a duration.
func (c *Config) GetEmbeddingTimeout() time.Duration {
	d, err := time.ParseDuration(c.Embedding.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetActivityWindow returns the drift lookback window as a duration.
func (c *Config) GetActivityWindow() time.Duration {
	d, err := time.ParseDuration(c.Drift.ActivityWindow)
	if err != nil {
		return 7 * 24 * time.Hour
	}
	return d
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	switch c.Embedding.Provider {
	case "ollama", "genai", "offline":
	default:
		return fmt.Errorf("unsupported embedding provider: %s", c.Embedding.Provider)
	}

	if c.Chunking.TargetSize < 100 {
		return fmt.Errorf("chunking target_size too small: %d (minimum 100)", c.Chunking.TargetSize)
	}

	if c.Drift.ViolationThreshold <= 0 || c.Drift.ViolationThreshold >= 1 {
		return fmt.Errorf("drift violation_threshold must be in (0,1): %f", c.Drift.ViolationThreshold)
	}
	if c.Drift.HighSeverityBelow >= c.Drift.ViolationThreshold {
		return fmt.Errorf("high_severity_below (%f) must be below violation_threshold (%f)",
			c.Drift.HighSeverityBelow, c.Drift.ViolationThreshold)
	}

	if c.Approval.MinKeyLength < 32 {
		return fmt.Errorf("approval min_key_length must be at least 32, got %d", c.Approval.MinKeyLength)
	}

	return nil
}
