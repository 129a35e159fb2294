package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "sacredlayer", cfg.Name)
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
	assert.Equal(t, 1000, cfg.Chunking.TargetSize)
	assert.Equal(t, 0.3, cfg.Drift.ViolationThreshold)
	assert.Equal(t, 32, cfg.Approval.MinKeyLength)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Chunking.TargetSize, cfg.Chunking.TargetSize)
}

func TestLoad_ParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
embedding:
  provider: genai
  genai_model: gemini-embedding-001
  timeout: 10s
chunking:
  target_size: 1500
drift:
  violation_threshold: 0.25
  high_severity_below: 0.05
  activity_window: 48h
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "genai", cfg.Embedding.Provider)
	assert.Equal(t, 1500, cfg.Chunking.TargetSize)
	assert.Equal(t, 0.25, cfg.Drift.ViolationThreshold)
	assert.Equal(t, 10*time.Second, cfg.GetEmbeddingTimeout())
	assert.Equal(t, 48*time.Hour, cfg.GetActivityWindow())
	// Defaults survive partial config
	assert.Equal(t, "SACRED_APPROVAL_KEY", cfg.Approval.SecondaryKeyEnv)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SACRED_EMBEDDING_PROVIDER", "offline")
	t.Setenv("SACRED_REGISTRY_DB", "/tmp/alt-registry.db")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "offline", cfg.Embedding.Provider)
	assert.Equal(t, "/tmp/alt-registry.db", cfg.Storage.RegistryPath)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad provider", func(c *Config) { c.Embedding.Provider = "magic" }},
		{"tiny chunks", func(c *Config) { c.Chunking.TargetSize = 10 }},
		{"threshold out of range", func(c *Config) { c.Drift.ViolationThreshold = 1.5 }},
		{"inverted severity", func(c *Config) { c.Drift.HighSeverityBelow = 0.9 }},
		{"weak key policy", func(c *Config) { c.Approval.MinKeyLength = 8 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".sacred", "config.yaml")

	cfg := DefaultConfig()
	cfg.Chunking.TargetSize = 2000
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2000, loaded.Chunking.TargetSize)
}
