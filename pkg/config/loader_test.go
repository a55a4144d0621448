package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mateai.yaml"), []byte(content), 0o644))
	return dir
}

func TestInitializeWithDefaults(t *testing.T) {
	dir := writeConfig(t, "{}\n")

	cfg, err := Initialize(dir)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Queue.WorkerCount)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Queue.BackoffBase)
	assert.Equal(t, 30*time.Second, cfg.Queue.BackoffCap)

	assert.Equal(t, "anthropic", cfg.LLM.DefaultProvider)
	assert.Len(t, cfg.LLM.Providers, 3)

	assert.Equal(t, 768, cfg.Embedding.Dimensions)
	assert.Equal(t, 20, cfg.Retrieval.TopK)
	assert.InDelta(t, 0.5, cfg.Retrieval.MinSimilarity, 1e-9)
	assert.InDelta(t, 0.7, cfg.Retrieval.SimilarityWeight, 1e-9)
	assert.InDelta(t, 0.3, cfg.Retrieval.ImportanceWeight, 1e-9)

	assert.Equal(t, 8000, cfg.Context.MaxTokens)
	assert.Equal(t, 10, cfg.Context.MaxHistory)
	assert.Equal(t, 500, cfg.Context.FormatReserve)

	assert.Equal(t, 5, cfg.Agent.MaxIterations)
	assert.InDelta(t, 0.7, cfg.Agent.Temperature, 1e-9)
	assert.Equal(t, 2000, cfg.Agent.MaxTokens)

	assert.Equal(t, 7*24*time.Hour, cfg.Chunk.HotAge)
	assert.Equal(t, 30*24*time.Hour, cfg.Chunk.WarmAge)
}

func TestInitializeUserOverrides(t *testing.T) {
	dir := writeConfig(t, `
queue:
  worker_count: 8
  host: redis.internal
llm:
  default_provider: openai
retrieval:
  top_k: 5
  rerank_enabled: true
agent:
  max_iterations: 7
`)

	cfg, err := Initialize(dir)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Queue.WorkerCount)
	assert.Equal(t, "redis.internal", cfg.Queue.Host)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts, "unset values keep defaults")
	assert.Equal(t, "openai", cfg.LLM.DefaultProvider)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.True(t, cfg.Retrieval.RerankEnabled)
	assert.Equal(t, 7, cfg.Agent.MaxIterations)
}

func TestInitializeExpandsEnv(t *testing.T) {
	t.Setenv("TEST_REDIS_HOST", "redis.from-env")
	dir := writeConfig(t, "queue:\n  host: ${TEST_REDIS_HOST}\n")

	cfg, err := Initialize(dir)
	require.NoError(t, err)
	assert.Equal(t, "redis.from-env", cfg.Queue.Host)
}

func TestInitializeMissingFile(t *testing.T) {
	_, err := Initialize(t.TempDir())
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestInitializeInvalidYAML(t *testing.T) {
	dir := writeConfig(t, "queue: [not a map\n")
	_, err := Initialize(dir)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero workers", func(c *Config) { c.Queue.WorkerCount = 0 }},
		{"too many workers", func(c *Config) { c.Queue.WorkerCount = 99 }},
		{"unknown default provider", func(c *Config) { c.LLM.DefaultProvider = "mystery" }},
		{"unknown provider type", func(c *Config) { c.LLM.Providers["anthropic"].Type = "watson" }},
		{"missing model", func(c *Config) { c.LLM.Providers["openai"].Model = "" }},
		{"zero dimensions", func(c *Config) { c.Embedding.Dimensions = 0 }},
		{"unknown embedding provider", func(c *Config) { c.Embedding.Provider = "mystery" }},
		{"similarity out of range", func(c *Config) { c.Retrieval.MinSimilarity = 1.5 }},
		{"budget below reserve", func(c *Config) { c.Context.MaxTokens = 100 }},
		{"zero iterations", func(c *Config) { c.Agent.MaxIterations = 0 }},
		{"warm age below hot age", func(c *Config) { c.Chunk.WarmAge = c.Chunk.HotAge / 2 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeConfig(t, "{}\n")
			cfg, err := Initialize(dir)
			require.NoError(t, err)

			tt.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestExpandEnvSyntax(t *testing.T) {
	t.Setenv("EXPAND_A", "alpha")
	out := string(ExpandEnv([]byte("x: ${EXPAND_A}\ny: $EXPAND_A\nz: ${EXPAND_MISSING}\n")))
	assert.Contains(t, out, "x: alpha")
	assert.Contains(t, out, "y: alpha")
	assert.Contains(t, out, "z: \n")
}
