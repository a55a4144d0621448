package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Initialize loads, merges, and validates configuration from
// <configDir>/mateai.yaml.
//
// Steps performed:
//  1. Read the YAML file
//  2. Expand environment variables
//  3. Parse into the Config struct
//  4. Merge user values over built-in defaults
//  5. Validate
func Initialize(configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized",
		"default_provider", cfg.LLM.DefaultProvider,
		"providers", len(cfg.LLM.Providers),
		"embedding_dimensions", cfg.Embedding.Dimensions)

	return cfg, nil
}

func load(configDir string) (*Config, error) {
	var fileCfg Config
	if err := loadYAML(filepath.Join(configDir, "mateai.yaml"), &fileCfg); err != nil {
		return nil, NewLoadError("mateai.yaml", err)
	}

	cfg := &Config{
		configDir: configDir,
		Queue:     DefaultQueueConfig(),
		LLM:       DefaultLLMConfig(),
		Embedding: DefaultEmbeddingConfig(),
		Chunk:     DefaultChunkConfig(),
		Retrieval: DefaultRetrievalConfig(),
		Context:   DefaultContextConfig(),
		Agent:     DefaultAgentConfig(),
		Adapters:  DefaultAdaptersConfig(),
		Server:    DefaultServerConfig(),
	}

	// Merge user-provided sections into defaults (non-zero values override).
	if fileCfg.Queue != nil {
		if err := mergo.Merge(cfg.Queue, fileCfg.Queue, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge queue config: %w", err)
		}
	}
	if fileCfg.LLM != nil {
		if fileCfg.LLM.DefaultProvider != "" {
			cfg.LLM.DefaultProvider = fileCfg.LLM.DefaultProvider
		}
		// User-defined providers override built-ins wholesale by name.
		for name, p := range fileCfg.LLM.Providers {
			cfg.LLM.Providers[name] = p
		}
	}
	if fileCfg.Embedding != nil {
		if err := mergo.Merge(cfg.Embedding, fileCfg.Embedding, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge embedding config: %w", err)
		}
	}
	if fileCfg.Chunk != nil {
		if err := mergo.Merge(cfg.Chunk, fileCfg.Chunk, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge chunk config: %w", err)
		}
	}
	if fileCfg.Retrieval != nil {
		if err := mergo.Merge(cfg.Retrieval, fileCfg.Retrieval, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge retrieval config: %w", err)
		}
		cfg.Retrieval.RerankEnabled = fileCfg.Retrieval.RerankEnabled
	}
	if fileCfg.Context != nil {
		if err := mergo.Merge(cfg.Context, fileCfg.Context, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge context config: %w", err)
		}
	}
	if fileCfg.Agent != nil {
		if err := mergo.Merge(cfg.Agent, fileCfg.Agent, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge agent config: %w", err)
		}
	}
	if fileCfg.Adapters != nil && fileCfg.Adapters.Slack != nil {
		if err := mergo.Merge(cfg.Adapters.Slack, fileCfg.Adapters.Slack, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge adapter config: %w", err)
		}
		cfg.Adapters.Slack.Enabled = fileCfg.Adapters.Slack.Enabled
	}
	if fileCfg.Server != nil {
		if err := mergo.Merge(cfg.Server, fileCfg.Server, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge server config: %w", err)
		}
	}

	return cfg, nil
}

func loadYAML(path string, target any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return nil
}
