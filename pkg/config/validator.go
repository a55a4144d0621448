package config

import "fmt"

// Validate performs a full validation pass over a merged configuration.
func Validate(cfg *Config) error {
	if cfg.Queue == nil {
		return &ValidationError{Field: "queue", Message: "queue configuration is nil"}
	}
	if cfg.Queue.WorkerCount < 1 || cfg.Queue.WorkerCount > 50 {
		return &ValidationError{Field: "queue.worker_count", Message: "must be between 1 and 50"}
	}
	if cfg.Queue.MaxAttempts < 1 {
		return &ValidationError{Field: "queue.max_attempts", Message: "must be at least 1"}
	}
	if cfg.Queue.BackoffBase <= 0 || cfg.Queue.BackoffCap < cfg.Queue.BackoffBase {
		return &ValidationError{Field: "queue.backoff", Message: "backoff_cap must be >= backoff_base > 0"}
	}

	if cfg.LLM == nil || len(cfg.LLM.Providers) == 0 {
		return &ValidationError{Field: "llm.providers", Message: "at least one provider is required"}
	}
	if _, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; !ok {
		return &ValidationError{
			Field:   "llm.default_provider",
			Message: fmt.Sprintf("%q is not a configured provider", cfg.LLM.DefaultProvider),
		}
	}
	for name, p := range cfg.LLM.Providers {
		switch p.Type {
		case "anthropic", "openai", "google":
		default:
			return &ValidationError{
				Field:   "llm.providers." + name + ".type",
				Message: fmt.Sprintf("unknown provider type %q", p.Type),
			}
		}
		if p.Model == "" {
			return &ValidationError{Field: "llm.providers." + name + ".model", Message: "model is required"}
		}
	}

	if cfg.Embedding.Dimensions < 1 {
		return &ValidationError{Field: "embedding.dimensions", Message: "must be positive"}
	}
	if cfg.Embedding.BatchSize < 1 {
		return &ValidationError{Field: "embedding.batch_size", Message: "must be at least 1"}
	}
	if _, ok := cfg.LLM.Providers[cfg.Embedding.Provider]; !ok {
		return &ValidationError{
			Field:   "embedding.provider",
			Message: fmt.Sprintf("%q is not a configured provider", cfg.Embedding.Provider),
		}
	}

	if cfg.Retrieval.TopK < 1 {
		return &ValidationError{Field: "retrieval.top_k", Message: "must be at least 1"}
	}
	if cfg.Retrieval.MinSimilarity < 0 || cfg.Retrieval.MinSimilarity > 1 {
		return &ValidationError{Field: "retrieval.min_similarity", Message: "must be within [0,1]"}
	}
	if w := cfg.Retrieval.SimilarityWeight + cfg.Retrieval.ImportanceWeight; w <= 0 {
		return &ValidationError{Field: "retrieval.weights", Message: "weights must sum to a positive value"}
	}

	if cfg.Context.MaxTokens < cfg.Context.FormatReserve {
		return &ValidationError{Field: "context.max_tokens", Message: "must be at least format_reserve"}
	}
	if cfg.Context.MaxHistory < 0 {
		return &ValidationError{Field: "context.max_history", Message: "cannot be negative"}
	}

	if cfg.Agent.MaxIterations < 1 {
		return &ValidationError{Field: "agent.max_iterations", Message: "must be at least 1"}
	}

	if cfg.Chunk.HotAge <= 0 || cfg.Chunk.WarmAge <= cfg.Chunk.HotAge {
		return &ValidationError{Field: "chunk", Message: "warm_age must exceed hot_age > 0"}
	}

	return nil
}
