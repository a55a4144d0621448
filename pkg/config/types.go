package config

import "time"

// QueueConfig contains the Redis queue backend and worker pool settings.
type QueueConfig struct {
	// Redis connection.
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// WorkerCount is the number of worker goroutines per queue.
	WorkerCount int `yaml:"worker_count"`

	// MaxAttempts is the default delivery attempt cap per job.
	MaxAttempts int `yaml:"max_attempts"`

	// BackoffBase is the base of the exponential retry backoff
	// (base * 2^(attempts-1), capped at BackoffCap).
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffCap  time.Duration `yaml:"backoff_cap"`

	// JobTimeout is the per-job visibility timeout. A job held longer than
	// this by a dead worker is requeued by the reaper.
	JobTimeout time.Duration `yaml:"job_timeout"`

	// HeartbeatInterval is how often workers refresh their liveness key.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// ReaperInterval is how often orphaned processing jobs are scanned for.
	ReaperInterval time.Duration `yaml:"reaper_interval"`

	// CompletedRetention is the expiry set on the completed list after each
	// completion; it bounds the list's idle lifetime, not each entry's age.
	CompletedRetention time.Duration `yaml:"completed_retention"`
	CompletedMaxCount  int64         `yaml:"completed_max_count"`
	FailedRetention    time.Duration `yaml:"failed_retention"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		Host:               "localhost",
		Port:               6379,
		WorkerCount:        5,
		MaxAttempts:        3,
		BackoffBase:        2 * time.Second,
		BackoffCap:         30 * time.Second,
		JobTimeout:         2 * time.Minute,
		HeartbeatInterval:  15 * time.Second,
		ReaperInterval:     time.Minute,
		CompletedRetention: 24 * time.Hour,
		CompletedMaxCount:  1000,
		FailedRetention:    7 * 24 * time.Hour,
	}
}

// ProviderConfig describes one LLM provider backend.
type ProviderConfig struct {
	// Type selects the implementation: anthropic, openai, or google.
	Type string `yaml:"type"`

	// Model is the chat/completion model identifier.
	Model string `yaml:"model"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`

	// BaseURL overrides the provider endpoint (optional).
	BaseURL string `yaml:"base_url,omitempty"`
}

// LLMConfig selects the default chat provider and configures the pool.
type LLMConfig struct {
	DefaultProvider string                     `yaml:"default_provider"`
	Providers       map[string]*ProviderConfig `yaml:"providers"`
}

// DefaultLLMConfig returns the built-in provider defaults.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		DefaultProvider: "anthropic",
		Providers: map[string]*ProviderConfig{
			"anthropic": {
				Type:      "anthropic",
				Model:     "claude-sonnet-4-20250514",
				APIKeyEnv: "ANTHROPIC_API_KEY",
			},
			"openai": {
				Type:      "openai",
				Model:     "gpt-4o",
				APIKeyEnv: "OPENAI_API_KEY",
			},
			"google": {
				Type:      "google",
				Model:     "gemini-1.5-pro",
				APIKeyEnv: "GOOGLE_API_KEY",
			},
		},
	}
}

// EmbeddingConfig configures the embedding backend. Dimensions is global:
// the knowledge store's vector column and ANN index are built for it.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	BatchSize  int    `yaml:"batch_size"`
}

// DefaultEmbeddingConfig returns the built-in embedding defaults.
func DefaultEmbeddingConfig() *EmbeddingConfig {
	return &EmbeddingConfig{
		Provider:   "openai",
		Model:      "text-embedding-3-small",
		Dimensions: 768,
		BatchSize:  32,
	}
}

// ChunkConfig controls the tier lifecycle of knowledge chunks.
type ChunkConfig struct {
	// HotAge is how old a chunk must be before hot→warm demotion.
	HotAge time.Duration `yaml:"hot_age"`
	// WarmAge is how old a chunk must be before warm→cold demotion.
	WarmAge time.Duration `yaml:"warm_age"`
	// HotAccessThreshold: chunks accessed fewer times than this count as
	// low-access for hot→warm demotion.
	HotAccessThreshold int64 `yaml:"hot_access_threshold"`
	// WarmAccessThreshold: same for warm→cold.
	WarmAccessThreshold int64 `yaml:"warm_access_threshold"`
	// LifecycleInterval is how often the demotion job runs.
	LifecycleInterval time.Duration `yaml:"lifecycle_interval"`
}

// DefaultChunkConfig returns the built-in tiering defaults.
func DefaultChunkConfig() *ChunkConfig {
	return &ChunkConfig{
		HotAge:              7 * 24 * time.Hour,
		WarmAge:             30 * 24 * time.Hour,
		HotAccessThreshold:  3,
		WarmAccessThreshold: 1,
		LifecycleInterval:   time.Hour,
	}
}

// RetrievalConfig tunes semantic search.
type RetrievalConfig struct {
	TopK             int     `yaml:"top_k"`
	MinSimilarity    float64 `yaml:"min_similarity"`
	SimilarityWeight float64 `yaml:"similarity_weight"`
	ImportanceWeight float64 `yaml:"importance_weight"`
	RerankEnabled    bool    `yaml:"rerank_enabled"`
	RerankDepth      int     `yaml:"rerank_depth"`
}

// DefaultRetrievalConfig returns the built-in retrieval defaults.
func DefaultRetrievalConfig() *RetrievalConfig {
	return &RetrievalConfig{
		TopK:             20,
		MinSimilarity:    0.5,
		SimilarityWeight: 0.7,
		ImportanceWeight: 0.3,
		RerankDepth:      10,
	}
}

// ContextConfig bounds the prompt assembly budget.
type ContextConfig struct {
	MaxTokens          int     `yaml:"max_tokens"`
	MaxHistory         int     `yaml:"max_history"`
	FormatReserve      int     `yaml:"format_reserve"`
	RelevanceThreshold float64 `yaml:"relevance_threshold"`
}

// DefaultContextConfig returns the built-in context builder defaults.
func DefaultContextConfig() *ContextConfig {
	return &ContextConfig{
		MaxTokens:          8000,
		MaxHistory:         10,
		FormatReserve:      500,
		RelevanceThreshold: 0.6,
	}
}

// AgentConfig bounds the tool-using agent loop.
type AgentConfig struct {
	MaxIterations int     `yaml:"max_iterations"`
	Temperature   float64 `yaml:"temperature"`
	MaxTokens     int     `yaml:"max_tokens"`
}

// DefaultAgentConfig returns the built-in agent defaults.
func DefaultAgentConfig() *AgentConfig {
	return &AgentConfig{
		MaxIterations: 5,
		Temperature:   0.7,
		MaxTokens:     2000,
	}
}

// SlackAdapterConfig configures the Slack source adapter.
type SlackAdapterConfig struct {
	Enabled     bool   `yaml:"enabled"`
	AppTokenEnv string `yaml:"app_token_env"`
	BotTokenEnv string `yaml:"bot_token_env"`
}

// AdaptersConfig groups the source adapter settings.
type AdaptersConfig struct {
	Slack *SlackAdapterConfig `yaml:"slack"`
}

// DefaultAdaptersConfig returns the built-in adapter defaults.
func DefaultAdaptersConfig() *AdaptersConfig {
	return &AdaptersConfig{
		Slack: &SlackAdapterConfig{
			AppTokenEnv: "SLACK_APP_TOKEN",
			BotTokenEnv: "SLACK_BOT_TOKEN",
		},
	}
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
	}
}
