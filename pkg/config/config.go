// Package config loads and validates the service configuration from YAML
// with shell-style environment expansion.
package config

// Config is the umbrella configuration object returned by Initialize and
// passed to the composition root.
type Config struct {
	configDir string

	Queue     *QueueConfig     `yaml:"queue"`
	LLM       *LLMConfig       `yaml:"llm"`
	Embedding *EmbeddingConfig `yaml:"embedding"`
	Chunk     *ChunkConfig     `yaml:"chunk"`
	Retrieval *RetrievalConfig `yaml:"retrieval"`
	Context   *ContextConfig   `yaml:"context"`
	Agent     *AgentConfig     `yaml:"agent"`
	Adapters  *AdaptersConfig  `yaml:"adapters"`
	Server    *ServerConfig    `yaml:"server"`
}

// ConfigDir returns the directory the configuration was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Provider retrieves an LLM provider configuration by name.
func (c *Config) Provider(name string) (*ProviderConfig, bool) {
	p, ok := c.LLM.Providers[name]
	return p, ok
}
