package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/mehdiaksoy/mateai/pkg/config"
)

// Manager holds the configured providers and selects among them. Each
// provider sits behind a circuit breaker; GetWithFallback skips providers
// whose breaker is open.
type Manager struct {
	mu        sync.RWMutex
	providers map[string]Provider
	breakers  map[string]*gobreaker.CircuitBreaker
	order     []string // registration order, used for fallback scanning
	defaultP  string
}

// NewManager creates an empty provider manager. defaultProvider names the
// provider returned by Default().
func NewManager(defaultProvider string) *Manager {
	return &Manager{
		providers: make(map[string]Provider),
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
		defaultP:  defaultProvider,
	}
}

// Register adds a provider under its name.
func (m *Manager) Register(p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := p.Name()
	m.providers[name] = p
	m.breakers[name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "llm-" + name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && counts.TotalFailures*2 > counts.Requests
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Provider breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})
	m.order = append(m.order, name)
}

// Get retrieves a provider by name.
func (m *Manager) Get(name string) (Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return p, nil
}

// Default returns the configured default provider.
func (m *Manager) Default() (Provider, error) {
	return m.Get(m.defaultP)
}

// DefaultName returns the configured default provider name.
func (m *Manager) DefaultName() string { return m.defaultP }

// GetWithFallback returns the preferred provider when it is registered and
// its breaker is not open, otherwise the first available registered
// provider.
func (m *Manager) GetWithFallback(preferred string) (Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if p, ok := m.providers[preferred]; ok && m.available(preferred) {
		return p, nil
	}
	for _, name := range m.order {
		if name == preferred {
			continue
		}
		if m.available(name) {
			slog.Info("Falling back to alternate provider",
				"preferred", preferred, "selected", name)
			return m.providers[name], nil
		}
	}
	return nil, ErrNoProviderAvailable
}

// available must be called with the lock held.
func (m *Manager) available(name string) bool {
	cb, ok := m.breakers[name]
	if !ok {
		return false
	}
	return cb.State() != gobreaker.StateOpen
}

// Breaker exposes the circuit breaker for a provider so callers can route
// calls through it.
func (m *Manager) Breaker(name string) (*gobreaker.CircuitBreaker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cb, ok := m.breakers[name]
	return cb, ok
}

// BuildManager assembles a Manager from configuration. Providers whose API
// key env var is unset are skipped with a warning so a partially configured
// deployment still starts.
func BuildManager(ctx context.Context, cfg *config.LLMConfig, embedding *config.EmbeddingConfig, getenv func(string) string) (*Manager, error) {
	m := NewManager(cfg.DefaultProvider)

	for name, pc := range cfg.Providers {
		apiKey := getenv(pc.APIKeyEnv)
		if apiKey == "" {
			slog.Warn("Skipping provider: API key not set", "provider", name, "env", pc.APIKeyEnv)
			continue
		}

		var (
			p   Provider
			err error
		)
		switch pc.Type {
		case "anthropic":
			p, err = NewAnthropicProvider(name, apiKey, pc.Model, pc.BaseURL)
		case "openai":
			embeddingModel := ""
			dims := 0
			if embedding != nil && embedding.Provider == name {
				embeddingModel = embedding.Model
				dims = embedding.Dimensions
			}
			p, err = NewOpenAIProvider(name, apiKey, pc.Model, pc.BaseURL, embeddingModel, dims)
		case "google":
			embeddingModel := ""
			if embedding != nil && embedding.Provider == name {
				embeddingModel = embedding.Model
			}
			p, err = NewGoogleProvider(ctx, name, apiKey, pc.Model, embeddingModel)
		default:
			err = fmt.Errorf("unknown provider type %q", pc.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to build provider %s: %w", name, err)
		}
		m.Register(p)
	}

	if len(m.providers) == 0 {
		return nil, ErrNoProviderAvailable
	}
	return m, nil
}
