// Package promptctx assembles token-bounded prompts from retrieval results
// and conversation history for the agent.
package promptctx

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mehdiaksoy/mateai/pkg/config"
	"github.com/mehdiaksoy/mateai/pkg/llm"
	"github.com/mehdiaksoy/mateai/pkg/models"
	"github.com/mehdiaksoy/mateai/pkg/retrieval"
)

// candidateLimit bounds how many chunks are considered per build.
const candidateLimit = 30

// Options tune one context build. Zero values fall back to the configured
// defaults.
type Options struct {
	MaxTokens          int
	SystemPrompt       string
	IncludeHistory     bool
	MaxHistory         int
	RelevanceThreshold float64
}

// Metadata describes what went into a built context.
type Metadata struct {
	ChunksUsed       int      `json:"chunks_used"`
	TotalTokens      int      `json:"total_tokens"`
	AverageRelevance float64  `json:"average_relevance"`
	Sources          []string `json:"sources"`
}

// BuiltContext is the assembled prompt material.
type BuiltContext struct {
	SystemPrompt        string                       `json:"system_prompt"`
	KnowledgeContext    string                       `json:"knowledge_context"`
	ConversationHistory []models.ConversationMessage `json:"conversation_history"`
	Metadata            Metadata                     `json:"metadata"`
}

// Builder assembles prompts within a token budget.
type Builder struct {
	retriever *retrieval.Service
	cfg       *config.ContextConfig
	log       *slog.Logger
}

// NewBuilder creates a context builder over the retrieval service.
func NewBuilder(retriever *retrieval.Service, cfg *config.ContextConfig) *Builder {
	return &Builder{
		retriever: retriever,
		cfg:       cfg,
		log:       slog.With("component", "context-builder"),
	}
}

// Build retrieves knowledge for the query and assembles a prompt whose
// estimated token count stays within the budget.
//
// Budget accounting: the system prompt is reserved first, then the included
// history; chunks are added greedily in similarity-descending order until
// the next chunk would overrun the remaining budget minus the formatting
// reserve.
func (b *Builder) Build(ctx context.Context, query string, history []models.ConversationMessage, opts Options) (*BuiltContext, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = b.cfg.MaxTokens
	}
	maxHistory := opts.MaxHistory
	if maxHistory <= 0 {
		maxHistory = b.cfg.MaxHistory
	}
	threshold := opts.RelevanceThreshold
	if threshold <= 0 {
		threshold = b.cfg.RelevanceThreshold
	}

	budget := maxTokens - llm.EstimateTokens(opts.SystemPrompt)

	var included []models.ConversationMessage
	if opts.IncludeHistory && len(history) > 0 {
		start := len(history) - maxHistory
		if start < 0 {
			start = 0
		}
		included = history[start:]
		for _, msg := range included {
			budget -= llm.EstimateTokens(msg.Content)
		}
	}

	result, err := b.retriever.Search(ctx, query, retrieval.SearchOptions{
		Limit:         candidateLimit,
		MinSimilarity: threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve context: %w", err)
	}

	var (
		sections     []string
		relevanceSum float64
		usedTokens   int
		sources      []string
		seenSources  = map[string]bool{}
	)
	for _, hit := range result.Chunks {
		section := formatChunk(hit)
		cost := llm.EstimateTokens(section)
		if usedTokens+cost > budget-b.cfg.FormatReserve {
			break
		}
		usedTokens += cost
		sections = append(sections, section)
		relevanceSum += hit.Relevance
		if !seenSources[hit.Chunk.SourceType] {
			seenSources[hit.Chunk.SourceType] = true
			sources = append(sources, hit.Chunk.SourceType)
		}
	}

	built := &BuiltContext{
		SystemPrompt:        opts.SystemPrompt,
		KnowledgeContext:    strings.Join(sections, "\n---\n"),
		ConversationHistory: included,
		Metadata: Metadata{
			ChunksUsed:  len(sections),
			TotalTokens: maxTokens - budget + usedTokens,
			Sources:     sources,
		},
	}
	if len(sections) > 0 {
		built.Metadata.AverageRelevance = relevanceSum / float64(len(sections))
	}

	b.log.Debug("Context built",
		"chunks_considered", len(result.Chunks),
		"chunks_used", built.Metadata.ChunksUsed,
		"total_tokens", built.Metadata.TotalTokens)
	return built, nil
}

// formatChunk renders one chunk section: a source/relevance header, a blank
// line, then the content.
func formatChunk(hit retrieval.ScoredResult) string {
	return fmt.Sprintf("[Source: %s | Relevance: %d%%]\n\n%s",
		hit.Chunk.SourceType, int(hit.Relevance*100), hit.Chunk.Content)
}
