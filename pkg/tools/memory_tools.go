package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/mehdiaksoy/mateai/pkg/retrieval"
)

// agentSearchMinSimilarity is stricter than interactive search: agent
// context should only carry confident matches.
const agentSearchMinSimilarity = 0.6

// MemoryHit is a tool-facing view of one retrieved chunk.
type MemoryHit struct {
	ID         string  `json:"id"`
	Content    string  `json:"content"`
	SourceType string  `json:"source_type"`
	Similarity float64 `json:"similarity,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

// RegisterMemoryTools installs the built-in memory tools backed by the
// retrieval service.
func RegisterMemoryTools(registry *Registry, retriever *retrieval.Service) error {
	memoryTools := []*Tool{
		{
			Name:        "search_memory",
			Description: "Semantically search the team's collective memory for relevant knowledge.",
			Category:    "memory",
			Parameters: []Parameter{
				{Name: "query", Type: TypeString, Required: true,
					Description: "Natural-language description of what to look for."},
				{Name: "limit", Type: TypeNumber,
					Description: "Maximum number of results (default 5)."},
			},
			Handler: func(ctx context.Context, input map[string]any) (any, error) {
				query, _ := input["query"].(string)
				result, err := retriever.Search(ctx, query, retrieval.SearchOptions{
					Limit:         intArg(input, "limit", 5),
					MinSimilarity: agentSearchMinSimilarity,
				})
				if err != nil {
					return nil, fmt.Errorf("memory search failed: %w", err)
				}
				hits := make([]MemoryHit, len(result.Chunks))
				for i, c := range result.Chunks {
					hits[i] = MemoryHit{
						ID:         c.Chunk.ID,
						Content:    c.Chunk.Content,
						SourceType: c.Chunk.SourceType,
						Similarity: c.Similarity,
						CreatedAt:  c.Chunk.CreatedAt.Format(time.RFC3339),
					}
				}
				return hits, nil
			},
		},
		{
			Name:        "get_recent_events",
			Description: "Fetch the most recent knowledge entries, optionally from one source (slack, jira, git).",
			Category:    "memory",
			Parameters: []Parameter{
				{Name: "source", Type: TypeString,
					Description: "Source type filter; omit for all sources."},
				{Name: "limit", Type: TypeNumber,
					Description: "Maximum number of results (default 10)."},
			},
			Handler: func(ctx context.Context, input map[string]any) (any, error) {
				source, _ := input["source"].(string)
				chunks, err := retriever.GetRecent(ctx, source, intArg(input, "limit", 10))
				if err != nil {
					return nil, fmt.Errorf("recent lookup failed: %w", err)
				}
				hits := make([]MemoryHit, len(chunks))
				for i, c := range chunks {
					hits[i] = MemoryHit{
						ID:         c.ID,
						Content:    c.Content,
						SourceType: c.SourceType,
						CreatedAt:  c.CreatedAt.Format(time.RFC3339),
					}
				}
				return hits, nil
			},
		},
		{
			Name:        "find_similar",
			Description: "Find knowledge entries similar to a known entry by its id.",
			Category:    "memory",
			Parameters: []Parameter{
				{Name: "chunk_id", Type: TypeString, Required: true,
					Description: "The id of the anchor entry."},
				{Name: "limit", Type: TypeNumber,
					Description: "Maximum number of neighbors (default 5)."},
			},
			Handler: func(ctx context.Context, input map[string]any) (any, error) {
				chunkID, _ := input["chunk_id"].(string)
				results, err := retriever.FindSimilar(ctx, chunkID, intArg(input, "limit", 5))
				if err != nil {
					return nil, fmt.Errorf("similarity lookup failed: %w", err)
				}
				hits := make([]MemoryHit, len(results))
				for i, c := range results {
					hits[i] = MemoryHit{
						ID:         c.Chunk.ID,
						Content:    c.Chunk.Content,
						SourceType: c.Chunk.SourceType,
						Similarity: c.Similarity,
						CreatedAt:  c.Chunk.CreatedAt.Format(time.RFC3339),
					}
				}
				return hits, nil
			},
		},
	}

	for _, tool := range memoryTools {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// intArg reads a numeric argument that arrives as float64 from JSON.
func intArg(input map[string]any, key string, fallback int) int {
	switch v := input[key].(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	}
	return fallback
}
