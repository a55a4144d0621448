package api

import (
	"time"

	"github.com/mehdiaksoy/mateai/pkg/models"
)

// AgentQueryResponse is the result of an agent query.
type AgentQueryResponse struct {
	Response   string             `json:"response"`
	DurationMs int64              `json:"durationMs"`
	Steps      []models.AgentStep `json:"steps"`
	ToolsUsed  []string           `json:"toolsUsed,omitempty"`
	Success    bool               `json:"success"`
}

// MemorySearchHit is one search result row.
type MemorySearchHit struct {
	ID         string         `json:"id"`
	Content    string         `json:"content"`
	Similarity float64        `json:"similarity"`
	SourceType string         `json:"sourceType"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// MemorySearchResponse is the result of a memory search.
type MemorySearchResponse struct {
	Results    []MemorySearchHit `json:"results"`
	Total      int               `json:"total"`
	DurationMs int64             `json:"durationMs"`
}

// RecentChunk is one row of the recent-memory listing.
type RecentChunk struct {
	ID         string         `json:"id"`
	Content    string         `json:"content"`
	SourceType string         `json:"sourceType"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// ErrorResponse is the structured error body for all failures.
type ErrorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}
