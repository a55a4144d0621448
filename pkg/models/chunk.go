package models

import "time"

// Tier is the lifecycle class of a knowledge chunk.
type Tier string

const (
	TierHot  Tier = "hot"
	TierWarm Tier = "warm"
	TierCold Tier = "cold"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t == TierHot || t == TierWarm || t == TierCold
}

// KnowledgeChunk is the atomic unit of searchable memory: a summarized,
// embedded view of exactly one raw event.
//
// Invariants: ContentHash is unique across the store; len(Embedding) matches
// the store's configured dimension; AccessCount never decreases.
type KnowledgeChunk struct {
	ID             string
	Content        string
	ContentHash    string // hex SHA-256 of Content
	SourceType     string
	SourceEventID  string
	Metadata       map[string]any
	Importance     float64 // [0,1]
	Embedding      []float32
	EmbeddingModel string
	Tier           Tier
	AccessCount    int64
	LastAccessedAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ScoredChunk pairs a chunk with its cosine similarity to a query vector.
type ScoredChunk struct {
	Chunk      KnowledgeChunk
	Similarity float64
}
