// Package knowledge is the vector-indexed chunk store: content-hash dedup,
// cosine similarity search, and tiered lifecycle with access statistics.
package knowledge

import (
	"context"
	"errors"
	"time"

	"github.com/mehdiaksoy/mateai/pkg/models"
)

// ErrNotFound is returned when a chunk does not exist.
var ErrNotFound = errors.New("chunk not found")

// ErrDimensionMismatch is returned when a vector's width does not match the
// store's configured dimension.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// SearchOptions filter and bound a similarity search.
type SearchOptions struct {
	// SourceTypes restricts results to the given sources (nil = all).
	SourceTypes []string

	// Tiers restricts results to the given tiers (nil = hot+warm).
	Tiers []models.Tier

	// MinSimilarity drops results below the threshold. Zero means the
	// store default of 0.7.
	MinSimilarity float64

	// TopK bounds the result count. Zero means the default of 20.
	TopK int

	// SkipAccessUpdate suppresses the access-statistics write. Used by
	// internal lookups (e.g. findSimilar anchors) that are not real reads.
	SkipAccessUpdate bool
}

func (o SearchOptions) effectiveTiers() []models.Tier {
	if len(o.Tiers) > 0 {
		return o.Tiers
	}
	return []models.Tier{models.TierHot, models.TierWarm}
}

func (o SearchOptions) effectiveMinSimilarity() float64 {
	if o.MinSimilarity > 0 {
		return o.MinSimilarity
	}
	return 0.7
}

func (o SearchOptions) effectiveTopK() int {
	if o.TopK > 0 {
		return o.TopK
	}
	return 20
}

// StoreStats summarizes the chunk population.
type StoreStats struct {
	Total    int64            `json:"total"`
	ByTier   map[string]int64 `json:"by_tier"`
	BySource map[string]int64 `json:"by_source"`
}

// Store is the knowledge-chunk repository.
type Store interface {
	// Store inserts a chunk, deduplicating on content hash: when a chunk
	// with the same hash exists its id is returned and nothing is written.
	Store(ctx context.Context, chunk *models.KnowledgeChunk) (string, error)

	// Search returns chunks by descending cosine similarity to queryVector,
	// all >= the minimum similarity. Ties break on newer created_at, then
	// lexicographic id. Access statistics for the returned chunks are
	// updated in a single batched write.
	Search(ctx context.Context, queryVector []float32, opts SearchOptions) ([]models.ScoredChunk, error)

	// GetByID fetches one chunk, embedding included.
	GetByID(ctx context.Context, id string) (*models.KnowledgeChunk, error)

	// GetBySource returns the most recent chunks, optionally filtered by
	// source type.
	GetBySource(ctx context.Context, sourceType string, limit int) ([]models.KnowledgeChunk, error)

	// Stats reports chunk counts overall, per tier, and per source.
	Stats(ctx context.Context) (StoreStats, error)

	// DemoteTier moves chunks from one tier to the next when they are older
	// than cutoff and have been accessed fewer than accessBelow times.
	// Returns the number of demoted chunks. Chunks are never deleted.
	DemoteTier(ctx context.Context, from, to models.Tier, cutoff time.Time, accessBelow int64) (int64, error)
}
