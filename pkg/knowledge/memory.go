package knowledge

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mehdiaksoy/mateai/pkg/models"
)

// MemoryStore is an in-memory Store for tests and local development. It
// mirrors PostgresStore semantics: content-hash dedup, similarity ordering
// with the same tie-breaks, and batched access-stat updates.
type MemoryStore struct {
	mu         sync.RWMutex
	dimensions int
	chunks     map[string]*models.KnowledgeChunk
	byHash     map[string]string
	now        func() time.Time
}

// NewMemoryStore creates an empty in-memory store for the given embedding
// width.
func NewMemoryStore(dimensions int) *MemoryStore {
	return &MemoryStore{
		dimensions: dimensions,
		chunks:     make(map[string]*models.KnowledgeChunk),
		byHash:     make(map[string]string),
		now:        time.Now,
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Store(_ context.Context, chunk *models.KnowledgeChunk) (string, error) {
	if len(chunk.Embedding) != s.dimensions {
		return "", ErrDimensionMismatch
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byHash[chunk.ContentHash]; ok {
		return existing, nil
	}

	cp := *chunk
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.Tier == "" {
		cp.Tier = models.TierHot
	}
	now := s.now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	cp.Embedding = append([]float32(nil), chunk.Embedding...)

	s.chunks[cp.ID] = &cp
	s.byHash[cp.ContentHash] = cp.ID
	chunk.ID = cp.ID
	return cp.ID, nil
}

func (s *MemoryStore) Search(_ context.Context, queryVector []float32, opts SearchOptions) ([]models.ScoredChunk, error) {
	if len(queryVector) != s.dimensions {
		return nil, ErrDimensionMismatch
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tierSet := make(map[models.Tier]bool)
	for _, t := range opts.effectiveTiers() {
		tierSet[t] = true
	}
	sourceSet := make(map[string]bool)
	for _, src := range opts.SourceTypes {
		sourceSet[src] = true
	}
	minSim := opts.effectiveMinSimilarity()

	var results []models.ScoredChunk
	for _, chunk := range s.chunks {
		if !tierSet[chunk.Tier] {
			continue
		}
		if len(sourceSet) > 0 && !sourceSet[chunk.SourceType] {
			continue
		}
		sim := cosineSimilarity(queryVector, chunk.Embedding)
		if sim < minSim {
			continue
		}
		results = append(results, models.ScoredChunk{Chunk: *chunk, Similarity: sim})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		ci, cj := results[i].Chunk, results[j].Chunk
		if !ci.CreatedAt.Equal(cj.CreatedAt) {
			return ci.CreatedAt.After(cj.CreatedAt)
		}
		return ci.ID < cj.ID
	})

	if k := opts.effectiveTopK(); len(results) > k {
		results = results[:k]
	}

	if !opts.SkipAccessUpdate {
		now := s.now()
		for i := range results {
			stored := s.chunks[results[i].Chunk.ID]
			stored.AccessCount++
			t := now
			stored.LastAccessedAt = &t
			results[i].Chunk = *stored
		}
	}
	return results, nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (*models.KnowledgeChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chunk, ok := s.chunks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *chunk
	cp.Embedding = append([]float32(nil), chunk.Embedding...)
	return &cp, nil
}

func (s *MemoryStore) GetBySource(_ context.Context, sourceType string, limit int) ([]models.KnowledgeChunk, error) {
	if limit <= 0 {
		limit = 20
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var chunks []models.KnowledgeChunk
	for _, chunk := range s.chunks {
		if sourceType != "" && chunk.SourceType != sourceType {
			continue
		}
		chunks = append(chunks, *chunk)
	}
	sort.Slice(chunks, func(i, j int) bool {
		return chunks[i].CreatedAt.After(chunks[j].CreatedAt)
	})
	if len(chunks) > limit {
		chunks = chunks[:limit]
	}
	return chunks, nil
}

func (s *MemoryStore) Stats(_ context.Context) (StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := StoreStats{
		ByTier:   make(map[string]int64),
		BySource: make(map[string]int64),
	}
	for _, chunk := range s.chunks {
		stats.Total++
		stats.ByTier[string(chunk.Tier)]++
		stats.BySource[chunk.SourceType]++
	}
	return stats, nil
}

func (s *MemoryStore) DemoteTier(_ context.Context, from, to models.Tier, cutoff time.Time, accessBelow int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var demoted int64
	for _, chunk := range s.chunks {
		if chunk.Tier == from && chunk.CreatedAt.Before(cutoff) && chunk.AccessCount < accessBelow {
			chunk.Tier = to
			chunk.UpdatedAt = s.now()
			demoted++
		}
	}
	return demoted, nil
}

// SetClock overrides the store's time source (tests only).
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}
