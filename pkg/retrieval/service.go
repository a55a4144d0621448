// Package retrieval answers semantic queries over the knowledge store:
// query embedding, vector search, relevance scoring, and optional LLM
// reranking.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mehdiaksoy/mateai/pkg/config"
	"github.com/mehdiaksoy/mateai/pkg/knowledge"
	"github.com/mehdiaksoy/mateai/pkg/llm"
	"github.com/mehdiaksoy/mateai/pkg/models"
)

// ErrNotFound is returned when a referenced chunk does not exist.
var ErrNotFound = errors.New("chunk not found")

// ScoredResult is one retrieval hit: the chunk, its raw similarity, and the
// blended relevance score used for ordering downstream.
type ScoredResult struct {
	Chunk      models.KnowledgeChunk `json:"chunk"`
	Similarity float64               `json:"similarity"`
	Relevance  float64               `json:"relevance"`
}

// Result is a complete retrieval response.
type Result struct {
	Chunks            []ScoredResult `json:"chunks"`
	Query             string         `json:"query"`
	TotalResults      int            `json:"total_results"`
	AverageSimilarity float64        `json:"average_similarity"`
	RetrievedAt       time.Time      `json:"retrieved_at"`
}

// SearchOptions tune one retrieval call. Zero values fall back to the
// configured defaults.
type SearchOptions struct {
	Limit         int
	MinSimilarity float64
	SourceTypes   []string
}

// Service is the retrieval engine. reranker may be nil (rerank disabled).
type Service struct {
	chunks   knowledge.Store
	embedder llm.Provider
	reranker llm.Provider
	cfg      *config.RetrievalConfig
	log      *slog.Logger
}

// NewService creates the retrieval service. embedder must support OpEmbed;
// reranker is used only when cfg.RerankEnabled and may be nil.
func NewService(chunks knowledge.Store, embedder, reranker llm.Provider, cfg *config.RetrievalConfig) *Service {
	return &Service{
		chunks:   chunks,
		embedder: embedder,
		reranker: reranker,
		cfg:      cfg,
		log:      slog.With("component", "retrieval"),
	}
}

// Search embeds the query, runs the vector search, scores relevance, and
// optionally reranks the head of the result list.
func (s *Service) Search(ctx context.Context, queryText string, opts SearchOptions) (*Result, error) {
	queryVector, err := s.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = s.cfg.TopK
	}
	minSim := opts.MinSimilarity
	if minSim <= 0 {
		minSim = s.cfg.MinSimilarity
	}

	hits, err := s.chunks.Search(ctx, queryVector, knowledge.SearchOptions{
		SourceTypes:   opts.SourceTypes,
		MinSimilarity: minSim,
		TopK:          limit,
	})
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	results := make([]ScoredResult, len(hits))
	var similaritySum float64
	for i, hit := range hits {
		importance := hit.Chunk.Importance
		if importance == 0 {
			importance = 0.5
		}
		results[i] = ScoredResult{
			Chunk:      hit.Chunk,
			Similarity: hit.Similarity,
			Relevance:  s.cfg.SimilarityWeight*hit.Similarity + s.cfg.ImportanceWeight*importance,
		}
		similaritySum += hit.Similarity
	}

	if s.cfg.RerankEnabled && s.reranker != nil && len(results) > 1 {
		results = s.rerank(ctx, queryText, results)
	}

	res := &Result{
		Chunks:       results,
		Query:        queryText,
		TotalResults: len(results),
		RetrievedAt:  time.Now().UTC(),
	}
	if len(results) > 0 {
		res.AverageSimilarity = similaritySum / float64(len(results))
	}
	return res, nil
}

// GetByIDs fetches chunks by id, skipping ids that no longer exist.
func (s *Service) GetByIDs(ctx context.Context, ids []string) ([]models.KnowledgeChunk, error) {
	chunks := make([]models.KnowledgeChunk, 0, len(ids))
	for _, id := range ids {
		chunk, err := s.chunks.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, knowledge.ErrNotFound) {
				continue
			}
			return nil, err
		}
		chunks = append(chunks, *chunk)
	}
	return chunks, nil
}

// GetRecent returns the newest chunks, optionally filtered by source type.
func (s *Service) GetRecent(ctx context.Context, sourceType string, limit int) ([]models.KnowledgeChunk, error) {
	return s.chunks.GetBySource(ctx, sourceType, limit)
}

// FindSimilar returns the neighbors of a known chunk using its stored
// embedding, excluding the anchor itself.
func (s *Service) FindSimilar(ctx context.Context, chunkID string, limit int) ([]ScoredResult, error) {
	anchor, err := s.chunks.GetByID(ctx, chunkID)
	if err != nil {
		if errors.Is(err, knowledge.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, chunkID)
		}
		return nil, err
	}

	if limit <= 0 {
		limit = s.cfg.TopK
	}
	// Fetch one extra: the anchor matches itself with similarity ~1.
	hits, err := s.chunks.Search(ctx, anchor.Embedding, knowledge.SearchOptions{
		MinSimilarity: s.cfg.MinSimilarity,
		TopK:          limit + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	results := make([]ScoredResult, 0, limit)
	for _, hit := range hits {
		if hit.Chunk.ID == chunkID {
			continue
		}
		importance := hit.Chunk.Importance
		if importance == 0 {
			importance = 0.5
		}
		results = append(results, ScoredResult{
			Chunk:      hit.Chunk,
			Similarity: hit.Similarity,
			Relevance:  s.cfg.SimilarityWeight*hit.Similarity + s.cfg.ImportanceWeight*importance,
		})
		if len(results) == limit {
			break
		}
	}
	return results, nil
}
