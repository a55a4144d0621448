package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/mehdiaksoy/mateai/pkg/llm"
)

// Embedding is the embedding stage's output.
type Embedding struct {
	Vector      []float32
	Model       string
	ContentHash string // hex SHA-256 of the summary text
}

// Embedder turns summaries into dense vectors via the configured embedding
// provider.
type Embedder struct {
	provider   llm.Provider
	model      string
	dimensions int
	batchSize  int
}

// NewEmbedder creates an embedder. model is recorded per chunk so a later
// model change is detectable; dimensions is validated on every vector.
func NewEmbedder(provider llm.Provider, model string, dimensions, batchSize int) *Embedder {
	if batchSize <= 0 {
		batchSize = 32
	}
	return &Embedder{
		provider:   provider,
		model:      model,
		dimensions: dimensions,
		batchSize:  batchSize,
	}
}

// ContentHash returns the hex SHA-256 of text: the chunk dedup key.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Embed produces the vector and content hash for one summary. Provider
// failures propagate so the queue retries the job.
func (e *Embedder) Embed(ctx context.Context, summary string) (*Embedding, error) {
	vec, err := e.provider.Embed(ctx, summary)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	if len(vec) != e.dimensions {
		return nil, fmt.Errorf("provider returned %d-dimensional vector, expected %d",
			len(vec), e.dimensions)
	}
	return &Embedding{
		Vector:      vec,
		Model:       e.model,
		ContentHash: ContentHash(summary),
	}, nil
}

// EmbedBatch embeds several summaries, chunked to the provider batch size.
func (e *Embedder) EmbedBatch(ctx context.Context, summaries []string) ([]*Embedding, error) {
	out := make([]*Embedding, 0, len(summaries))
	for start := 0; start < len(summaries); start += e.batchSize {
		end := start + e.batchSize
		if end > len(summaries) {
			end = len(summaries)
		}
		batch := summaries[start:end]

		vectors, err := e.provider.EmbedBatch(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("batch embedding failed: %w", err)
		}
		for i, vec := range vectors {
			if len(vec) != e.dimensions {
				return nil, fmt.Errorf("provider returned %d-dimensional vector, expected %d",
					len(vec), e.dimensions)
			}
			out = append(out, &Embedding{
				Vector:      vec,
				Model:       e.model,
				ContentHash: ContentHash(batch[i]),
			})
		}
	}
	return out, nil
}
