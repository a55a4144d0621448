package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mehdiaksoy/mateai/pkg/llm"
	"github.com/mehdiaksoy/mateai/pkg/models"
)

const testDims = 16

func hashOf(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func testChunk(content string) *models.KnowledgeChunk {
	return &models.KnowledgeChunk{
		Content:        content,
		ContentHash:    hashOf(content),
		SourceType:     "slack",
		SourceEventID:  "event-1",
		Importance:     0.5,
		Embedding:      llm.DeterministicEmbedding(content, testDims),
		EmbeddingModel: "fake-embedder",
	}
}

func TestStoreDeduplicatesByContentHash(t *testing.T) {
	store := NewMemoryStore(testDims)
	ctx := context.Background()

	first, err := store.Store(ctx, testChunk("we chose JWT for the API"))
	require.NoError(t, err)

	second, err := store.Store(ctx, testChunk("we chose JWT for the API"))
	require.NoError(t, err)
	assert.Equal(t, first, second, "same content hash must return the existing id")

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Total)
}

func TestStoreRejectsWrongDimension(t *testing.T) {
	store := NewMemoryStore(testDims)
	chunk := testChunk("text")
	chunk.Embedding = []float32{1, 2, 3}

	_, err := store.Store(context.Background(), chunk)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestSearchOrderingAndThreshold(t *testing.T) {
	store := NewMemoryStore(testDims)
	ctx := context.Background()

	contents := []string{
		"we need JWT for the API",
		"deployment pipeline is green",
		"standup moved to 10am",
	}
	for _, c := range contents {
		_, err := store.Store(ctx, testChunk(c))
		require.NoError(t, err)
	}

	query := llm.DeterministicEmbedding("we need JWT for the API", testDims)
	results, err := store.Search(ctx, query, SearchOptions{MinSimilarity: 0.2, TopK: 10})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	// Exact match first with similarity ~1.
	assert.Equal(t, "we need JWT for the API", results[0].Chunk.Content)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-5)

	// Non-increasing similarity, all above the threshold.
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Similarity, results[i].Similarity)
	}
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Similarity, 0.2)
	}
}

func TestSearchIsIdempotentWithoutWrites(t *testing.T) {
	store := NewMemoryStore(testDims)
	ctx := context.Background()

	for _, c := range []string{"alpha decision", "beta decision", "gamma decision"} {
		_, err := store.Store(ctx, testChunk(c))
		require.NoError(t, err)
	}

	query := llm.DeterministicEmbedding("alpha decision", testDims)
	first, err := store.Search(ctx, query, SearchOptions{MinSimilarity: 0.01})
	require.NoError(t, err)
	second, err := store.Search(ctx, query, SearchOptions{MinSimilarity: 0.01})
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Chunk.ID, second[i].Chunk.ID)
		assert.InDelta(t, first[i].Similarity, second[i].Similarity, 1e-9)
	}
}

func TestSearchUpdatesAccessStatsInBatch(t *testing.T) {
	store := NewMemoryStore(testDims)
	ctx := context.Background()

	id, err := store.Store(ctx, testChunk("payment race condition fixed"))
	require.NoError(t, err)

	query := llm.DeterministicEmbedding("payment race condition fixed", testDims)
	_, err = store.Search(ctx, query, SearchOptions{MinSimilarity: 0.5})
	require.NoError(t, err)

	chunk, err := store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), chunk.AccessCount)
	require.NotNil(t, chunk.LastAccessedAt)

	// Access count is monotonically non-decreasing.
	_, err = store.Search(ctx, query, SearchOptions{MinSimilarity: 0.5})
	require.NoError(t, err)
	chunk, err = store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), chunk.AccessCount)
}

func TestSearchSkipAccessUpdate(t *testing.T) {
	store := NewMemoryStore(testDims)
	ctx := context.Background()

	id, err := store.Store(ctx, testChunk("internal lookup"))
	require.NoError(t, err)

	query := llm.DeterministicEmbedding("internal lookup", testDims)
	_, err = store.Search(ctx, query, SearchOptions{MinSimilarity: 0.5, SkipAccessUpdate: true})
	require.NoError(t, err)

	chunk, err := store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, chunk.AccessCount)
}

func TestSearchFiltersByTierAndSource(t *testing.T) {
	store := NewMemoryStore(testDims)
	ctx := context.Background()

	hot := testChunk("hot slack message")
	_, err := store.Store(ctx, hot)
	require.NoError(t, err)

	cold := testChunk("cold slack message")
	cold.Tier = models.TierCold
	_, err = store.Store(ctx, cold)
	require.NoError(t, err)

	jira := testChunk("jira issue about slack")
	jira.SourceType = "jira"
	_, err = store.Store(ctx, jira)
	require.NoError(t, err)

	query := llm.DeterministicEmbedding("hot slack message", testDims)

	// Default tiers exclude cold.
	results, err := store.Search(ctx, query, SearchOptions{MinSimilarity: 0.001, TopK: 10})
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, models.TierCold, r.Chunk.Tier)
	}

	// Source filter.
	results, err = store.Search(ctx, query, SearchOptions{
		MinSimilarity: 0.001, TopK: 10, SourceTypes: []string{"jira"},
	})
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, "jira", r.Chunk.SourceType)
	}
}

func TestFindSimilarRoundTrip(t *testing.T) {
	store := NewMemoryStore(testDims)
	ctx := context.Background()

	id, err := store.Store(ctx, testChunk("embed round trip"))
	require.NoError(t, err)

	chunk, err := store.GetByID(ctx, id)
	require.NoError(t, err)

	results, err := store.Search(ctx, chunk.Embedding, SearchOptions{MinSimilarity: 0.9})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, id, results[0].Chunk.ID)
	assert.GreaterOrEqual(t, results[0].Similarity, 0.999)
}

func TestDemoteTier(t *testing.T) {
	store := NewMemoryStore(testDims)
	ctx := context.Background()

	old := testChunk("old unread chunk")
	old.CreatedAt = time.Now().Add(-10 * 24 * time.Hour)
	_, err := store.Store(ctx, old)
	require.NoError(t, err)

	popular := testChunk("old popular chunk")
	popular.CreatedAt = time.Now().Add(-10 * 24 * time.Hour)
	popular.AccessCount = 50
	_, err = store.Store(ctx, popular)
	require.NoError(t, err)

	fresh := testChunk("fresh chunk")
	_, err = store.Store(ctx, fresh)
	require.NoError(t, err)

	demoted, err := store.DemoteTier(ctx, models.TierHot, models.TierWarm,
		time.Now().Add(-7*24*time.Hour), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), demoted, "only the old low-access chunk demotes")

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.ByTier[string(models.TierWarm)])
	assert.Equal(t, int64(2), stats.ByTier[string(models.TierHot)])
}

func TestVectorFormatParseRoundTrip(t *testing.T) {
	vec := []float32{0.25, -1, 0, 3.5}
	parsed, err := parseVector(formatVector(vec))
	require.NoError(t, err)
	assert.Equal(t, vec, parsed)

	_, err = parseVector("not a vector")
	assert.Error(t, err)

	empty, err := parseVector("[]")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, cosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, cosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}
