package knowledge

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mehdiaksoy/mateai/pkg/models"
)

// PostgresStore is the production Store over the knowledge_chunks table
// with a pgvector embedding column and an ivfflat cosine index.
type PostgresStore struct {
	pool       *pgxpool.Pool
	dimensions int
}

// NewPostgresStore creates a store over the given pool. dimensions is the
// configured global embedding width; vectors of any other width are
// rejected before they reach the database.
func NewPostgresStore(pool *pgxpool.Pool, dimensions int) *PostgresStore {
	return &PostgresStore{pool: pool, dimensions: dimensions}
}

var _ Store = (*PostgresStore)(nil)

const chunkColumns = `id, content, content_hash, source_type, source_event_id,
	metadata, importance, embedding::text, embedding_model, tier,
	access_count, last_accessed_at, created_at, updated_at`

func (s *PostgresStore) Store(ctx context.Context, chunk *models.KnowledgeChunk) (string, error) {
	if len(chunk.Embedding) != s.dimensions {
		return "", fmt.Errorf("%w: got %d, store configured for %d",
			ErrDimensionMismatch, len(chunk.Embedding), s.dimensions)
	}
	if chunk.ID == "" {
		chunk.ID = uuid.NewString()
	}
	if chunk.Tier == "" {
		chunk.Tier = models.TierHot
	}

	var id string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO knowledge_chunks
			(id, content, content_hash, source_type, source_event_id, metadata,
			 importance, embedding, embedding_model, tier, access_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::vector, $9, $10, 0)
		ON CONFLICT (content_hash) DO NOTHING
		RETURNING id`,
		chunk.ID, chunk.Content, chunk.ContentHash, chunk.SourceType,
		chunk.SourceEventID, chunk.Metadata, chunk.Importance,
		formatVector(chunk.Embedding), chunk.EmbeddingModel, chunk.Tier,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != pgx.ErrNoRows {
		return "", fmt.Errorf("failed to store chunk: %w", err)
	}

	// Hash collision: the chunk already exists, return its id untouched.
	err = s.pool.QueryRow(ctx,
		`SELECT id FROM knowledge_chunks WHERE content_hash = $1`,
		chunk.ContentHash,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to resolve duplicate chunk: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) Search(ctx context.Context, queryVector []float32, opts SearchOptions) ([]models.ScoredChunk, error) {
	if len(queryVector) != s.dimensions {
		return nil, fmt.Errorf("%w: got %d, store configured for %d",
			ErrDimensionMismatch, len(queryVector), s.dimensions)
	}

	tiers := make([]string, 0, 2)
	for _, t := range opts.effectiveTiers() {
		tiers = append(tiers, string(t))
	}
	var sources []string
	if len(opts.SourceTypes) > 0 {
		sources = opts.SourceTypes
	}
	vec := formatVector(queryVector)

	rows, err := s.pool.Query(ctx, `
		SELECT `+chunkColumns+`, 1 - (embedding <=> $1::vector) AS similarity
		FROM knowledge_chunks
		WHERE tier = ANY($2)
		  AND ($3::text[] IS NULL OR source_type = ANY($3))
		  AND 1 - (embedding <=> $1::vector) >= $4
		ORDER BY embedding <=> $1::vector ASC, created_at DESC, id ASC
		LIMIT $5`,
		vec, tiers, sources, opts.effectiveMinSimilarity(), opts.effectiveTopK(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	defer rows.Close()

	var results []models.ScoredChunk
	var ids []string
	for rows.Next() {
		var chunk models.KnowledgeChunk
		var embeddingText string
		var similarity float64
		if err := rows.Scan(
			&chunk.ID, &chunk.Content, &chunk.ContentHash, &chunk.SourceType,
			&chunk.SourceEventID, &chunk.Metadata, &chunk.Importance,
			&embeddingText, &chunk.EmbeddingModel, &chunk.Tier,
			&chunk.AccessCount, &chunk.LastAccessedAt, &chunk.CreatedAt,
			&chunk.UpdatedAt, &similarity,
		); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		if chunk.Embedding, err = parseVector(embeddingText); err != nil {
			return nil, fmt.Errorf("failed to parse stored embedding: %w", err)
		}
		results = append(results, models.ScoredChunk{Chunk: chunk, Similarity: similarity})
		ids = append(ids, chunk.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read search results: %w", err)
	}

	// One batched update for all returned chunks bounds write amplification.
	if len(ids) > 0 && !opts.SkipAccessUpdate {
		if _, err := s.pool.Exec(ctx, `
			UPDATE knowledge_chunks
			SET access_count = access_count + 1, last_accessed_at = now()
			WHERE id = ANY($1)`, ids,
		); err != nil {
			return nil, fmt.Errorf("failed to update access stats: %w", err)
		}
	}
	return results, nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*models.KnowledgeChunk, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+chunkColumns+` FROM knowledge_chunks WHERE id = $1`, id)
	chunk, err := scanChunk(row)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chunk: %w", err)
	}
	return chunk, nil
}

func (s *PostgresStore) GetBySource(ctx context.Context, sourceType string, limit int) ([]models.KnowledgeChunk, error) {
	if limit <= 0 {
		limit = 20
	}
	var src *string
	if sourceType != "" {
		src = &sourceType
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+chunkColumns+`
		FROM knowledge_chunks
		WHERE ($1::text IS NULL OR source_type = $1)
		ORDER BY created_at DESC
		LIMIT $2`, src, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks by source: %w", err)
	}
	defer rows.Close()

	var chunks []models.KnowledgeChunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, *chunk)
	}
	return chunks, rows.Err()
}

func (s *PostgresStore) Stats(ctx context.Context) (StoreStats, error) {
	stats := StoreStats{
		ByTier:   make(map[string]int64),
		BySource: make(map[string]int64),
	}

	rows, err := s.pool.Query(ctx,
		`SELECT tier, COUNT(*) FROM knowledge_chunks GROUP BY tier`)
	if err != nil {
		return stats, fmt.Errorf("failed to count by tier: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tier string
		var n int64
		if err := rows.Scan(&tier, &n); err != nil {
			return stats, fmt.Errorf("failed to scan tier count: %w", err)
		}
		stats.ByTier[tier] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	srcRows, err := s.pool.Query(ctx,
		`SELECT source_type, COUNT(*) FROM knowledge_chunks GROUP BY source_type`)
	if err != nil {
		return stats, fmt.Errorf("failed to count by source: %w", err)
	}
	defer srcRows.Close()
	for srcRows.Next() {
		var source string
		var n int64
		if err := srcRows.Scan(&source, &n); err != nil {
			return stats, fmt.Errorf("failed to scan source count: %w", err)
		}
		stats.BySource[source] = n
	}
	return stats, srcRows.Err()
}

func (s *PostgresStore) DemoteTier(ctx context.Context, from, to models.Tier, cutoff time.Time, accessBelow int64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE knowledge_chunks
		SET tier = $2, updated_at = now()
		WHERE tier = $1 AND created_at < $3 AND access_count < $4`,
		from, to, cutoff, accessBelow,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to demote chunks: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanChunk(row pgx.Row) (*models.KnowledgeChunk, error) {
	var chunk models.KnowledgeChunk
	var embeddingText string
	err := row.Scan(
		&chunk.ID, &chunk.Content, &chunk.ContentHash, &chunk.SourceType,
		&chunk.SourceEventID, &chunk.Metadata, &chunk.Importance,
		&embeddingText, &chunk.EmbeddingModel, &chunk.Tier,
		&chunk.AccessCount, &chunk.LastAccessedAt, &chunk.CreatedAt,
		&chunk.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if chunk.Embedding, err = parseVector(embeddingText); err != nil {
		return nil, fmt.Errorf("failed to parse stored embedding: %w", err)
	}
	return &chunk, nil
}
