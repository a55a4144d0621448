package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mehdiaksoy/mateai/pkg/models"
)

// PostgresStore is the production Store backed by the raw_events table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store over the given pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ Store = (*PostgresStore)(nil)

const rawEventColumns = `id, source, event_type, external_id, payload, metadata,
	ingested_at, processed_at, processing_status`

func (s *PostgresStore) Insert(ctx context.Context, event *models.RawEvent) (string, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.IngestedAt.IsZero() {
		event.IngestedAt = time.Now().UTC()
	}
	if event.ProcessingStatus == "" {
		event.ProcessingStatus = models.ProcessingStatusPending
	}

	var id string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO raw_events (id, source, event_type, external_id, payload, metadata, ingested_at, processing_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (source, external_id) WHERE external_id IS NOT NULL DO NOTHING
		RETURNING id`,
		event.ID, event.Source, event.EventType, event.ExternalID,
		event.Payload, event.Metadata, event.IngestedAt, event.ProcessingStatus,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != pgx.ErrNoRows {
		return "", fmt.Errorf("failed to insert raw event: %w", err)
	}

	// Conflict: look up the winning row.
	err = s.pool.QueryRow(ctx,
		`SELECT id FROM raw_events WHERE source = $1 AND external_id = $2`,
		event.Source, event.ExternalID,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to resolve duplicate raw event: %w", err)
	}
	return id, ErrDuplicate
}

func (s *PostgresStore) MarkStatus(ctx context.Context, id string, status models.ProcessingStatus, at time.Time) error {
	var processedAt *time.Time
	if status == models.ProcessingStatusCompleted || status == models.ProcessingStatusFailed {
		processedAt = &at
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE raw_events
		SET processing_status = $2, processed_at = COALESCE($3, processed_at)
		WHERE id = $1`,
		id, status, processedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to mark event status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*models.RawEvent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+rawEventColumns+` FROM raw_events WHERE id = $1`, id)
	event, err := scanRawEvent(row)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get raw event: %w", err)
	}
	return event, nil
}

func (s *PostgresStore) GetPending(ctx context.Context, limit int) ([]*models.RawEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+rawEventColumns+`
		FROM raw_events
		WHERE processing_status IN ('pending', 'processing')
		ORDER BY ingested_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending events: %w", err)
	}
	defer rows.Close()

	var events []*models.RawEvent
	for rows.Next() {
		event, err := scanRawEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan raw event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (s *PostgresStore) CountByStatus(ctx context.Context) (map[models.ProcessingStatus]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT processing_status, COUNT(*) FROM raw_events GROUP BY processing_status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.ProcessingStatus]int64)
	for rows.Next() {
		var status models.ProcessingStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func scanRawEvent(row pgx.Row) (*models.RawEvent, error) {
	var event models.RawEvent
	err := row.Scan(
		&event.ID, &event.Source, &event.EventType, &event.ExternalID,
		&event.Payload, &event.Metadata, &event.IngestedAt,
		&event.ProcessedAt, &event.ProcessingStatus,
	)
	if err != nil {
		return nil, err
	}
	return &event, nil
}
