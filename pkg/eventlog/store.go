// Package eventlog persists raw events: the durable, append-mostly record of
// everything the source adapters observed.
package eventlog

import (
	"context"
	"errors"
	"time"

	"github.com/mehdiaksoy/mateai/pkg/models"
)

var (
	// ErrDuplicate is returned by Insert when (source, external_id) already
	// exists. The returned id is the existing row's id.
	ErrDuplicate = errors.New("duplicate event")

	// ErrNotFound is returned when an event does not exist.
	ErrNotFound = errors.New("event not found")
)

// Store is the raw-event log.
//
// Handlers downstream are idempotent, so Insert deduplicates on
// (source, external_id) and MarkStatus tolerates repeated identical calls.
type Store interface {
	// Insert persists a new raw event with status pending. When the event's
	// ExternalID collides with an existing row of the same source, the
	// existing row's id is returned together with ErrDuplicate.
	Insert(ctx context.Context, event *models.RawEvent) (string, error)

	// MarkStatus transitions an event's processing status. Idempotent:
	// repeating a call with the same arguments is a no-op.
	MarkStatus(ctx context.Context, id string, status models.ProcessingStatus, at time.Time) error

	// GetByID fetches a single event.
	GetByID(ctx context.Context, id string) (*models.RawEvent, error)

	// GetPending returns up to limit events still awaiting processing,
	// oldest first. Used by the recovery sweep.
	GetPending(ctx context.Context, limit int) ([]*models.RawEvent, error)

	// CountByStatus returns event counts per processing status.
	CountByStatus(ctx context.Context) (map[models.ProcessingStatus]int64, error)
}
