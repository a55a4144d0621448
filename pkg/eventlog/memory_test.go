package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mehdiaksoy/mateai/pkg/models"
)

func strPtr(s string) *string { return &s }

func TestInsertAssignsDefaults(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	event := &models.RawEvent{
		Source:    "slack",
		EventType: "message",
		Payload:   map[string]any{"text": "hello"},
	}

	id, err := store.Insert(ctx, event)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingStatusPending, got.ProcessingStatus)
	assert.False(t, got.IngestedAt.IsZero())
}

func TestInsertDeduplicatesByExternalID(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := &models.RawEvent{
		Source:     "slack",
		EventType:  "message",
		ExternalID: strPtr("C123:1700000000.0001"),
		Payload:    map[string]any{"text": "hello"},
	}
	firstID, err := store.Insert(ctx, first)
	require.NoError(t, err)

	second := &models.RawEvent{
		Source:     "slack",
		EventType:  "message",
		ExternalID: strPtr("C123:1700000000.0001"),
		Payload:    map[string]any{"text": "hello"},
	}
	secondID, err := store.Insert(ctx, second)
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, firstID, secondID, "duplicate insert must return the existing id")

	// Same external id under a different source is a distinct event.
	other := &models.RawEvent{
		Source:     "jira",
		EventType:  "issue_updated",
		ExternalID: strPtr("C123:1700000000.0001"),
	}
	otherID, err := store.Insert(ctx, other)
	require.NoError(t, err)
	assert.NotEqual(t, firstID, otherID)
}

func TestInsertWithoutExternalIDNeverConflicts(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Insert(ctx, &models.RawEvent{
			Source:    "git",
			EventType: "commit",
			Payload:   map[string]any{"message": "fix"},
		})
		require.NoError(t, err)
	}

	counts, err := store.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[models.ProcessingStatusPending])
}

func TestMarkStatusIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	id, err := store.Insert(ctx, &models.RawEvent{Source: "slack", EventType: "message"})
	require.NoError(t, err)

	at := time.Now().UTC()
	require.NoError(t, store.MarkStatus(ctx, id, models.ProcessingStatusCompleted, at))

	before, err := store.GetByID(ctx, id)
	require.NoError(t, err)

	// Repeating the identical call changes nothing.
	require.NoError(t, store.MarkStatus(ctx, id, models.ProcessingStatusCompleted, at))
	after, err := store.GetByID(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, before.ProcessingStatus, after.ProcessingStatus)
	assert.Equal(t, before.ProcessedAt, after.ProcessedAt)
}

func TestMarkStatusUnknownID(t *testing.T) {
	store := NewMemoryStore()
	err := store.MarkStatus(context.Background(), "missing", models.ProcessingStatusFailed, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetPendingOrdersOldestFirst(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().UTC()
	for i, offset := range []time.Duration{2 * time.Minute, 0, time.Minute} {
		_, err := store.Insert(ctx, &models.RawEvent{
			ID:         string(rune('a' + i)),
			Source:     "git",
			EventType:  "commit",
			IngestedAt: base.Add(offset),
		})
		require.NoError(t, err)
	}

	pending, err := store.GetPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.True(t, pending[0].IngestedAt.Before(pending[1].IngestedAt))
	assert.True(t, pending[1].IngestedAt.Before(pending[2].IngestedAt))

	limited, err := store.GetPending(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}
