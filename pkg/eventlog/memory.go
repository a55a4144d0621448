package eventlog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mehdiaksoy/mateai/pkg/models"
)

// MemoryStore is an in-memory Store for tests and local development.
// It mirrors PostgresStore semantics, including duplicate handling.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string]*models.RawEvent
	byKey  map[string]string // source + "\x00" + externalID → event id
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[string]*models.RawEvent),
		byKey:  make(map[string]string),
	}
}

var _ Store = (*MemoryStore)(nil)

func dedupKey(source, externalID string) string {
	return source + "\x00" + externalID
}

func (s *MemoryStore) Insert(_ context.Context, event *models.RawEvent) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ExternalID != nil && *event.ExternalID != "" {
		if existing, ok := s.byKey[dedupKey(event.Source, *event.ExternalID)]; ok {
			return existing, ErrDuplicate
		}
	}

	cp := *event
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.IngestedAt.IsZero() {
		cp.IngestedAt = time.Now().UTC()
	}
	if cp.ProcessingStatus == "" {
		cp.ProcessingStatus = models.ProcessingStatusPending
	}

	s.events[cp.ID] = &cp
	if cp.ExternalID != nil && *cp.ExternalID != "" {
		s.byKey[dedupKey(cp.Source, *cp.ExternalID)] = cp.ID
	}
	event.ID = cp.ID
	return cp.ID, nil
}

func (s *MemoryStore) MarkStatus(_ context.Context, id string, status models.ProcessingStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[id]
	if !ok {
		return ErrNotFound
	}
	event.ProcessingStatus = status
	if status == models.ProcessingStatusCompleted || status == models.ProcessingStatusFailed {
		if event.ProcessedAt == nil {
			t := at
			event.ProcessedAt = &t
		}
	}
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (*models.RawEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	event, ok := s.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *event
	return &cp, nil
}

func (s *MemoryStore) GetPending(_ context.Context, limit int) ([]*models.RawEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []*models.RawEvent
	for _, event := range s.events {
		if event.ProcessingStatus == models.ProcessingStatusPending ||
			event.ProcessingStatus == models.ProcessingStatusProcessing {
			cp := *event
			pending = append(pending, &cp)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].IngestedAt.Before(pending[j].IngestedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (s *MemoryStore) CountByStatus(_ context.Context) (map[models.ProcessingStatus]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[models.ProcessingStatus]int64)
	for _, event := range s.events {
		counts[event.ProcessingStatus]++
	}
	return counts, nil
}
