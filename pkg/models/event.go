// Package models defines the core data records shared across the service:
// raw events, knowledge chunks, conversation messages, and agent steps.
package models

import "time"

// ProcessingStatus tracks a raw event's progress through the pipeline.
type ProcessingStatus string

const (
	ProcessingStatusPending    ProcessingStatus = "pending"
	ProcessingStatusProcessing ProcessingStatus = "processing"
	ProcessingStatusCompleted  ProcessingStatus = "completed"
	ProcessingStatusFailed     ProcessingStatus = "failed"
)

// Valid reports whether s is one of the known processing statuses.
func (s ProcessingStatus) Valid() bool {
	switch s {
	case ProcessingStatusPending, ProcessingStatusProcessing,
		ProcessingStatusCompleted, ProcessingStatusFailed:
		return true
	}
	return false
}

// RawEvent is one externally observed occurrence, exactly as the source
// adapter reported it. Rows are append-mostly: only processing_status and
// processed_at change after insert.
type RawEvent struct {
	ID               string
	Source           string
	EventType        string
	ExternalID       *string
	Payload          map[string]any
	Metadata         map[string]any
	IngestedAt       time.Time
	ProcessedAt      *time.Time
	ProcessingStatus ProcessingStatus
}

// RawEventInput is the adapter-facing shape of an event before it is
// persisted. Adapters emit these; the ingestion worker assigns IDs and
// ingestion timestamps.
type RawEventInput struct {
	Source     string         `json:"source"`
	EventType  string         `json:"event_type"`
	ExternalID string         `json:"external_id,omitempty"` // empty when the source has no stable id
	Payload    map[string]any `json:"payload"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}
