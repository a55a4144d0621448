// Package queue provides named, Redis-backed work queues with retries,
// exponential backoff, and dead-letter semantics.
//
// Delivery is at-least-once: a job whose worker dies is requeued by the
// reaper, so handlers must be idempotent. Downstream dedup (content hashes,
// external ids) makes redelivery harmless.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Queue names used by the knowledge pipeline.
const (
	QueueIngestion  = "ingestion"
	QueueProcessing = "processing"
	QueueEmbedding  = "embedding"
	QueueAgentTasks = "agent-tasks"
)

// Sentinel errors for queue operations.
var (
	// ErrNoJobsAvailable indicates the pending lists are empty.
	ErrNoJobsAvailable = errors.New("no jobs available")

	// ErrQueueClosed indicates the worker pool is shutting down.
	ErrQueueClosed = errors.New("queue closed")
)

// Job is one unit of work carried through Redis as JSON.
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	LastError   string          `json:"last_error,omitempty"`
}

// Marshal serializes the job for Redis storage.
func (j *Job) Marshal() (string, error) {
	b, err := json.Marshal(j)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// UnmarshalJob deserializes a job from its Redis representation.
func UnmarshalJob(s string) (*Job, error) {
	var j Job
	if err := json.Unmarshal([]byte(s), &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// AddOptions tunes a single enqueue.
type AddOptions struct {
	// Priority > 0 places the job on the priority list, consumed before
	// the default list.
	Priority int

	// Delay defers the job's eligibility.
	Delay time.Duration

	// MaxAttempts overrides the queue default when > 0.
	MaxAttempts int
}

// Handler processes one job. Returning an error triggers backoff-retry up
// to the job's attempt cap, then dead-letters the job.
type Handler func(ctx context.Context, job *Job) error

// RateLimit caps handler invocations to MaxJobs per Interval. Zero values
// disable limiting.
type RateLimit struct {
	MaxJobs  int
	Interval time.Duration
}

// Stats summarizes one queue's depth for monitoring.
type Stats struct {
	Name      string `json:"name"`
	Pending   int64  `json:"pending"`
	Priority  int64  `json:"priority"`
	Delayed   int64  `json:"delayed"`
	Dead      int64  `json:"dead"`
	Completed int64  `json:"completed"`
}
