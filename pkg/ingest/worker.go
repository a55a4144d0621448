// Package ingest consumes adapter event streams, persists raw events with
// dedup, and enqueues them for the processing pipeline.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mehdiaksoy/mateai/pkg/eventlog"
	"github.com/mehdiaksoy/mateai/pkg/metrics"
	"github.com/mehdiaksoy/mateai/pkg/models"
	"github.com/mehdiaksoy/mateai/pkg/pipeline"
	"github.com/mehdiaksoy/mateai/pkg/queue"
)

// recoverySweepInterval is how often pending events are rescanned and
// re-enqueued. Covers enqueue failures and process crashes between insert
// and enqueue.
const recoverySweepInterval = 5 * time.Minute

// recoveryBatchSize bounds one sweep's scan.
const recoveryBatchSize = 100

// Worker persists adapter events and feeds the processing queue.
type Worker struct {
	events     eventlog.Store
	processing *queue.Queue
	log        *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu       sync.Mutex
	ingested int
	dropped  int
}

// NewWorker creates the ingestion worker.
func NewWorker(events eventlog.Store, processing *queue.Queue) *Worker {
	return &Worker{
		events:     events,
		processing: processing,
		log:        slog.With("component", "ingest-worker"),
		stopCh:     make(chan struct{}),
	}
}

// Start consumes the given adapter stream until it closes or the worker
// stops, and runs the periodic recovery sweep.
func (w *Worker) Start(ctx context.Context, stream <-chan models.RawEventInput) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.consume(ctx, stream)
	}()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(recoverySweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-w.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.RecoverPending(ctx)
			}
		}
	}()
}

// Stop signals the worker to stop and waits for it.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Counts returns how many events were ingested and dropped as duplicates.
func (w *Worker) Counts() (ingested, dropped int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ingested, w.dropped
}

func (w *Worker) consume(ctx context.Context, stream <-chan models.RawEventInput) {
	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case input, ok := <-stream:
			if !ok {
				return
			}
			w.Ingest(ctx, input)
		}
	}
}

// Handler adapts Ingest to the ingestion queue, for deployments that stage
// adapter output durably before persisting it.
func (w *Worker) Handler() queue.Handler {
	return func(ctx context.Context, job *queue.Job) error {
		var input models.RawEventInput
		if err := json.Unmarshal(job.Payload, &input); err != nil {
			return fmt.Errorf("invalid ingestion payload: %w", err)
		}
		w.Ingest(ctx, input)
		return nil
	}
}

// Ingest persists one adapter event and enqueues its processing job.
// Duplicates (same source and external id) are dropped. An enqueue failure
// leaves the event pending for the recovery sweep.
func (w *Worker) Ingest(ctx context.Context, input models.RawEventInput) {
	event := &models.RawEvent{
		Source:           input.Source,
		EventType:        input.EventType,
		Payload:          input.Payload,
		Metadata:         input.Metadata,
		IngestedAt:       time.Now().UTC(),
		ProcessingStatus: models.ProcessingStatusPending,
	}
	if input.ExternalID != "" {
		externalID := input.ExternalID
		event.ExternalID = &externalID
	}
	if input.Metadata == nil {
		event.Metadata = map[string]any{}
	}
	event.Metadata["source_timestamp"] = input.Timestamp.UTC().Format(time.RFC3339Nano)

	id, err := w.events.Insert(ctx, event)
	if err != nil {
		if errors.Is(err, eventlog.ErrDuplicate) {
			w.mu.Lock()
			w.dropped++
			w.mu.Unlock()
			metrics.EventsDropped.WithLabelValues(input.Source).Inc()
			w.log.Debug("Dropped duplicate event",
				"source", input.Source, "external_id", input.ExternalID)
			return
		}
		w.log.Error("Failed to persist event", "source", input.Source, "error", err)
		return
	}

	w.mu.Lock()
	w.ingested++
	w.mu.Unlock()
	metrics.EventsIngested.WithLabelValues(input.Source).Inc()

	if _, err := w.processing.Add(ctx, pipeline.JobPayload{EventID: id}, queue.AddOptions{}); err != nil {
		// The event stays pending; the recovery sweep re-enqueues it.
		w.log.Error("Failed to enqueue processing job", "event_id", id, "error", err)
	}
}

// RecoverPending re-enqueues events stuck in pending or processing. Safe to
// run concurrently with normal ingestion: the pipeline skips completed
// events and the chunk store dedups by content hash.
func (w *Worker) RecoverPending(ctx context.Context) {
	pending, err := w.events.GetPending(ctx, recoveryBatchSize)
	if err != nil {
		w.log.Error("Recovery sweep scan failed", "error", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	// Only resweep events old enough that their original job should have
	// finished; fresh ones are still in flight.
	cutoff := time.Now().Add(-recoverySweepInterval)
	requeued := 0
	for _, event := range pending {
		if event.IngestedAt.After(cutoff) {
			continue
		}
		if _, err := w.processing.Add(ctx, pipeline.JobPayload{EventID: event.ID}, queue.AddOptions{}); err != nil {
			w.log.Error("Recovery enqueue failed", "event_id", event.ID, "error", err)
			continue
		}
		requeued++
	}
	if requeued > 0 {
		w.log.Info("Recovery sweep re-enqueued events", "count", requeued)
	}
}
