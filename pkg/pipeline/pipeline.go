package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mehdiaksoy/mateai/pkg/eventlog"
	"github.com/mehdiaksoy/mateai/pkg/knowledge"
	"github.com/mehdiaksoy/mateai/pkg/metrics"
	"github.com/mehdiaksoy/mateai/pkg/models"
	"github.com/mehdiaksoy/mateai/pkg/queue"
)

// JobPayload is the processing-queue payload: the raw event to process.
type JobPayload struct {
	EventID string `json:"event_id"`
}

// EmbedJobPayload is the embedding-queue payload: a summarized event
// awaiting embedding and storage.
type EmbedJobPayload struct {
	EventID  string `json:"event_id"`
	Summary  string `json:"summary"`
	Fallback bool   `json:"fallback,omitempty"`
}

// Pipeline composes the four stages over one raw event. The stages run
// inline within a single queue job for throughput; the durable checkpoint
// is the raw event's processing status plus the chunk's presence, so a
// redelivered job replays idempotently (content-hash dedup absorbs the
// second storage write).
type Pipeline struct {
	events     eventlog.Store
	chunks     knowledge.Store
	summarizer *Summarizer
	embedder   *Embedder

	// embeddingQueue, when set, splits the pipeline after summarization:
	// embedding and storage run as a separate queue job so embedding
	// backpressure does not hold processing workers.
	embeddingQueue *queue.Queue

	log *slog.Logger
}

// New creates the pipeline with all stages inlined in one job.
func New(events eventlog.Store, chunks knowledge.Store, summarizer *Summarizer, embedder *Embedder) *Pipeline {
	return &Pipeline{
		events:     events,
		chunks:     chunks,
		summarizer: summarizer,
		embedder:   embedder,
		log:        slog.With("component", "pipeline"),
	}
}

// SplitAfterSummarization routes embedding and storage through the given
// queue instead of running them inline.
func (p *Pipeline) SplitAfterSummarization(embeddingQueue *queue.Queue) {
	p.embeddingQueue = embeddingQueue
}

// Handler adapts Process to the queue's job contract.
func (p *Pipeline) Handler() queue.Handler {
	return func(ctx context.Context, job *queue.Job) error {
		var payload JobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("invalid processing payload: %w", err)
		}
		return p.Process(ctx, payload.EventID)
	}
}

// Process runs one event through enrichment, summarization, embedding, and
// storage. Transient errors (embedding provider, database) propagate to the
// queue for backoff-retry; summarization failures degrade to a truncation
// summary and never fail the job.
func (p *Pipeline) Process(ctx context.Context, eventID string) error {
	log := p.log.With("event_id", eventID)

	event, err := p.events.GetByID(ctx, eventID)
	if err != nil {
		return fmt.Errorf("failed to load event: %w", err)
	}
	if event.ProcessingStatus == models.ProcessingStatusCompleted {
		// Redelivered job for an already-processed event.
		return nil
	}

	if err := p.events.MarkStatus(ctx, eventID, models.ProcessingStatusProcessing, time.Now()); err != nil {
		return fmt.Errorf("failed to mark event processing: %w", err)
	}

	enriched := Enrich(event)
	if enriched.ExtractedText == "" {
		// Nothing to remember; complete the event without a chunk.
		log.Info("Event has no extractable text, skipping")
		return p.events.MarkStatus(ctx, eventID, models.ProcessingStatusCompleted, time.Now())
	}

	summary := p.summarizer.Summarize(ctx, enriched)

	if p.embeddingQueue != nil {
		_, err := p.embeddingQueue.Add(ctx, EmbedJobPayload{
			EventID:  eventID,
			Summary:  summary.Text,
			Fallback: summary.Fallback,
		}, queue.AddOptions{})
		if err != nil {
			return fmt.Errorf("failed to enqueue embedding job: %w", err)
		}
		return nil
	}

	return p.embedAndStore(ctx, enriched, summary.Text, summary.Fallback)
}

// EmbedHandler adapts the embedding+storage stages to the embedding queue.
func (p *Pipeline) EmbedHandler() queue.Handler {
	return func(ctx context.Context, job *queue.Job) error {
		var payload EmbedJobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("invalid embedding payload: %w", err)
		}
		event, err := p.events.GetByID(ctx, payload.EventID)
		if err != nil {
			return fmt.Errorf("failed to load event: %w", err)
		}
		if event.ProcessingStatus == models.ProcessingStatusCompleted {
			return nil
		}
		// Enrichment is pure and cheap; recompute rather than carry it
		// through the queue payload.
		return p.embedAndStore(ctx, Enrich(event), payload.Summary, payload.Fallback)
	}
}

// embedAndStore runs the embedding and storage stages and completes the
// event.
func (p *Pipeline) embedAndStore(ctx context.Context, enriched *EnrichedEvent, summaryText string, fallback bool) error {
	event := enriched.Event

	embedding, err := p.embedder.Embed(ctx, summaryText)
	if err != nil {
		return fmt.Errorf("embedding stage failed: %w", err)
	}

	metadata := enriched.Metadata
	metadata["entities"] = enriched.Entities
	if fallback {
		metadata["summary_fallback"] = true
	}

	chunk := &models.KnowledgeChunk{
		Content:        summaryText,
		ContentHash:    embedding.ContentHash,
		SourceType:     event.Source,
		SourceEventID:  event.ID,
		Metadata:       metadata,
		Importance:     enriched.Importance,
		Embedding:      embedding.Vector,
		EmbeddingModel: embedding.Model,
		Tier:           models.TierHot,
	}

	chunkID, err := p.chunks.Store(ctx, chunk)
	if err != nil {
		return fmt.Errorf("storage stage failed: %w", err)
	}
	metrics.ChunksStored.Inc()

	if err := p.events.MarkStatus(ctx, event.ID, models.ProcessingStatusCompleted, time.Now()); err != nil {
		return fmt.Errorf("failed to mark event completed: %w", err)
	}
	metrics.PipelineDuration.WithLabelValues(event.Source).
		Observe(time.Since(event.IngestedAt).Seconds())

	p.log.Info("Event processed", "event_id", event.ID, "chunk_id", chunkID,
		"importance", enriched.Importance, "fallback_summary", fallback)
	return nil
}
