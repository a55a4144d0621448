package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mehdiaksoy/mateai/pkg/llm"
	"github.com/mehdiaksoy/mateai/pkg/metrics"
)

const (
	summaryMaxTokens   = 200
	summaryTemperature = 0.3

	// truncationLimit bounds the fallback summary when the LLM is down.
	truncationLimit = 200
)

// Summary is the summarization stage's output.
type Summary struct {
	Text       string
	TokensUsed int

	// Fallback marks a truncation summary produced because the LLM call
	// failed. Recorded in chunk metadata, invisible to users.
	Fallback bool
}

// Summarizer produces searchable summaries of enriched events.
type Summarizer struct {
	provider llm.Provider
	log      *slog.Logger
}

// NewSummarizer creates a summarizer over the given provider.
func NewSummarizer(provider llm.Provider) *Summarizer {
	return &Summarizer{
		provider: provider,
		log:      slog.With("component", "summarizer"),
	}
}

// Summarize condenses the enriched event into a <=100-word searchable
// summary. An LLM failure never drops the event: the stage falls back to a
// word-boundary truncation of the extracted text.
func (s *Summarizer) Summarize(ctx context.Context, enriched *EnrichedEvent) Summary {
	prompt := buildSummaryPrompt(enriched)

	text, err := s.provider.Complete(ctx, prompt, llm.CompletionOptions{
		MaxTokens:   summaryMaxTokens,
		Temperature: summaryTemperature,
	})
	if err != nil || strings.TrimSpace(text) == "" {
		if err != nil {
			s.log.Warn("Summarization failed, falling back to truncation",
				"event_id", enriched.Event.ID, "error", err)
		}
		metrics.SummaryFallbacks.Inc()
		return Summary{
			Text:     TruncateSummary(enriched.ExtractedText, truncationLimit),
			Fallback: true,
		}
	}

	return Summary{
		Text:       strings.TrimSpace(text),
		TokensUsed: s.provider.CountTokens(prompt) + s.provider.CountTokens(text),
	}
}

// buildSummaryPrompt renders the summarization prompt: source context plus
// the extracted text and entities.
func buildSummaryPrompt(enriched *EnrichedEvent) string {
	var b strings.Builder
	b.WriteString("Summarize the following event as a searchable knowledge entry.\n")
	b.WriteString("Keep it under 100 words. Preserve who was involved, what happened, ")
	b.WriteString("why it matters, and any technical terms verbatim.\n\n")
	fmt.Fprintf(&b, "Source: %s\n", enriched.Event.Source)
	fmt.Fprintf(&b, "Event type: %s\n", enriched.Event.EventType)
	if len(enriched.Entities.Users) > 0 {
		fmt.Fprintf(&b, "Users: %s\n", strings.Join(enriched.Entities.Users, ", "))
	}
	if len(enriched.Entities.Keywords) > 0 {
		fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(enriched.Entities.Keywords, ", "))
	}
	b.WriteString("\nContent:\n")
	b.WriteString(enriched.ExtractedText)
	b.WriteString("\n\nSummary:")
	return b.String()
}

// TruncateSummary cuts text at a word boundary within limit characters and
// appends an ellipsis. Text already within the limit is returned unchanged.
func TruncateSummary(text string, limit int) string {
	text = strings.TrimSpace(text)
	if len(text) <= limit {
		return text
	}
	cut := text[:limit]
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, " ") + "..."
}
