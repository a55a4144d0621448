// Package pipeline turns raw events into knowledge chunks through four
// stages: enrichment → summarization → embedding → storage. Stages are pure
// functions over typed records; the queue drives them and the raw event's
// processing status is the durable checkpoint.
package pipeline

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/mehdiaksoy/mateai/pkg/models"
)

// Entities are the structured signals pulled out of an event's text.
type Entities struct {
	Users    []string `json:"users,omitempty"`
	Mentions []string `json:"mentions,omitempty"`
	Links    []string `json:"links,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
}

// EnrichedEvent is the enrichment stage's output: the raw event plus its
// extracted text, entities, and heuristic importance.
type EnrichedEvent struct {
	Event         *models.RawEvent
	ExtractedText string
	Entities      Entities
	Importance    float64
	Metadata      map[string]any
}

var (
	mentionRe = regexp.MustCompile(`<@([A-Z0-9]+)>`)
	linkRe    = regexp.MustCompile(`https?://[^\s<>]+`)
	tokenRe   = regexp.MustCompile(`[a-z0-9]+`)
)

// Enrich derives the searchable view of a raw event. It never calls out:
// everything is computed from the payload.
func Enrich(event *models.RawEvent) *EnrichedEvent {
	text := extractText(event)
	entities := extractEntities(event, text)

	return &EnrichedEvent{
		Event:         event,
		ExtractedText: text,
		Entities:      entities,
		Importance:    scoreImportance(event, text, entities),
		Metadata: map[string]any{
			"source":     event.Source,
			"event_type": event.EventType,
		},
	}
}

// extractText picks the human-readable text per source. Unknown sources get
// a deterministic serialization of the payload so nothing is dropped.
func extractText(event *models.RawEvent) string {
	p := event.Payload
	switch event.Source {
	case "slack":
		return stringField(p, "text")
	case "jira":
		title := stringField(p, "title")
		description := stringField(p, "description")
		return strings.TrimSpace(title + "\n" + description)
	case "git":
		message := stringField(p, "message")
		body := stringField(p, "body")
		return strings.TrimSpace(message + "\n" + body)
	default:
		return serializePayload(p)
	}
}

// serializePayload renders a payload as "key: value" lines in key order.
func serializePayload(payload map[string]any) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		v := payload[k]
		switch tv := v.(type) {
		case string:
			b.WriteString(fmt.Sprintf("%s: %s\n", k, tv))
		default:
			data, err := json.Marshal(v)
			if err != nil {
				continue
			}
			b.WriteString(fmt.Sprintf("%s: %s\n", k, data))
		}
	}
	return strings.TrimSpace(b.String())
}

func extractEntities(event *models.RawEvent, text string) Entities {
	var e Entities

	for _, key := range []string{"user", "username", "author"} {
		if v := stringField(event.Payload, key); v != "" {
			e.Users = append(e.Users, v)
		}
	}

	for _, m := range mentionRe.FindAllStringSubmatch(text, -1) {
		e.Mentions = append(e.Mentions, m[1])
	}
	e.Links = linkRe.FindAllString(text, -1)
	e.Keywords = extractKeywords(text)
	return e
}

// extractKeywords returns up to 10 lowercased alphanumeric tokens of length
// >= 4 that occur at least twice, ordered by frequency with ties broken by
// first occurrence.
func extractKeywords(text string) []string {
	tokens := tokenRe.FindAllString(strings.ToLower(text), -1)

	counts := make(map[string]int)
	firstSeen := make(map[string]int)
	for i, tok := range tokens {
		if len(tok) < 4 {
			continue
		}
		counts[tok]++
		if _, ok := firstSeen[tok]; !ok {
			firstSeen[tok] = i
		}
	}

	var candidates []string
	for tok, n := range counts {
		if n >= 2 {
			candidates = append(candidates, tok)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if counts[candidates[i]] != counts[candidates[j]] {
			return counts[candidates[i]] > counts[candidates[j]]
		}
		return firstSeen[candidates[i]] < firstSeen[candidates[j]]
	})
	if len(candidates) > 10 {
		candidates = candidates[:10]
	}
	return candidates
}

// scoreImportance blends the heuristic salience signals, clamped to [0,1].
func scoreImportance(event *models.RawEvent, text string, entities Entities) float64 {
	score := 0.5

	if event.Source == "slack" {
		if stringField(event.Payload, "thread_ts") != "" {
			score -= 0.1
		}
		if hasReactions(event.Payload) {
			score += 0.2
		}
	}
	if event.Source == "jira" {
		switch stringField(event.Payload, "priority") {
		case "High", "Critical":
			score += 0.3
		}
	}
	if len(entities.Links) > 0 {
		score += 0.1
	}
	if len(entities.Mentions) > 0 {
		score += 0.15
	}
	if len(text) > 200 {
		score += 0.1
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func hasReactions(payload map[string]any) bool {
	reactions, ok := payload["reactions"]
	if !ok {
		return false
	}
	switch v := reactions.(type) {
	case []any:
		return len(v) > 0
	case []string:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return false
	}
}

func stringField(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}
