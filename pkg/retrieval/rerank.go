package retrieval

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mehdiaksoy/mateai/pkg/llm"
)

const (
	rerankMaxTokens   = 100
	rerankSnippetSize = 200
)

var intRe = regexp.MustCompile(`\d+`)

// rerank asks the LLM to reorder the head of the result list by relevance
// to the query. Failures are non-fatal: any error or unparseable response
// returns the original ordering.
func (s *Service) rerank(ctx context.Context, query string, results []ScoredResult) []ScoredResult {
	depth := s.cfg.RerankDepth
	if depth <= 0 {
		depth = 10
	}
	if depth > len(results) {
		depth = len(results)
	}
	head, tail := results[:depth], results[depth:]

	prompt := buildRerankPrompt(query, head)
	response, err := s.reranker.Complete(ctx, prompt, llm.CompletionOptions{
		MaxTokens: rerankMaxTokens,
	})
	if err != nil {
		s.log.Warn("Rerank call failed, keeping original order", "error", err)
		return results
	}

	order := parseRerankResponse(response, depth)
	if order == nil {
		s.log.Warn("Rerank response unparseable, keeping original order",
			"response", truncate(response, 80))
		return results
	}

	reranked := make([]ScoredResult, 0, len(results))
	for _, idx := range order {
		reranked = append(reranked, head[idx])
	}
	return append(reranked, tail...)
}

// buildRerankPrompt enumerates truncated chunk snippets for the model to
// reorder.
func buildRerankPrompt(query string, head []ScoredResult) string {
	var b strings.Builder
	b.WriteString("Rank the following snippets by relevance to the query.\n")
	fmt.Fprintf(&b, "Query: %s\n\n", query)
	for i, r := range head {
		fmt.Fprintf(&b, "[%d] %s\n", i, truncate(r.Chunk.Content, rerankSnippetSize))
	}
	b.WriteString("\nRespond with the snippet indices as a comma-separated list, most relevant first.")
	return b.String()
}

// parseRerankResponse extracts indices in response order, keeps the ones
// within range (each at most once), and appends unmatched original indices
// after the reranked prefix. Returns nil when no index could be extracted.
func parseRerankResponse(response string, depth int) []int {
	matches := intRe.FindAllString(response, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[int]bool, depth)
	order := make([]int, 0, depth)
	for _, m := range matches {
		idx, err := strconv.Atoi(m)
		if err != nil || idx < 0 || idx >= depth || seen[idx] {
			continue
		}
		seen[idx] = true
		order = append(order, idx)
	}
	if len(order) == 0 {
		return nil
	}

	for i := 0; i < depth; i++ {
		if !seen[i] {
			order = append(order, i)
		}
	}
	return order
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
