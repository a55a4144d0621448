package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mehdiaksoy/mateai/pkg/agent"
	"github.com/mehdiaksoy/mateai/pkg/metrics"
	"github.com/mehdiaksoy/mateai/pkg/retrieval"
)

// agentQueryHandler handles POST /api/v1/agent/query.
func (s *Server) agentQueryHandler(c *gin.Context) {
	var req AgentQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, "query is required")
		return
	}

	includeContext := true
	if req.IncludeMemoryContext != nil {
		includeContext = *req.IncludeMemoryContext
	}

	start := time.Now()
	result, err := s.agent.Query(c.Request.Context(), req.Query, agent.QueryOptions{
		IncludeMemoryContext: includeContext,
	})
	if err != nil {
		metrics.AgentQueries.WithLabelValues("error").Inc()
		respondError(c, err)
		return
	}

	outcome := "success"
	if !result.Success {
		outcome = "iteration_limit"
	}
	metrics.AgentQueries.WithLabelValues(outcome).Inc()

	c.JSON(http.StatusOK, AgentQueryResponse{
		Response:   result.Response,
		DurationMs: time.Since(start).Milliseconds(),
		Steps:      result.Steps,
		ToolsUsed:  result.ToolsUsed,
		Success:    result.Success,
	})
}

// memorySearchHandler handles POST /api/v1/memory/search.
func (s *Server) memorySearchHandler(c *gin.Context) {
	var req MemorySearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, "query is required")
		return
	}

	start := time.Now()
	result, err := s.retriever.Search(c.Request.Context(), req.Query, retrieval.SearchOptions{
		Limit:         req.Limit,
		MinSimilarity: req.MinSimilarity,
		SourceTypes:   req.SourceTypes,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	metrics.SearchRequests.Inc()

	hits := make([]MemorySearchHit, len(result.Chunks))
	for i, hit := range result.Chunks {
		hits[i] = MemorySearchHit{
			ID:         hit.Chunk.ID,
			Content:    hit.Chunk.Content,
			Similarity: hit.Similarity,
			SourceType: hit.Chunk.SourceType,
			Metadata:   hit.Chunk.Metadata,
			CreatedAt:  hit.Chunk.CreatedAt,
		}
	}
	c.JSON(http.StatusOK, MemorySearchResponse{
		Results:    hits,
		Total:      result.TotalResults,
		DurationMs: time.Since(start).Milliseconds(),
	})
}

// memoryStatsHandler handles GET /api/v1/memory/stats.
func (s *Server) memoryStatsHandler(c *gin.Context) {
	stats, err := s.chunks.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// memoryRecentHandler handles GET /api/v1/memory/recent.
func (s *Server) memoryRecentHandler(c *gin.Context) {
	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			respondValidation(c, "limit must be an integer between 1 and 100")
			return
		}
		limit = n
	}

	chunks, err := s.retriever.GetRecent(c.Request.Context(), c.Query("sourceType"), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]RecentChunk, len(chunks))
	for i, chunk := range chunks {
		out[i] = RecentChunk{
			ID:         chunk.ID,
			Content:    chunk.Content,
			SourceType: chunk.SourceType,
			Metadata:   chunk.Metadata,
			CreatedAt:  chunk.CreatedAt,
		}
	}
	c.JSON(http.StatusOK, out)
}

// healthHandler handles GET /health: liveness plus dependency summary.
func (s *Server) healthHandler(c *gin.Context) {
	checks := make(map[string]string, len(s.readiness))
	healthy := true
	for _, check := range s.readiness {
		if err := check.Check(c.Request.Context()); err != nil {
			checks[check.Name] = err.Error()
			healthy = false
		} else {
			checks[check.Name] = "ok"
		}
	}

	status := http.StatusOK
	state := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "unhealthy"
	}
	c.JSON(status, gin.H{"status": state, "checks": checks})
}

// livenessHandler handles GET /health/live: the process is up.
func (s *Server) livenessHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// readinessHandler handles GET /health/ready: dependencies answer.
func (s *Server) readinessHandler(c *gin.Context) {
	for _, check := range s.readiness {
		if err := check.Check(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready", "failed": check.Name,
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
