package api

// AgentQueryRequest is the body of POST /api/v1/agent/query.
type AgentQueryRequest struct {
	Query                string `json:"query" binding:"required"`
	UserID               string `json:"userId,omitempty"`
	IncludeMemoryContext *bool  `json:"includeMemoryContext,omitempty"`
}

// MemorySearchRequest is the body of POST /api/v1/memory/search.
type MemorySearchRequest struct {
	Query         string   `json:"query" binding:"required"`
	Limit         int      `json:"limit,omitempty"`
	MinSimilarity float64  `json:"minSimilarity,omitempty"`
	SourceTypes   []string `json:"sourceTypes,omitempty"`
}
