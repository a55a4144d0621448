package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mehdiaksoy/mateai/pkg/agent"
	"github.com/mehdiaksoy/mateai/pkg/config"
	"github.com/mehdiaksoy/mateai/pkg/knowledge"
	"github.com/mehdiaksoy/mateai/pkg/llm"
	"github.com/mehdiaksoy/mateai/pkg/models"
	"github.com/mehdiaksoy/mateai/pkg/promptctx"
	"github.com/mehdiaksoy/mateai/pkg/retrieval"
	"github.com/mehdiaksoy/mateai/pkg/tools"
)

const testDims = 16

func init() {
	gin.SetMode(gin.TestMode)
}

func hashOf(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// newTestServer wires the API over in-memory stores and a scripted provider.
func newTestServer(t *testing.T, provider *llm.FakeProvider, seed []string) (*Server, knowledge.Store) {
	t.Helper()
	store := knowledge.NewMemoryStore(testDims)
	for _, content := range seed {
		_, err := store.Store(context.Background(), &models.KnowledgeChunk{
			Content:        content,
			ContentHash:    hashOf(content),
			SourceType:     "slack",
			SourceEventID:  "event",
			Importance:     0.5,
			Embedding:      llm.DeterministicEmbedding(content, testDims),
			EmbeddingModel: "fake-embedder",
		})
		require.NoError(t, err)
	}

	retCfg := config.DefaultRetrievalConfig()
	retriever := retrieval.NewService(store, provider, nil, retCfg)
	registry := tools.NewRegistry()
	require.NoError(t, tools.RegisterMemoryTools(registry, retriever))
	builder := promptctx.NewBuilder(retriever, config.DefaultContextConfig())

	manager := llm.NewManager(provider.Name())
	manager.Register(provider)
	agentSvc := agent.New(manager, registry, builder, config.DefaultAgentConfig())

	server := NewServer(config.DefaultServerConfig(), agentSvc, retriever, store, nil)
	return server, store
}

func doJSON(t *testing.T, server *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestMemorySearch(t *testing.T) {
	provider := llm.NewFakeProvider("fake", testDims)
	server, _ := newTestServer(t, provider, []string{"JWT over OAuth2 for simplicity"})

	rec := doJSON(t, server, http.MethodPost, "/api/v1/memory/search", MemorySearchRequest{
		Query: "JWT over OAuth2 for simplicity",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp MemorySearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, "JWT over OAuth2 for simplicity", resp.Results[0].Content)
	assert.GreaterOrEqual(t, resp.Results[0].Similarity, 0.99)
	assert.Equal(t, "slack", resp.Results[0].SourceType)
}

func TestMemorySearchValidation(t *testing.T) {
	provider := llm.NewFakeProvider("fake", testDims)
	server, _ := newTestServer(t, provider, nil)

	rec := doJSON(t, server, http.MethodPost, "/api/v1/memory/search", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "validation", resp.Kind)
}

func TestMemoryStats(t *testing.T) {
	provider := llm.NewFakeProvider("fake", testDims)
	server, _ := newTestServer(t, provider, []string{"one", "two"})

	rec := doJSON(t, server, http.MethodGet, "/api/v1/memory/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats knowledge.StoreStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(2), stats.ByTier["hot"])
	assert.Equal(t, int64(2), stats.BySource["slack"])
}

func TestMemoryRecent(t *testing.T) {
	provider := llm.NewFakeProvider("fake", testDims)
	server, _ := newTestServer(t, provider, []string{"newest knowledge"})

	rec := doJSON(t, server, http.MethodGet, "/api/v1/memory/recent?sourceType=slack&limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var chunks []RecentChunk
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chunks))
	require.Len(t, chunks, 1)
	assert.Equal(t, "newest knowledge", chunks[0].Content)

	rec = doJSON(t, server, http.MethodGet, "/api/v1/memory/recent?limit=oops", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAgentQuery(t *testing.T) {
	provider := llm.NewFakeProvider("fake", testDims)
	provider.Responses = []*llm.ChatResponse{
		llm.FakeToolResponse("c1", "search_memory", `{"query": "@alice fixed the race condition in payment service"}`),
		llm.FakeTextResponse("Alice fixed it."),
	}
	server, _ := newTestServer(t, provider,
		[]string{"@alice fixed the race condition in payment service"})

	rec := doJSON(t, server, http.MethodPost, "/api/v1/agent/query", AgentQueryRequest{
		Query: "Who fixed the race condition?",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AgentQueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Contains(t, resp.Response, "Alice")
	assert.Contains(t, resp.ToolsUsed, "search_memory")
	assert.NotEmpty(t, resp.Steps)
	assert.GreaterOrEqual(t, resp.DurationMs, int64(0))
}

func TestAgentQueryValidation(t *testing.T) {
	provider := llm.NewFakeProvider("fake", testDims)
	server, _ := newTestServer(t, provider, nil)

	rec := doJSON(t, server, http.MethodPost, "/api/v1/agent/query", map[string]any{"userId": "u1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	provider := llm.NewFakeProvider("fake", testDims)
	server, _ := newTestServer(t, provider, nil)

	rec := doJSON(t, server, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, server, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, server, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthReadyFailsWhenDependencyDown(t *testing.T) {
	provider := llm.NewFakeProvider("fake", testDims)
	store := knowledge.NewMemoryStore(testDims)
	retriever := retrieval.NewService(store, provider, nil, config.DefaultRetrievalConfig())
	registry := tools.NewRegistry()
	require.NoError(t, tools.RegisterMemoryTools(registry, retriever))
	manager := llm.NewManager("fake")
	manager.Register(provider)
	agentSvc := agent.New(manager, registry, nil, config.DefaultAgentConfig())

	down := ReadinessCheck{
		Name:  "database",
		Check: func(context.Context) error { return errors.New("connection refused") },
	}
	server := NewServer(config.DefaultServerConfig(), agentSvc, retriever, store, nil, down)

	rec := doJSON(t, server, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doJSON(t, server, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
