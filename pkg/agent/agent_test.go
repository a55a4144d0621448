package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mehdiaksoy/mateai/pkg/config"
	"github.com/mehdiaksoy/mateai/pkg/knowledge"
	"github.com/mehdiaksoy/mateai/pkg/llm"
	"github.com/mehdiaksoy/mateai/pkg/models"
	"github.com/mehdiaksoy/mateai/pkg/promptctx"
	"github.com/mehdiaksoy/mateai/pkg/retrieval"
	"github.com/mehdiaksoy/mateai/pkg/tools"
)

const testDims = 16

func hashOf(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// newTestAgent wires an agent over in-memory stores and a scripted provider.
func newTestAgent(t *testing.T, provider *llm.FakeProvider, seed []string) (*Agent, knowledge.Store) {
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
	retCfg.MinSimilarity = 0.000001
	retriever := retrieval.NewService(store, provider, nil, retCfg)

	registry := tools.NewRegistry()
	require.NoError(t, tools.RegisterMemoryTools(registry, retriever))

	builder := promptctx.NewBuilder(retriever, config.DefaultContextConfig())

	manager := llm.NewManager(provider.Name())
	manager.Register(provider)

	return New(manager, registry, builder, config.DefaultAgentConfig()), store
}

func TestQueryTerminatesOnToolFreeResponse(t *testing.T) {
	provider := llm.NewFakeProvider("fake", testDims)
	provider.Responses = []*llm.ChatResponse{
		llm.FakeTextResponse("The answer is 42."),
	}
	a, _ := newTestAgent(t, provider, nil)

	result, err := a.Query(context.Background(), "what is the answer?", QueryOptions{})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "The answer is 42.", result.Response)
	assert.Empty(t, result.ToolsUsed)
	require.Len(t, result.Steps, 1)
	assert.Equal(t, models.AgentStepMessage, result.Steps[0].Type)
}

func TestQueryUsesMemoryTool(t *testing.T) {
	// Scenario: the agent must call search_memory and answer from the hit.
	provider := llm.NewFakeProvider("fake", testDims)
	// The fake embedder maps equal texts to equal vectors, so searching the
	// stored sentence verbatim guarantees a hit.
	provider.Responses = []*llm.ChatResponse{
		llm.FakeToolResponse("call-1", "search_memory",
			`{"query": "@alice fixed the race condition in payment service"}`),
		llm.FakeTextResponse("Alice fixed the race condition in the payment service."),
	}
	a, _ := newTestAgent(t, provider,
		[]string{"@alice fixed the race condition in payment service"})

	result, err := a.Query(context.Background(), "Who fixed the race condition?", QueryOptions{})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, strings.ToLower(result.Response), "alice")
	assert.Contains(t, result.ToolsUsed, "search_memory")

	// The transcript shows the tool use with its result.
	var sawToolStep bool
	for _, step := range result.Steps {
		if step.Type == models.AgentStepToolUse {
			sawToolStep = true
			assert.Equal(t, "search_memory", step.Tool)
		}
	}
	assert.True(t, sawToolStep)

	// The second LLM call saw exactly one tool result for the tool_use.
	require.Len(t, provider.Calls, 2)
	second := provider.Calls[1]
	var toolResults int
	for _, msg := range second {
		if msg.Role == llm.RoleTool {
			toolResults++
			assert.Equal(t, "call-1", msg.ToolCallID)
			assert.Contains(t, msg.Content, "alice")
		}
	}
	assert.Equal(t, 1, toolResults, "every tool_use is answered exactly once")
}

func TestQueryIterationLimitSentinel(t *testing.T) {
	provider := llm.NewFakeProvider("fake", testDims)
	provider.ChatFunc = func(_ context.Context, _ []llm.Message, _ llm.ChatOptions) (*llm.ChatResponse, error) {
		// Never terminates: every turn requests another lookup.
		return llm.FakeToolResponse("loop", "get_recent_events", `{}`), nil
	}
	a, _ := newTestAgent(t, provider, nil)

	result, err := a.Query(context.Background(), "stuck", QueryOptions{MaxIterations: 3})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, IterationLimitResponse, result.Response)
	assert.Len(t, provider.Calls, 3, "loop stops at the iteration cap")
}

func TestQueryToolFailureRecoverable(t *testing.T) {
	provider := llm.NewFakeProvider("fake", testDims)
	provider.Responses = []*llm.ChatResponse{
		llm.FakeToolResponse("call-1", "nonexistent_tool", `{}`),
		llm.FakeTextResponse("I could not find that tool, but here is my answer."),
	}
	a, _ := newTestAgent(t, provider, nil)

	result, err := a.Query(context.Background(), "try a bad tool", QueryOptions{})
	require.NoError(t, err, "tool failures must not abort the loop")
	assert.True(t, result.Success)

	// The failure went back to the LLM as a structured error object.
	require.Len(t, provider.Calls, 2)
	var sawError bool
	for _, msg := range provider.Calls[1] {
		if msg.Role == llm.RoleTool {
			assert.Contains(t, msg.Content, `"success":false`)
			assert.Contains(t, msg.Content, "tool not found")
			sawError = true
		}
	}
	assert.True(t, sawError)
}

func TestQueryMemoryContextInSystemPrompt(t *testing.T) {
	provider := llm.NewFakeProvider("fake", testDims)
	provider.EmbedFunc = func(_ context.Context, _ string) ([]float32, error) {
		vec := make([]float32, testDims)
		vec[0] = 1
		return vec, nil
	}
	provider.Responses = []*llm.ChatResponse{llm.FakeTextResponse("done")}

	store := knowledge.NewMemoryStore(testDims)
	vec := make([]float32, testDims)
	vec[0] = 1
	_, err := store.Store(context.Background(), &models.KnowledgeChunk{
		Content:        "JWT was chosen over OAuth2 for simplicity",
		ContentHash:    hashOf("JWT was chosen over OAuth2 for simplicity"),
		SourceType:     "slack",
		SourceEventID:  "event",
		Importance:     0.8,
		Embedding:      vec,
		EmbeddingModel: "fake",
	})
	require.NoError(t, err)

	retriever := retrieval.NewService(store, provider, nil, config.DefaultRetrievalConfig())
	registry := tools.NewRegistry()
	require.NoError(t, tools.RegisterMemoryTools(registry, retriever))
	builder := promptctx.NewBuilder(retriever, config.DefaultContextConfig())
	manager := llm.NewManager("fake")
	manager.Register(provider)
	a := New(manager, registry, builder, config.DefaultAgentConfig())

	_, err = a.Query(context.Background(), "why JWT?", QueryOptions{IncludeMemoryContext: true})
	require.NoError(t, err)

	require.NotEmpty(t, provider.Calls)
	system := provider.Calls[0][0]
	assert.Equal(t, llm.RoleSystem, system.Role)
	assert.Contains(t, system.Content, "JWT was chosen over OAuth2")
}

func TestQueryDeadlineReturnsPartial(t *testing.T) {
	provider := llm.NewFakeProvider("fake", testDims)
	provider.ChatFunc = func(ctx context.Context, _ []llm.Message, _ llm.ChatOptions) (*llm.ChatResponse, error) {
		resp := llm.FakeToolResponse("c", "get_recent_events", `{}`)
		resp.Text = "partial reasoning so far"
		return resp, nil
	}
	a, _ := newTestAgent(t, provider, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *QueryResult, 1)
	go func() {
		result, err := a.Query(ctx, "slow question", QueryOptions{MaxIterations: 1000})
		require.NoError(t, err)
		done <- result
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case result := <-done:
		assert.False(t, result.Success)
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not return after cancellation")
	}
}

func TestQueryHistoryIncludedInMessages(t *testing.T) {
	provider := llm.NewFakeProvider("fake", testDims)
	provider.Responses = []*llm.ChatResponse{llm.FakeTextResponse("hello again")}
	a, _ := newTestAgent(t, provider, nil)

	history := []models.ConversationMessage{
		{Role: models.RoleUser, Content: "first question"},
		{Role: models.RoleAssistant, Content: "first answer"},
	}
	_, err := a.Query(context.Background(), "follow-up", QueryOptions{History: history})
	require.NoError(t, err)

	require.Len(t, provider.Calls, 1)
	msgs := provider.Calls[0]
	require.Len(t, msgs, 4)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, "first question", msgs[1].Content)
	assert.Equal(t, "first answer", msgs[2].Content)
	assert.Equal(t, "follow-up", msgs[3].Content)
}
