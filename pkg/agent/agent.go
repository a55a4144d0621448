// Package agent runs the tool-using loop: iterative LLM turns with memory
// lookups as tool calls, terminating on a tool-free response or the
// iteration cap.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mehdiaksoy/mateai/pkg/config"
	"github.com/mehdiaksoy/mateai/pkg/llm"
	"github.com/mehdiaksoy/mateai/pkg/metrics"
	"github.com/mehdiaksoy/mateai/pkg/models"
	"github.com/mehdiaksoy/mateai/pkg/promptctx"
	"github.com/mehdiaksoy/mateai/pkg/tools"
)

// IterationLimitResponse is the sentinel answer when the loop hits its
// iteration cap without a terminal response.
const IterationLimitResponse = "unable to complete request within iteration limit"

const defaultSystemPrompt = "You are the team's collective memory assistant. " +
	"Answer questions using the team's recorded knowledge. Use the available " +
	"tools to look up relevant memory before answering; cite what you found."

// QueryOptions tune one agent run.
type QueryOptions struct {
	History              []models.ConversationMessage
	MaxIterations        int
	IncludeMemoryContext bool
}

// QueryResult is the agent's answer plus its observable transcript.
type QueryResult struct {
	Response   string             `json:"response"`
	Steps      []models.AgentStep `json:"steps"`
	ToolsUsed  []string           `json:"tools_used,omitempty"`
	Success    bool               `json:"success"`
	TokensUsed llm.TokenUsage     `json:"tokens_used"`
	Duration   time.Duration      `json:"duration"`
}

// Agent wires the LLM, the tool registry, and the context builder.
type Agent struct {
	providers *llm.Manager
	registry  *tools.Registry
	builder   *promptctx.Builder
	cfg       *config.AgentConfig
	log       *slog.Logger
}

// New creates an agent.
func New(providers *llm.Manager, registry *tools.Registry, builder *promptctx.Builder, cfg *config.AgentConfig) *Agent {
	return &Agent{
		providers: providers,
		registry:  registry,
		builder:   builder,
		cfg:       cfg,
		log:       slog.With("component", "agent"),
	}
}

// Query answers a user question with the tool-using loop.
//
// Invariants: every tool_use in an assistant turn is answered by exactly
// one tool result message before the next LLM call; tool failures become
// structured error payloads in the transcript, never aborts; the loop ends
// on a tool-free response or after MaxIterations with the sentinel answer.
func (a *Agent) Query(ctx context.Context, query string, opts QueryOptions) (*QueryResult, error) {
	start := time.Now()
	result := &QueryResult{}

	provider, err := a.providers.GetWithFallback(a.providers.DefaultName())
	if err != nil {
		return nil, fmt.Errorf("no chat provider available: %w", err)
	}

	systemPrompt, err := a.buildSystemPrompt(ctx, query, opts)
	if err != nil {
		return nil, err
	}

	messages := make([]llm.Message, 0, len(opts.History)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	for _, msg := range opts.History {
		messages = append(messages, llm.Message{Role: msg.Role, Content: msg.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: query})

	maxIterations := opts.MaxIterations
	if maxIterations <= 0 {
		maxIterations = a.cfg.MaxIterations
	}
	toolDefs := a.registry.Definitions()
	toolsUsed := make(map[string]bool)

	for iteration := 0; iteration < maxIterations; iteration++ {
		if ctx.Err() != nil {
			// Deadline exhausted: return the best partial answer.
			result.Response = lastAssistantText(messages)
			result.Success = false
			result.Duration = time.Since(start)
			return result, nil
		}

		resp, err := a.chat(ctx, provider, messages, toolDefs)
		if err != nil {
			return nil, fmt.Errorf("llm call failed: %w", err)
		}
		accumulate(&result.TokensUsed, resp.Usage)
		metrics.LLMTokens.WithLabelValues(provider.Name(), "input").Add(float64(resp.Usage.InputTokens))
		metrics.LLMTokens.WithLabelValues(provider.Name(), "output").Add(float64(resp.Usage.OutputTokens))

		if len(resp.ToolCalls) == 0 {
			// Terminal: a tool-free response is the answer.
			result.Steps = append(result.Steps, models.AgentStep{
				Type: models.AgentStepMessage, Timestamp: time.Now(),
				Role: models.RoleAssistant, Text: resp.Text,
			})
			result.Response = resp.Text
			result.Success = true
			result.Duration = time.Since(start)
			result.ToolsUsed = keys(toolsUsed)
			return result, nil
		}

		if resp.Text != "" {
			result.Steps = append(result.Steps, models.AgentStep{
				Type: models.AgentStepThinking, Timestamp: time.Now(), Thought: resp.Text,
			})
		}

		// Append the assistant turn carrying the tool_use blocks, then
		// answer every one of them before the next LLM call.
		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		for _, tc := range resp.ToolCalls {
			toolsUsed[tc.Name] = true
			input := decodeArguments(tc.Arguments)
			execResult := a.registry.Execute(ctx, tc.Name, input)

			result.Steps = append(result.Steps, models.AgentStep{
				Type: models.AgentStepToolUse, Timestamp: time.Now(),
				Tool: tc.Name, ToolInput: input, ToolResult: execResult,
			})

			serialized, err := json.Marshal(execResult)
			if err != nil {
				serialized = []byte(fmt.Sprintf(`{"success":false,"error":%q}`, err.Error()))
			}
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    string(serialized),
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
			})
		}
	}

	result.Response = IterationLimitResponse
	result.Success = false
	result.Duration = time.Since(start)
	result.ToolsUsed = keys(toolsUsed)
	return result, nil
}

// chat calls the provider through its circuit breaker when one exists.
func (a *Agent) chat(ctx context.Context, provider llm.Provider, messages []llm.Message, toolDefs []llm.ToolDefinition) (*llm.ChatResponse, error) {
	call := func() (*llm.ChatResponse, error) {
		return provider.Chat(ctx, messages, llm.ChatOptions{
			MaxTokens:   a.cfg.MaxTokens,
			Temperature: a.cfg.Temperature,
			Tools:       toolDefs,
		})
	}

	cb, ok := a.providers.Breaker(provider.Name())
	if !ok {
		return call()
	}
	out, err := cb.Execute(func() (any, error) { return call() })
	if err != nil {
		return nil, err
	}
	return out.(*llm.ChatResponse), nil
}

// buildSystemPrompt optionally grounds the system prompt in retrieved
// memory via the context builder.
func (a *Agent) buildSystemPrompt(ctx context.Context, query string, opts QueryOptions) (string, error) {
	if !opts.IncludeMemoryContext || a.builder == nil {
		return defaultSystemPrompt, nil
	}

	built, err := a.builder.Build(ctx, query, opts.History, promptctx.Options{
		SystemPrompt:   defaultSystemPrompt,
		IncludeHistory: false,
	})
	if err != nil {
		// Degraded mode: the agent can still answer through tools.
		a.log.Warn("Context build failed, continuing without memory context", "error", err)
		return defaultSystemPrompt, nil
	}
	if built.KnowledgeContext == "" {
		return defaultSystemPrompt, nil
	}

	var b strings.Builder
	b.WriteString(defaultSystemPrompt)
	b.WriteString("\n\nRelevant knowledge from memory:\n\n")
	b.WriteString(built.KnowledgeContext)
	return b.String(), nil
}

func decodeArguments(raw json.RawMessage) map[string]any {
	input := make(map[string]any)
	if len(raw) > 0 {
		// Malformed arguments surface as validation errors downstream.
		_ = json.Unmarshal(raw, &input)
	}
	return input
}

func lastAssistantText(messages []llm.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleAssistant && messages[i].Content != "" {
			return messages[i].Content
		}
	}
	return ""
}

func accumulate(total *llm.TokenUsage, usage llm.TokenUsage) {
	total.InputTokens += usage.InputTokens
	total.OutputTokens += usage.OutputTokens
	total.TotalTokens += usage.TotalTokens
}

func keys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
