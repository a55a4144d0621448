package llm

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider implements Provider on the Claude Messages API.
// It supports completion and chat with native tool calling; embeddings are
// not offered by the API and fail with ErrUnsupported.
type AnthropicProvider struct {
	name   string
	client sdk.Client
	model  string
}

// NewAnthropicProvider builds a Claude-backed provider.
func NewAnthropicProvider(name, apiKey, model, baseURL string) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("anthropic: model identifier is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicProvider{
		name:   name,
		client: sdk.NewClient(opts...),
		model:  model,
	}, nil
}

var _ Provider = (*AnthropicProvider)(nil)

func (p *AnthropicProvider) Name() string { return p.name }

func (p *AnthropicProvider) Supports(op Operation) bool {
	switch op {
	case OpComplete, OpChat, OpCountTokens:
		return true
	}
	return false
}

func (p *AnthropicProvider) Complete(ctx context.Context, prompt string, opts CompletionOptions) (string, error) {
	resp, err := p.Chat(ctx, []Message{{Role: RoleUser, Content: prompt}}, ChatOptions{
		MaxTokens:     opts.MaxTokens,
		Temperature:   opts.Temperature,
		StopSequences: opts.StopSequences,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (p *AnthropicProvider) Chat(ctx context.Context, messages []Message, opts ChatOptions) (*ChatResponse, error) {
	params, err := p.prepareRequest(messages, opts)
	if err != nil {
		return nil, err
	}

	msg, err := p.client.Messages.New(ctx, *params)
	if err != nil {
		return nil, p.normalizeError(err)
	}
	return translateAnthropicResponse(msg), nil
}

func (p *AnthropicProvider) Embed(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("anthropic: embed: %w", ErrUnsupported)
}

func (p *AnthropicProvider) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, fmt.Errorf("anthropic: embed_batch: %w", ErrUnsupported)
}

func (p *AnthropicProvider) CountTokens(text string) int {
	return EstimateTokens(text)
}

func (p *AnthropicProvider) prepareRequest(messages []Message, opts ChatOptions) (*sdk.MessageNewParams, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("anthropic: messages are required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	conversation, system, err := encodeAnthropicMessages(messages)
	if err != nil {
		return nil, err
	}

	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  conversation,
		Model:     sdk.Model(p.model),
	}
	if len(system) > 0 {
		params.System = system
	}
	if opts.Temperature > 0 {
		params.Temperature = sdk.Float(opts.Temperature)
	}
	if len(opts.StopSequences) > 0 {
		params.StopSequences = opts.StopSequences
	}
	if len(opts.Tools) > 0 {
		params.Tools = encodeAnthropicTools(opts.Tools)
	}
	return &params, nil
}

func encodeAnthropicMessages(messages []Message) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(messages))
	var system []sdk.TextBlockParam

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			if m.Content != "" {
				system = append(system, sdk.TextBlockParam{Text: m.Content})
			}

		case RoleUser:
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))

		case RoleAssistant:
			blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any
				if len(tc.Arguments) > 0 {
					input = tc.Arguments
				} else {
					input = map[string]any{}
				}
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			conversation = append(conversation, sdk.NewAssistantMessage(blocks...))

		case RoleTool:
			// Tool results ride in a user message per the Messages API.
			conversation = append(conversation, sdk.NewUserMessage(
				sdk.NewToolResultBlock(m.ToolCallID, m.Content, false)))

		default:
			return nil, nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}

	if len(conversation) == 0 {
		return nil, nil, fmt.Errorf("anthropic: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func encodeAnthropicTools(defs []ToolDefinition) []sdk.ToolUnionParam {
	tools := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		schema := sdk.ToolInputSchemaParam{ExtraFields: def.InputSchema}
		u := sdk.ToolUnionParamOfTool(schema, def.Name)
		if u.OfTool != nil && def.Description != "" {
			u.OfTool.Description = sdk.String(def.Description)
		}
		tools = append(tools, u)
	}
	return tools
}

func translateAnthropicResponse(msg *sdk.Message) *ChatResponse {
	resp := &ChatResponse{StopReason: string(msg.StopReason)}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Text += block.Text
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}
	resp.Usage = TokenUsage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}
	return resp
}

func (p *AnthropicProvider) normalizeError(err error) error {
	var apierr *sdk.Error
	if errors.As(err, &apierr) {
		return normalizeStatus(p.name, apierr.StatusCode, 0, err)
	}
	return &upstreamError{provider: p.name, cause: err}
}
