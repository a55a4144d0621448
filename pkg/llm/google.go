package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
)

// GoogleProvider implements Provider on Gemini via langchaingo. It covers
// chat, completion, and embeddings; native tool calling is not wired for
// this backend, so chat calls that bind tools fail with ErrUnsupported. The
// provider manager's fallback skips only providers whose breaker is open; it
// does not switch backends on ErrUnsupported.
type GoogleProvider struct {
	name  string
	model *googleai.GoogleAI
}

// NewGoogleProvider builds a Gemini-backed provider.
func NewGoogleProvider(ctx context.Context, name, apiKey, model, embeddingModel string) (*GoogleProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google: api key is required")
	}
	opts := []googleai.Option{
		googleai.WithAPIKey(apiKey),
		googleai.WithDefaultModel(model),
	}
	if embeddingModel != "" {
		opts = append(opts, googleai.WithDefaultEmbeddingModel(embeddingModel))
	}
	g, err := googleai.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}
	return &GoogleProvider{name: name, model: g}, nil
}

var _ Provider = (*GoogleProvider)(nil)

func (p *GoogleProvider) Name() string { return p.name }

func (p *GoogleProvider) Supports(op Operation) bool {
	switch op {
	case OpComplete, OpChat, OpEmbed, OpEmbedBatch, OpCountTokens:
		return true
	}
	return false
}

func (p *GoogleProvider) Complete(ctx context.Context, prompt string, opts CompletionOptions) (string, error) {
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

func (p *GoogleProvider) Chat(ctx context.Context, messages []Message, opts ChatOptions) (*ChatResponse, error) {
	if len(opts.Tools) > 0 {
		return nil, fmt.Errorf("google: tool calling: %w", ErrUnsupported)
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("google: messages are required")
	}

	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		var role llms.ChatMessageType
		switch m.Role {
		case RoleSystem:
			role = llms.ChatMessageTypeSystem
		case RoleAssistant:
			role = llms.ChatMessageTypeAI
		default:
			role = llms.ChatMessageTypeHuman
		}
		content = append(content, llms.TextParts(role, m.Content))
	}

	callOpts := []llms.CallOption{}
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxTokens))
	}
	if opts.Temperature > 0 {
		callOpts = append(callOpts, llms.WithTemperature(opts.Temperature))
	}
	if len(opts.StopSequences) > 0 {
		callOpts = append(callOpts, llms.WithStopWords(opts.StopSequences))
	}

	resp, err := p.model.GenerateContent(ctx, content, callOpts...)
	if err != nil {
		return nil, p.normalizeError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &upstreamError{provider: p.name, cause: fmt.Errorf("empty choices in response")}
	}

	choice := resp.Choices[0]
	return &ChatResponse{
		Text:       choice.Content,
		StopReason: choice.StopReason,
	}, nil
}

func (p *GoogleProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (p *GoogleProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := p.model.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, p.normalizeError(err)
	}
	if len(vectors) != len(texts) {
		return nil, &upstreamError{
			provider: p.name,
			cause:    fmt.Errorf("expected %d embeddings, got %d", len(texts), len(vectors)),
		}
	}
	return vectors, nil
}

func (p *GoogleProvider) CountTokens(text string) int {
	return EstimateTokens(text)
}

func (p *GoogleProvider) normalizeError(err error) error {
	// langchaingo surfaces transport errors as plain strings; classify the
	// common cases by message.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "429") || strings.Contains(strings.ToLower(msg), "quota"):
		return fmt.Errorf("%s: %w", p.name, &RateLimitError{})
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(strings.ToLower(msg), "api key"):
		return fmt.Errorf("%s: %w: %v", p.name, ErrUnauthenticated, err)
	default:
		return &upstreamError{provider: p.name, cause: err}
	}
}
