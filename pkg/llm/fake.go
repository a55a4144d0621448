package llm

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// FakeProvider is a deterministic in-process Provider for tests and local
// development. Chat responses are scripted; embeddings are derived from the
// text so equal texts embed identically and similar tests are reproducible.
type FakeProvider struct {
	ProviderName string
	Dimensions   int

	// ChatFunc overrides chat behavior when set.
	ChatFunc func(ctx context.Context, messages []Message, opts ChatOptions) (*ChatResponse, error)

	// CompleteFunc overrides completion behavior when set.
	CompleteFunc func(ctx context.Context, prompt string, opts CompletionOptions) (string, error)

	// EmbedFunc overrides embedding behavior when set.
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)

	// Responses is a queue of canned chat responses consumed in order when
	// ChatFunc is nil. When exhausted, chat returns a plain "ok" message.
	Responses []*ChatResponse

	// Calls records every chat invocation's message slice.
	Calls [][]Message
}

// NewFakeProvider creates a fake with the given embedding width.
func NewFakeProvider(name string, dimensions int) *FakeProvider {
	return &FakeProvider{ProviderName: name, Dimensions: dimensions}
}

var _ Provider = (*FakeProvider)(nil)

func (f *FakeProvider) Name() string {
	if f.ProviderName == "" {
		return "fake"
	}
	return f.ProviderName
}

func (f *FakeProvider) Supports(Operation) bool { return true }

func (f *FakeProvider) Complete(ctx context.Context, prompt string, opts CompletionOptions) (string, error) {
	if f.CompleteFunc != nil {
		return f.CompleteFunc(ctx, prompt, opts)
	}
	resp, err := f.Chat(ctx, []Message{{Role: RoleUser, Content: prompt}}, ChatOptions{
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (f *FakeProvider) Chat(ctx context.Context, messages []Message, opts ChatOptions) (*ChatResponse, error) {
	f.Calls = append(f.Calls, messages)
	if f.ChatFunc != nil {
		return f.ChatFunc(ctx, messages, opts)
	}
	if len(f.Responses) > 0 {
		resp := f.Responses[0]
		f.Responses = f.Responses[1:]
		return resp, nil
	}
	return &ChatResponse{Text: "ok"}, nil
}

func (f *FakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.EmbedFunc != nil {
		return f.EmbedFunc(ctx, text)
	}
	return DeterministicEmbedding(text, f.dims()), nil
}

func (f *FakeProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := f.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (f *FakeProvider) CountTokens(text string) int { return EstimateTokens(text) }

func (f *FakeProvider) dims() int {
	if f.Dimensions > 0 {
		return f.Dimensions
	}
	return 8
}

// DeterministicEmbedding derives an L2-normalized vector from text. Equal
// texts map to equal vectors; unrelated texts are near-orthogonal in
// expectation, which is all the tests rely on.
func DeterministicEmbedding(text string, dims int) []float32 {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, dims)
	var norm float64
	for i := range vec {
		// Stretch the digest over any width by re-hashing per block.
		block := sum
		for j := 0; j < i/4; j++ {
			block = sha256.Sum256(block[:])
		}
		bits := binary.BigEndian.Uint32(block[(i%4)*8 : (i%4)*8+4])
		v := float64(int32(bits)) / math.MaxInt32
		vec[i] = float32(v)
		norm += v * v
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

// FakeToolResponse builds a chat response requesting one tool call, for
// scripting agent tests.
func FakeToolResponse(id, name, arguments string) *ChatResponse {
	return &ChatResponse{
		ToolCalls: []ToolCall{{
			ID:        id,
			Name:      name,
			Arguments: []byte(arguments),
		}},
		StopReason: "tool_use",
	}
}

// FakeTextResponse builds a terminal text-only chat response.
func FakeTextResponse(text string) *ChatResponse {
	return &ChatResponse{Text: text, StopReason: "end_turn"}
}
