// Package anyllm adapts github.com/mozilla-ai/any-llm-go to the llm.Provider
// interface, giving one constructor for every backend the library supports:
// openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, and
// llamafile.
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/voxlingo/voxlingo/pkg/provider/llm"
	"github.com/voxlingo/voxlingo/pkg/types"
)

// Provider implements llm.Provider over an any-llm backend.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

var _ llm.Provider = (*Provider)(nil)

// New builds a Provider for the named backend. Without an explicit
// anyllmlib.WithAPIKey option the backend reads its usual environment
// variable (OPENAI_API_KEY, ANTHROPIC_API_KEY, ...).
func New(providerName, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if providerName == "" {
		return nil, errors.New("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, errors.New("anyllm: model must not be empty")
	}
	backend, err := newBackend(providerName, opts...)
	if err != nil {
		return nil, err
	}
	return &Provider{backend: backend, model: model}, nil
}

// newBackend dispatches to the any-llm constructor for name. Each arm
// returns the backend's concrete provider type, converting to the interface
// at the return.
func newBackend(name string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(name) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("anyllm: unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", name)
	}
}

// NewOllama builds a Provider for local Ollama inference; without options it
// connects to http://localhost:11434.
func NewOllama(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("ollama", model, opts...)
}

// NewAnthropic builds an Anthropic-backed Provider.
func NewAnthropic(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("anthropic", model, opts...)
}

// StreamCompletion starts a streaming completion. Backend errors reported
// after the stream drains become a final chunk with FinishReason "error".
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	chunks, errs := p.backend.CompletionStream(ctx, p.params(req))

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		for chunk := range chunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			select {
			case ch <- llm.Chunk{Text: choice.Delta.Content, FinishReason: choice.FinishReason}:
			case <-ctx.Done():
				return
			}
		}
		if err := <-errs; err != nil {
			select {
			case ch <- llm.Chunk{FinishReason: "error", Text: err.Error()}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}

// Complete runs a blocking completion.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.params(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("anyllm: empty choices in response")
	}
	out := &llm.CompletionResponse{Content: resp.Choices[0].Message.ContentString()}
	if resp.Usage != nil {
		out.Usage = llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return out, nil
}

func (p *Provider) params(req llm.CompletionRequest) anyllmlib.CompletionParams {
	var messages []anyllmlib.Message
	if req.SystemPrompt != "" {
		messages = append(messages, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		messages = append(messages, anyllmlib.Message{Role: m.Role, Content: m.Content})
	}

	params := anyllmlib.CompletionParams{Model: p.model, Messages: messages}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}
	if req.JSONOutput {
		params.ResponseFormat = &anyllmlib.ResponseFormat{Type: "json_object"}
	}
	return params
}

// knownCaps maps model-name fragments to their limits, checked in order.
// Covers the OpenAI, Anthropic, and Gemini families; unknown models get the
// default 128k/4k.
var knownCaps = []struct {
	match  string
	window int
	maxOut int
	noJSON bool
}{
	{match: "gpt-4o-mini", window: 128_000, maxOut: 16_384},
	{match: "gpt-4o", window: 128_000, maxOut: 16_384},
	{match: "gpt-4-turbo", window: 128_000, maxOut: 4_096},
	{match: "gpt-4", window: 8_192, maxOut: 4_096, noJSON: true},
	{match: "gpt-3.5-turbo", window: 16_385, maxOut: 4_096},
	{match: "o1-mini", window: 128_000, maxOut: 65_536},
	{match: "o1", window: 200_000, maxOut: 100_000},
	{match: "o3", window: 200_000, maxOut: 100_000},
	{match: "claude-3-opus", window: 200_000, maxOut: 4_096},
	{match: "claude", window: 200_000, maxOut: 8_192},
	{match: "gemini-1.5-pro", window: 2_000_000, maxOut: 8_192},
	{match: "gemini", window: 1_000_000, maxOut: 8_192},
}

// Capabilities reports the limits of the configured model.
func (p *Provider) Capabilities() types.ModelCapabilities {
	caps := types.ModelCapabilities{
		SupportsStreaming:  true,
		SupportsJSONOutput: true,
		ContextWindow:      128_000,
		MaxOutputTokens:    4_096,
	}
	name := strings.ToLower(p.model)
	for _, c := range knownCaps {
		if strings.Contains(name, c.match) {
			caps.ContextWindow = c.window
			caps.MaxOutputTokens = c.maxOut
			caps.SupportsJSONOutput = !c.noJSON
			break
		}
	}
	return caps
}
