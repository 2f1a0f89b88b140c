// Package mock provides a scriptable llm.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/voxlingo/voxlingo/pkg/provider/llm"
	"github.com/voxlingo/voxlingo/pkg/types"
)

// StreamCall records one StreamCompletion invocation.
type StreamCall struct {
	Req llm.CompletionRequest
}

// CompleteCall records one Complete invocation.
type CompleteCall struct {
	Req llm.CompletionRequest
}

// Provider returns scripted completions and records every request. The zero
// value streams nothing and completes with (nil, nil); set fields before
// handing it to code under test.
type Provider struct {
	// StreamChunks are emitted in order on each StreamCompletion channel,
	// which then closes.
	StreamChunks []llm.Chunk

	// StreamErr, when set, fails StreamCompletion outright.
	StreamErr error

	// ChunkGate, when set, is received from before each chunk goes out.
	// Tests use it to pace the stream and interleave interruptions.
	ChunkGate <-chan struct{}

	// CompleteResponses, when non-empty, are consumed one per Complete call;
	// afterwards CompleteResponse is returned. CompleteErr wins over both.
	CompleteResponses []*llm.CompletionResponse
	CompleteResponse  *llm.CompletionResponse
	CompleteErr       error

	ModelCapabilities types.ModelCapabilities

	mu sync.Mutex

	// StreamCalls and CompleteCalls hold the recorded invocations, oldest
	// first. Guarded by mu; read them after the code under test finishes.
	StreamCalls   []StreamCall
	CompleteCalls []CompleteCall
}

var _ llm.Provider = (*Provider)(nil)

// StreamCompletion records the request and streams the scripted chunks.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, StreamCall{Req: req})
	err := p.StreamErr
	chunks := append([]llm.Chunk(nil), p.StreamChunks...)
	gate := p.ChunkGate
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			if gate != nil {
				select {
				case <-gate:
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Complete records the request and returns the next scripted response.
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Req: req})
	if p.CompleteErr != nil {
		return nil, p.CompleteErr
	}
	if len(p.CompleteResponses) > 0 {
		resp := p.CompleteResponses[0]
		p.CompleteResponses = p.CompleteResponses[1:]
		return resp, nil
	}
	return p.CompleteResponse, nil
}

// Capabilities returns ModelCapabilities.
func (p *Provider) Capabilities() types.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}
