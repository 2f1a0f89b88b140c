// Package mock provides a canned-response embeddings.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/voxlingo/voxlingo/pkg/provider/embeddings"
)

// EmbedCall records one Embed invocation.
type EmbedCall struct {
	Text string
}

// Provider returns fixed vectors and records what was embedded. The zero
// value is usable; all fields may be set before handing it to code under
// test.
type Provider struct {
	// EmbedResult and EmbedErr are returned by every Embed call.
	EmbedResult []float32
	EmbedErr    error

	// EmbedBatchResult is returned by EmbedBatch; when nil, a slice of nil
	// vectors matching the input length is returned instead.
	EmbedBatchResult [][]float32
	EmbedBatchErr    error

	DimensionsValue int
	ModelIDValue    string

	mu sync.Mutex

	// EmbedCalls holds every Embed invocation, oldest first. Guarded by mu;
	// read it only after the code under test has finished.
	EmbedCalls []EmbedCall

	// BatchTexts accumulates the inputs of every EmbedBatch call.
	BatchTexts [][]string
}

var _ embeddings.Provider = (*Provider)(nil)

func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.EmbedCalls = append(p.EmbedCalls, EmbedCall{Text: text})
	p.mu.Unlock()
	return p.EmbedResult, p.EmbedErr
}

func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	p.BatchTexts = append(p.BatchTexts, append([]string(nil), texts...))
	p.mu.Unlock()
	if p.EmbedBatchErr != nil {
		return nil, p.EmbedBatchErr
	}
	if p.EmbedBatchResult != nil {
		return p.EmbedBatchResult, nil
	}
	return make([][]float32, len(texts)), nil
}

func (p *Provider) Dimensions() int { return p.DimensionsValue }

func (p *Provider) ModelID() string { return p.ModelIDValue }
