// Package mock provides a scriptable tts.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/voxlingo/voxlingo/pkg/provider/tts"
	"github.com/voxlingo/voxlingo/pkg/types"
)

// SynthesizeStreamCall records one SynthesizeStream invocation.
type SynthesizeStreamCall struct {
	Voice types.VoiceProfile
}

// Provider emits scripted audio and records which voices and sentences the
// code under test sent to synthesis.
type Provider struct {
	// SynthesizeChunks are emitted on each SynthesizeStream channel, which
	// then closes. Ignored when EchoText is set.
	SynthesizeChunks [][]byte

	// EchoText makes each received text fragment come back as one audio
	// chunk (the fragment's bytes), so tests can assert which sentences
	// reached the synthesiser and in what order.
	EchoText bool

	// SynthesizeErr, when set, fails SynthesizeStream outright.
	SynthesizeErr error

	ListVoicesResult []types.VoiceProfile
	ListVoicesErr    error

	mu sync.Mutex

	// SynthesizeStreamCalls holds the recorded invocations, oldest first.
	SynthesizeStreamCalls []SynthesizeStreamCall

	received []string
}

var _ tts.Provider = (*Provider)(nil)

// SynthesizeStream records the call, drains the text channel, and emits the
// scripted (or echoed) audio.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	p.SynthesizeStreamCalls = append(p.SynthesizeStreamCalls, SynthesizeStreamCall{Voice: voice})
	err := p.SynthesizeErr
	chunks := append([][]byte(nil), p.SynthesizeChunks...)
	echo := p.EchoText
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	ch := make(chan []byte, 64)
	go func() {
		defer close(ch)
		if echo {
			for frag := range text {
				p.record(frag)
				select {
				case ch <- []byte(frag):
				case <-ctx.Done():
					return
				}
			}
			return
		}
		// The text channel still needs draining or the producer blocks.
		go func() {
			for frag := range text {
				p.record(frag)
			}
		}()
		for _, audio := range chunks {
			select {
			case ch <- audio:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// ListVoices returns the scripted voice list.
func (p *Provider) ListVoices(context.Context) ([]types.VoiceProfile, error) {
	return p.ListVoicesResult, p.ListVoicesErr
}

// ReceivedText returns every text fragment drained so far, across all calls.
func (p *Provider) ReceivedText() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.received...)
}

func (p *Provider) record(frag string) {
	p.mu.Lock()
	p.received = append(p.received, frag)
	p.mu.Unlock()
}
