// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs) and
// presents a uniform streaming interface. The primary entry point is
// SynthesizeStream, which accepts a channel of text fragments and returns a
// channel of raw PCM audio bytes as they become available — enabling
// low-latency pipelining between the LLM output and the client audio stream.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/voxlingo/voxlingo/pkg/types"
)

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple synthesis requests
// may run in parallel (one per active conversation turn, plus one-shot
// pronunciation requests).
type Provider interface {
	// SynthesizeStream consumes text fragments from the text channel and
	// returns a channel that emits raw PCM audio byte slices as they are
	// synthesised. This design allows the caller to pipe LLM streaming output
	// directly into synthesis without waiting for the full text to be
	// available.
	//
	// The returned audio channel is closed by the implementation when all text
	// has been synthesised or when ctx is cancelled. The caller must drain the
	// audio channel to avoid blocking the provider's internal goroutines.
	//
	// voice specifies the voice profile to use for synthesis. Providers should
	// return an error if the requested voice is not available.
	//
	// Returns a non-nil error only if the stream cannot be started. Errors
	// encountered during synthesis are signalled by closing the audio channel
	// early; callers should check ctx.Err() to distinguish cancellation from
	// provider errors.
	SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error)

	// ListVoices returns all voice profiles available from this provider. The
	// list reflects the provider's current catalogue and may change between
	// calls if the underlying service adds or removes voices.
	//
	// Returns an error if the provider cannot be reached or if ctx is
	// cancelled before the list is retrieved.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)
}

// Synthesize runs a one-shot synthesis of a fixed text through p and returns
// the concatenated PCM audio. Used for isolated pronunciation playback where
// streaming buys nothing.
func Synthesize(ctx context.Context, p Provider, text string, voice types.VoiceProfile) ([]byte, error) {
	in := make(chan string, 1)
	in <- text
	close(in)

	audio, err := p.SynthesizeStream(ctx, in, voice)
	if err != nil {
		return nil, err
	}

	var out []byte
	for chunk := range audio {
		out = append(out, chunk...)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
