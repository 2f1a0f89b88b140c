package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxlingo/voxlingo/internal/observe"
	"github.com/voxlingo/voxlingo/internal/prompt"
	"github.com/voxlingo/voxlingo/internal/stream"
	"github.com/voxlingo/voxlingo/internal/transcribe"
	"github.com/voxlingo/voxlingo/pkg/provider/llm"
	"github.com/voxlingo/voxlingo/pkg/provider/stt"
	"github.com/voxlingo/voxlingo/pkg/provider/tts"
)

const (
	// defaultOutputBuf is the buffer depth of the execution's output channel.
	defaultOutputBuf = 8

	// contentBuf and ttsTextBuf absorb bursts between the LLM stream and its
	// two consumers (client relay and TTS).
	contentBuf = 16
	ttsTextBuf = 16

	// audioRelayBuf decouples TTS production from the consumer's drain order:
	// the coordinator drains the content stream before the audio stream, so
	// audio for the in-flight turn accumulates here in the meantime.
	audioRelayBuf = 256
)

// Pipeline is the production Executor: multiplexer frames in, transcription
// via the STT adapter, retrieval-augmented LLM streaming, sentence-level TTS
// synthesis out.
type Pipeline struct {
	sttP    stt.Provider
	llmP    llm.Provider
	ttsP    tts.Provider
	prompts *prompt.Builder
	log     *slog.Logger
	metrics *observe.Metrics

	sampleRate  int
	adapterOpts []transcribe.Option
}

var _ Executor = (*Pipeline)(nil)

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithSampleRate sets the STT input sample rate. Defaults to 16000.
func WithSampleRate(hz int) PipelineOption {
	return func(p *Pipeline) { p.sampleRate = hz }
}

// WithAdapterOptions passes options through to each execution's transcription
// adapter (debounce window, turn ceiling, idle timeout).
func WithAdapterOptions(opts ...transcribe.Option) PipelineOption {
	return func(p *Pipeline) { p.adapterOpts = opts }
}

// WithPipelineLogger sets the structured logger. Defaults to slog.Default.
func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.log = l }
}

// WithPipelineMetrics enables per-stage latency recording. Nil disables it.
func WithPipelineMetrics(m *observe.Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// NewPipeline constructs a Pipeline over the given providers.
func NewPipeline(sttP stt.Provider, llmP llm.Provider, ttsP tts.Provider, prompts *prompt.Builder, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		sttP:       sttP,
		llmP:       llmP,
		ttsP:       ttsP,
		prompts:    prompts,
		log:        slog.Default(),
		sampleRate: 16000,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Execute starts one graph execution over mux. Each execution owns a fresh
// transcription adapter; a restarted execution therefore reconnects STT.
func (p *Pipeline) Execute(ctx context.Context, mux *stream.Multiplexer, opts Options) (<-chan Output, error) {
	if opts.Session == nil {
		return nil, errors.New("graph: options require a session view")
	}

	adapter := transcribe.New(p.sttP, stt.StreamConfig{
		SampleRate: p.sampleRate,
		Channels:   1,
		Language:   opts.Session.LanguageCode(),
	}, p.adapterOpts...)

	out := make(chan Output, defaultOutputBuf)
	go p.run(ctx, mux, adapter, opts, out)
	return out, nil
}

// run is the execution's main loop. It owns the output channel.
func (p *Pipeline) run(ctx context.Context, mux *stream.Multiplexer, adapter *transcribe.Adapter, opts Options, out chan Output) {
	var pumps sync.WaitGroup
	defer close(out)
	defer pumps.Wait()

	// Ingest: drain the multiplexer into the adapter. Typed messages skip STT
	// and become turns directly.
	textTurns := make(chan string, 4)
	go func() {
		defer adapter.Close()
		defer close(textTurns)
		for {
			f, err := mux.Next(ctx)
			if err != nil {
				if !errors.Is(err, stream.ErrStreamEnded) && !errors.Is(err, context.Canceled) {
					p.log.Warn("input stream terminated", "session_id", opts.SessionID, "err", err)
				}
				return
			}
			switch f.Kind {
			case stream.KindAudio:
				if err := adapter.SendAudio(ctx, f.Audio); err != nil {
					switch {
					case errors.Is(err, transcribe.ErrTurnExhausted):
						p.log.Warn("turn abandoned at transcription ceiling", "session_id", opts.SessionID)
					case errors.Is(err, transcribe.ErrAdapterClosed):
						return
					default:
						p.log.Error("forwarding audio to stt", "session_id", opts.SessionID, "err", err)
					}
				}
			case stream.KindText:
				select {
				case textTurns <- f.Text:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	// Partials flow on their own goroutine so speech stays observable while a
	// turn is generating; that concurrency is what makes barge-in detectable.
	pumps.Add(1)
	go func() {
		defer pumps.Done()
		for text := range adapter.Partials() {
			if opts.OnSpeech != nil {
				opts.OnSpeech(text)
				continue
			}
			p.emit(ctx, out, Output{Kind: KindTranscript, Text: text})
		}
	}()

	// Interaction ids for typed turns share one base per execution, mirroring
	// the adapter's scheme for spoken turns.
	textBase := uuid.NewString()
	textSeq := 0

	finals := adapter.Finals()
	for finals != nil || textTurns != nil {
		select {
		case <-ctx.Done():
			return
		case turn, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			if p.metrics != nil && turn.Duration > 0 {
				p.metrics.STTDuration.Record(ctx, turn.Duration.Seconds())
			}
			p.runTurn(ctx, out, opts, turn.InteractionID, turn.Text, SourceVoice)
		case text, ok := <-textTurns:
			if !ok {
				textTurns = nil
				continue
			}
			textSeq++
			p.runTurn(ctx, out, opts, fmt.Sprintf("%s#%d", textBase, textSeq), text, SourceText)
		}
	}
}

// runTurn generates one assistant response: prompt build, LLM stream fan-out
// to the content channel, sentence-level forwarding into streaming TTS.
func (p *Pipeline) runTurn(ctx context.Context, out chan Output, opts Options, interactionID, userText, source string) {
	sess := opts.Session

	// Snapshot history before announcing the turn: the consumer appends the
	// user message to history when it sees the turn-complete signal, and the
	// prompt builder adds the user text itself.
	history := sess.History()

	p.emit(ctx, out, Output{
		Kind:                KindTurnComplete,
		InteractionID:       interactionID,
		Text:                userText,
		InteractionComplete: true,
		Source:              source,
	})

	req := p.prompts.Build(ctx, prompt.Input{
		UserID:       opts.UserID,
		LanguageCode: sess.LanguageCode(),
		LanguageName: sess.LanguageName(),
		UserText:     userText,
		History:      history,
		UserContext:  sess.UserContext(),
	})

	llmStart := time.Now()
	chunks, err := p.llmP.StreamCompletion(ctx, req)
	if err != nil {
		p.emit(ctx, out, Output{
			Kind:          KindError,
			InteractionID: interactionID,
			Err:           fmt.Errorf("graph: llm stream: %w", err),
		})
		return
	}

	content := make(chan string, contentBuf)
	p.emit(ctx, out, Output{Kind: KindContentStream, InteractionID: interactionID, Content: content})
	defer close(content)

	feed := newTTSFeed(ctx, p.startTTS(ctx, out, opts, interactionID))
	defer feed.close()

	p.forward(ctx, out, interactionID, llmStart, chunks, content, feed)
}

// startTTS opens the streaming synthesis for a turn and emits its audio
// stream output. Returns the text channel feeding synthesis, or nil when TTS
// could not start and the turn proceeds text-only.
func (p *Pipeline) startTTS(ctx context.Context, out chan Output, opts Options, interactionID string) chan string {
	textCh := make(chan string, ttsTextBuf)
	audioCh, err := p.ttsP.SynthesizeStream(ctx, textCh, opts.Session.Voice())
	if err != nil {
		p.log.Error("tts start failed, continuing text-only",
			"session_id", opts.SessionID, "interaction_id", interactionID, "err", err)
		p.emit(ctx, out, Output{
			Kind:          KindError,
			InteractionID: interactionID,
			Err:           fmt.Errorf("graph: tts start: %w", err),
		})
		// An empty audio stream still flows so the consumer runs its
		// end-of-turn path and the turn completes text-only.
		empty := make(chan []byte)
		close(empty)
		p.emit(ctx, out, Output{Kind: KindAudioStream, InteractionID: interactionID, Audio: empty})
		return nil
	}

	// Relay through a deep buffer so TTS production is never backpressured
	// by the consumer's content-before-audio drain order.
	relay := make(chan []byte, audioRelayBuf)
	p.emit(ctx, out, Output{Kind: KindAudioStream, InteractionID: interactionID, Audio: relay})
	go func() {
		defer close(relay)
		var firstChunkAt time.Time
		for chunk := range audioCh {
			if firstChunkAt.IsZero() {
				firstChunkAt = time.Now()
			}
			select {
			case relay <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if p.metrics != nil && !firstChunkAt.IsZero() {
			p.metrics.TTSDuration.Record(ctx, time.Since(firstChunkAt).Seconds())
		}
	}()
	return textCh
}

// forward consumes the LLM stream, fanning each chunk out to the content
// channel and queueing complete sentences on the TTS feed.
func (p *Pipeline) forward(ctx context.Context, out chan Output, interactionID string, llmStart time.Time, chunks <-chan llm.Chunk, content chan string, feed *ttsFeed) {
	var buf []byte
	firstToken := true
	flushSentences := func(final bool) {
		for {
			idx := firstSentenceBoundary(string(buf))
			if idx < 0 {
				break
			}
			feed.send(string(buf[:idx+1]))
			buf = trimLeftSpace(buf[idx+1:])
		}
		if final && len(buf) > 0 {
			feed.send(string(buf))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-chunks:
			if !ok {
				flushSentences(true)
				return
			}
			if chunk.FinishReason == "error" {
				p.emit(ctx, out, Output{
					Kind:          KindError,
					InteractionID: interactionID,
					Err:           fmt.Errorf("graph: llm stream failed: %s", chunk.Text),
				})
				go drainChunks(chunks)
				return
			}
			if chunk.Text != "" {
				if firstToken {
					firstToken = false
					if p.metrics != nil {
						p.metrics.LLMFirstToken.Record(ctx, time.Since(llmStart).Seconds())
					}
				}
				select {
				case content <- chunk.Text:
				case <-ctx.Done():
					return
				}
				buf = append(buf, chunk.Text...)
				flushSentences(false)
			}
			if chunk.FinishReason != "" {
				flushSentences(true)
				return
			}
		}
	}
}

func (p *Pipeline) emit(ctx context.Context, out chan Output, o Output) {
	select {
	case out <- o:
	case <-ctx.Done():
	}
}

// ttsFeed queues sentences for synthesis without ever backpressuring the
// producer. The content relay must keep flowing even when synthesized audio
// piles up behind a consumer that drains content before audio, so send never
// blocks; a dedicated goroutine drains the queue into the TTS text channel at
// whatever pace synthesis accepts.
type ttsFeed struct {
	mu     sync.Mutex
	queue  []string
	closed bool
	wake   chan struct{}
}

// newTTSFeed starts the feed goroutine owning ch; the goroutine closes ch
// once the queue drains after close, or on ctx cancellation. A nil ch yields
// a nil feed whose methods no-op, which is the text-only turn path.
func newTTSFeed(ctx context.Context, ch chan string) *ttsFeed {
	if ch == nil {
		return nil
	}
	f := &ttsFeed{wake: make(chan struct{}, 1)}
	go f.run(ctx, ch)
	return f
}

// send queues one sentence. Never blocks.
func (f *ttsFeed) send(s string) {
	if f == nil {
		return
	}
	f.mu.Lock()
	if !f.closed {
		f.queue = append(f.queue, s)
	}
	f.mu.Unlock()
	f.signal()
}

// close marks the feed finished; queued sentences still flow to synthesis
// before the text channel closes.
func (f *ttsFeed) close() {
	if f == nil {
		return
	}
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.signal()
}

func (f *ttsFeed) signal() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *ttsFeed) run(ctx context.Context, ch chan string) {
	defer close(ch)
	for {
		f.mu.Lock()
		var next string
		have := len(f.queue) > 0
		if have {
			next = f.queue[0]
			f.queue = f.queue[1:]
		}
		done := f.closed
		f.mu.Unlock()

		if have {
			select {
			case ch <- next:
			case <-ctx.Done():
				return
			}
			continue
		}
		if done {
			return
		}
		select {
		case <-f.wake:
		case <-ctx.Done():
			return
		}
	}
}

// firstSentenceBoundary returns the index of the first '.', '!', or '?'
// immediately followed by whitespace, or -1.
func firstSentenceBoundary(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}

func trimLeftSpace(b []byte) []byte {
	for len(b) > 0 {
		switch b[0] {
		case ' ', '\t', '\n', '\r':
			b = b[1:]
		default:
			return b
		}
	}
	return b
}

// drainChunks discards the remainder of a failed LLM stream so the provider's
// goroutine can exit.
func drainChunks(ch <-chan llm.Chunk) {
	for range ch {
	}
}
