// Package graph defines the processing-graph contract between the turn
// coordinator and the conversation pipeline.
//
// An Executor consumes a session's multiplexed input stream and emits a flat
// sequence of Output events: transcripts, per-turn content and audio streams,
// and errors. The coordinator is the single consumer and interprets the
// events; the executor never talks to the client directly.
package graph

import (
	"context"

	"github.com/voxlingo/voxlingo/internal/stream"
	"github.com/voxlingo/voxlingo/pkg/types"
)

// OutputKind discriminates Output events.
type OutputKind int

const (
	// KindTranscript is an interim transcript. The first one of a turn doubles
	// as the speech-detected signal.
	KindTranscript OutputKind = iota

	// KindTurnComplete is the structured turn-complete signal: final
	// transcript text plus its interaction id. Marks the start of response
	// generation for that turn.
	KindTurnComplete

	// KindContentStream carries the channel of LLM text chunks for the turn.
	KindContentStream

	// KindAudioStream carries the channel of synthesized audio for the turn.
	KindAudioStream

	// KindError reports a failure inside the graph. The execution keeps
	// running unless the output channel closes.
	KindError
)

// Turn input modalities reported in Output.Source.
const (
	SourceVoice = "voice"
	SourceText  = "text"
)

// Output is one event emitted by a graph execution. Exactly the fields
// relevant to Kind are set; consumers must switch exhaustively on Kind and
// ignore kinds they do not recognise.
//
// Content and Audio channels must be drained by the consumer even when the
// turn is interrupted; the producer closes them when the turn's generation
// finishes.
type Output struct {
	Kind OutputKind

	// InteractionID correlates all events of one turn. Set for every kind
	// except standalone errors.
	InteractionID string

	// Text is the transcript text for KindTranscript and KindTurnComplete.
	Text string

	// InteractionComplete is true on the final turn-complete signal for an
	// interaction. Consumers relay only complete signals to the client.
	InteractionComplete bool

	// Source is "voice" or "text" on KindTurnComplete, naming the input
	// modality of the turn.
	Source string

	// Content streams LLM text chunks for KindContentStream.
	Content <-chan string

	// Audio streams synthesized audio chunks for KindAudioStream.
	Audio <-chan []byte

	// Err is set for KindError.
	Err error
}

// SessionView is the read-only window onto session state that the pipeline
// needs when generating a turn. Implemented by the coordinator's session.
type SessionView interface {
	// History returns a snapshot of the conversation so far, oldest first.
	History() []types.Message

	// LanguageCode and LanguageName identify the session's active language.
	LanguageCode() string
	LanguageName() string

	// Voice is the active TTS voice.
	Voice() types.VoiceProfile

	// UserContext returns the latest free-form context from the client, or "".
	UserContext() string
}

// Options parameterises one graph execution.
type Options struct {
	// SessionID identifies the owning session, for logging and metrics.
	SessionID string

	// UserID scopes memory retrieval.
	UserID string

	// Session exposes live session state. Required.
	Session SessionView

	// OnSpeech, when set, is invoked from the execution's own goroutine for
	// every interim transcript instead of emitting KindTranscript outputs.
	// This lets the consumer observe speech while it is busy draining a
	// content or audio stream, which is how barge-in is detected.
	OnSpeech func(text string)
}

// Executor runs the processing graph against a session's input stream.
type Executor interface {
	// Execute starts consuming mux and returns the execution's output channel.
	// The channel is closed when the input stream ends or the execution fails
	// terminally. The returned error is non-nil only when the execution could
	// not start.
	Execute(ctx context.Context, mux *stream.Multiplexer, opts Options) (<-chan Output, error)
}
