// Package mock provides a scriptable graph.Executor for coordinator tests.
package mock

import (
	"context"
	"sync"

	"github.com/voxlingo/voxlingo/internal/graph"
	"github.com/voxlingo/voxlingo/internal/stream"
)

// Execution represents one Execute call. Tests drive the coordinator by
// emitting outputs on it and closing it when the scripted run ends.
type Execution struct {
	// Out is the channel handed to the caller of Execute.
	Out chan graph.Output

	// Mux and Opts are the arguments Execute was called with.
	Mux  *stream.Multiplexer
	Opts graph.Options

	closeOnce sync.Once
}

// Emit delivers one output to the consumer. Blocks until consumed or the
// buffer accepts it.
func (e *Execution) Emit(o graph.Output) { e.Out <- o }

// EmitTranscript emits a partial transcript event.
func (e *Execution) EmitTranscript(text string) {
	e.Emit(graph.Output{Kind: graph.KindTranscript, Text: text})
}

// EmitTurnComplete emits a final turn-complete signal for a voice turn.
func (e *Execution) EmitTurnComplete(interactionID, text string) {
	e.Emit(graph.Output{
		Kind:                graph.KindTurnComplete,
		InteractionID:       interactionID,
		Text:                text,
		InteractionComplete: true,
		Source:              graph.SourceVoice,
	})
}

// NewContentStream emits a content-stream output and returns the channel the
// test feeds. The test must close it to end the stream.
func (e *Execution) NewContentStream(interactionID string) chan string {
	ch := make(chan string, 16)
	e.Emit(graph.Output{Kind: graph.KindContentStream, InteractionID: interactionID, Content: ch})
	return ch
}

// NewAudioStream emits an audio-stream output and returns the channel the
// test feeds. The test must close it to end the stream.
func (e *Execution) NewAudioStream(interactionID string) chan []byte {
	ch := make(chan []byte, 16)
	e.Emit(graph.Output{Kind: graph.KindAudioStream, InteractionID: interactionID, Audio: ch})
	return ch
}

// EmitError emits an error event.
func (e *Execution) EmitError(err error) {
	e.Emit(graph.Output{Kind: graph.KindError, Err: err})
}

// Close ends the execution by closing its output channel. Idempotent.
func (e *Execution) Close() {
	e.closeOnce.Do(func() { close(e.Out) })
}

// Executor is a scriptable graph.Executor. Each Execute call hands out a new
// Execution that the test controls.
type Executor struct {
	// ExecuteErr, when non-nil, is returned by every Execute call.
	ExecuteErr error

	mu         sync.Mutex
	executions []*Execution
	started    chan *Execution
}

// Compile-time interface check.
var _ graph.Executor = (*Executor)(nil)

// NewExecutor creates an Executor whose Started channel has room for n
// executions.
func NewExecutor(n int) *Executor {
	return &Executor{started: make(chan *Execution, n)}
}

// Execute records the call and returns a fresh scripted execution.
func (x *Executor) Execute(_ context.Context, mux *stream.Multiplexer, opts graph.Options) (<-chan graph.Output, error) {
	if x.ExecuteErr != nil {
		return nil, x.ExecuteErr
	}
	e := &Execution{
		Out:  make(chan graph.Output, 16),
		Mux:  mux,
		Opts: opts,
	}
	x.mu.Lock()
	x.executions = append(x.executions, e)
	x.mu.Unlock()
	select {
	case x.started <- e:
	default:
	}
	return e.Out, nil
}

// Started returns a channel that receives each new Execution as Execute is
// called. Lets tests wait for (re)starts without polling.
func (x *Executor) Started() <-chan *Execution { return x.started }

// Executions returns all executions started so far, oldest first.
func (x *Executor) Executions() []*Execution {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]*Execution, len(x.executions))
	copy(out, x.executions)
	return out
}
