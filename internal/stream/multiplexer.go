// Package stream provides the per-session input multiplexer that merges the
// client's audio frames and typed text into one ordered stream consumed by
// the conversation pipeline.
//
// The multiplexer decouples the WebSocket read loop from pipeline
// consumption: pushes never block, so a slow pipeline can never stall the
// network reader. Backpressure is bounded — when the buffer fills, the
// session is considered unrecoverable and pushes fail with
// [ErrStreamOverflow].
package stream

import (
	"context"
	"errors"
	"sync"
)

// Push/Next error conditions.
var (
	// ErrStreamEnded is returned by Push after End has been called, and by
	// Next once the buffer has drained after End.
	ErrStreamEnded = errors.New("stream: ended")

	// ErrStreamOverflow is returned by Push when the bounded buffer is full.
	// The caller should terminate the session; the multiplexer accepts no
	// further input.
	ErrStreamOverflow = errors.New("stream: buffer overflow")
)

// FrameKind discriminates the payload of a Frame.
type FrameKind int

const (
	// KindAudio carries a chunk of normalized mono PCM samples.
	KindAudio FrameKind = iota

	// KindText carries a typed chat message from the client.
	KindText
)

// Frame is one unit of client input. Exactly one payload field is set,
// according to Kind.
type Frame struct {
	Kind  FrameKind
	Audio []float32
	Text  string
}

// Multiplexer is a bounded MPSC queue of Frames with a single blocking
// consumer. Producers call Push from the WebSocket read loop; the pipeline
// goroutine calls Next.
//
// Safe for concurrent use by multiple producers and one consumer.
type Multiplexer struct {
	mu     sync.Mutex
	buf    []Frame
	limit  int
	ended  bool
	failed bool

	// waiter is non-nil while a consumer is parked in Next with an empty
	// buffer. A producer hands the frame over directly instead of queueing.
	waiter chan Frame
}

// NewMultiplexer creates a Multiplexer holding at most limit frames.
// A non-positive limit panics; a session without backpressure bounds is a
// programming error.
func NewMultiplexer(limit int) *Multiplexer {
	if limit <= 0 {
		panic("stream: multiplexer limit must be positive")
	}
	return &Multiplexer{limit: limit}
}

// Push appends a frame to the stream. It never blocks.
//
// Returns ErrStreamEnded after End, and ErrStreamOverflow when the buffer is
// full. After an overflow the multiplexer is poisoned: every subsequent Push
// and Next fails, since dropping arbitrary frames mid-conversation would
// desynchronise the transcript.
func (m *Multiplexer) Push(f Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failed {
		return ErrStreamOverflow
	}
	if m.ended {
		return ErrStreamEnded
	}

	// Direct handoff to a parked consumer.
	if m.waiter != nil {
		w := m.waiter
		m.waiter = nil
		w <- f
		return nil
	}

	if len(m.buf) >= m.limit {
		m.failed = true
		m.wakeWaiter()
		return ErrStreamOverflow
	}
	m.buf = append(m.buf, f)
	return nil
}

// PushAudio appends a chunk of normalized PCM samples to the stream.
func (m *Multiplexer) PushAudio(samples []float32) error {
	return m.Push(Frame{Kind: KindAudio, Audio: samples})
}

// PushText appends a typed chat message to the stream.
func (m *Multiplexer) PushText(text string) error {
	return m.Push(Frame{Kind: KindText, Text: text})
}

// Next returns the oldest frame, blocking until one is available, the stream
// ends, or ctx is cancelled.
//
// After End, Next keeps returning buffered frames until the buffer drains,
// then returns ErrStreamEnded. After an overflow it returns
// ErrStreamOverflow immediately.
func (m *Multiplexer) Next(ctx context.Context) (Frame, error) {
	m.mu.Lock()

	if m.failed {
		m.mu.Unlock()
		return Frame{}, ErrStreamOverflow
	}
	if len(m.buf) > 0 {
		f := m.buf[0]
		m.buf = m.buf[1:]
		m.mu.Unlock()
		return f, nil
	}
	if m.ended {
		m.mu.Unlock()
		return Frame{}, ErrStreamEnded
	}

	// Single-consumer contract: a second concurrent Next is a bug.
	if m.waiter != nil {
		m.mu.Unlock()
		return Frame{}, errors.New("stream: concurrent Next calls")
	}
	w := make(chan Frame, 1)
	m.waiter = w
	m.mu.Unlock()

	select {
	case f, ok := <-w:
		if !ok {
			// Woken by End or overflow.
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.failed {
				return Frame{}, ErrStreamOverflow
			}
			return Frame{}, ErrStreamEnded
		}
		return f, nil
	case <-ctx.Done():
		m.mu.Lock()
		if m.waiter == w {
			m.waiter = nil
		}
		m.mu.Unlock()
		// A producer may have handed off concurrently with cancellation;
		// prefer delivering the frame over losing it.
		select {
		case f, ok := <-w:
			if ok {
				return f, nil
			}
		default:
		}
		return Frame{}, ctx.Err()
	}
}

// End marks the stream complete. Buffered frames remain readable; once they
// drain, Next returns ErrStreamEnded. End is idempotent.
func (m *Multiplexer) End() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended {
		return
	}
	m.ended = true
	m.wakeWaiter()
}

// Len reports the number of buffered frames.
func (m *Multiplexer) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buf)
}

// wakeWaiter releases a parked consumer, if any. Caller holds m.mu.
func (m *Multiplexer) wakeWaiter() {
	if m.waiter != nil {
		close(m.waiter)
		m.waiter = nil
	}
}
