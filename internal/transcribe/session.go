// Package transcribe adapts a streaming STT provider to the conversation
// pipeline. One Adapter per session owns a single provider connection,
// opened lazily on the first audio chunk and replaced transparently when the
// provider announces expiry or the session goes idle.
//
// The adapter also guards the pipeline against provider misbehavior: final
// transcripts that double-fire within the debounce window, stale finals that
// repeat the previous turn, and turns that never resolve within the
// max-duration ceiling.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxlingo/voxlingo/pkg/audio"
	"github.com/voxlingo/voxlingo/pkg/provider/stt"
)

// Sentinel errors returned by SendAudio.
var (
	// ErrAdapterClosed is returned once Close has been called.
	ErrAdapterClosed = errors.New("transcribe: adapter closed")

	// ErrTurnExhausted is returned when audio has flowed for longer than the
	// max turn duration without the provider committing a final transcript.
	// The in-flight turn is abandoned and the connection torn down; the next
	// audio chunk reconnects with a fresh session.
	ErrTurnExhausted = errors.New("transcribe: turn exceeded max duration")
)

// expiryMargin is how long before the provider's announced session expiry
// the adapter proactively reconnects.
const expiryMargin = 10 * time.Second

// Turn is one accepted final transcript, correlated to its downstream
// LLM/TTS outputs by InteractionID.
type Turn struct {
	// InteractionID is "<base>#<iteration>"; the base is stable for the
	// lifetime of the adapter and the iteration increments per turn, so
	// reconnects continue the same logical conversation without id clashes.
	InteractionID string
	Text          string

	// Duration is the time from the turn's first audio frame to this final.
	// Zero when no audio was seen before the final arrived.
	Duration time.Duration
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithDebounce sets the window within which a final transcript following a
// previously accepted final is rejected as a provider double-fire. Finals
// carrying materially different text backed by fresh partial speech are
// accepted regardless of the window.
func WithDebounce(d time.Duration) Option {
	return func(a *Adapter) { a.debounce = d }
}

// WithMaxTurnDuration sets the ceiling after which an unresolved turn is
// abandoned.
func WithMaxTurnDuration(d time.Duration) Option {
	return func(a *Adapter) { a.maxTurn = d }
}

// WithIdleTimeout sets how long the provider connection may sit without
// audio before it is closed and lazily reopened.
func WithIdleTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.idleTimeout = d }
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) { a.log = l }
}

// Adapter owns one session's STT connection and emits partial and final
// transcripts on its output channels. Safe for concurrent use, though the
// expected shape is a single audio producer and a single consumer per
// channel.
type Adapter struct {
	provider stt.Provider
	log      *slog.Logger

	debounce    time.Duration
	maxTurn     time.Duration
	idleTimeout time.Duration

	baseID string

	partials chan string
	finals   chan Turn
	done     chan struct{}
	pumps    sync.WaitGroup

	mu          sync.Mutex
	cfg         stt.StreamConfig
	handle      stt.SessionHandle
	closed      bool
	iteration   int
	lastAudioAt time.Time

	// Turn tracking, guarded by mu and mutated by the pump goroutine.
	turnStart     time.Time
	lastFinalAt   time.Time
	lastFinalNorm string
	sawPartial    bool
}

// New creates an Adapter over p. No connection is opened until the first
// call to SendAudio.
func New(p stt.Provider, cfg stt.StreamConfig, opts ...Option) *Adapter {
	a := &Adapter{
		provider:    p,
		cfg:         cfg,
		log:         slog.Default(),
		debounce:    500 * time.Millisecond,
		maxTurn:     40 * time.Second,
		idleTimeout: 2 * time.Minute,
		baseID:      uuid.NewString(),
		partials:    make(chan string, 16),
		finals:      make(chan Turn, 4),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Partials emits interim transcript text as the provider produces it. The
// first partial of a turn doubles as the speech-detected signal. Closed by
// Close.
func (a *Adapter) Partials() <-chan string { return a.partials }

// Finals emits accepted turns after debounce and duplicate suppression.
// Closed by Close.
func (a *Adapter) Finals() <-chan Turn { return a.finals }

// SetLanguage switches the recognition language. The current connection, if
// any, is torn down; the next audio chunk reconnects with the new language.
func (a *Adapter) SetLanguage(code string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cfg.Language == code {
		return
	}
	a.cfg.Language = code
	a.dropHandleLocked()
}

// SendAudio forwards a chunk of normalized mono samples to the provider,
// connecting or reconnecting first as needed.
//
// Returns ErrTurnExhausted when the current turn has exceeded the max
// duration without a final transcript; the caller should treat the turn as
// lost and keep feeding audio, which transparently opens a fresh connection.
func (a *Adapter) SendAudio(ctx context.Context, samples []float32) error {
	h, err := a.ensureHandle(ctx)
	if err != nil {
		return err
	}
	return h.SendAudio(audio.Float32ToInt16Bytes(samples))
}

// ensureHandle returns a live session handle, reconnecting when the current
// one is expired, idle, or was dropped. It also enforces the turn ceiling.
func (a *Adapter) ensureHandle(ctx context.Context) (stt.SessionHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, ErrAdapterClosed
	}

	now := time.Now()
	if !a.turnStart.IsZero() && a.maxTurn > 0 && now.Sub(a.turnStart) > a.maxTurn {
		a.log.Warn("transcription turn exceeded ceiling, abandoning",
			"interaction_base", a.baseID, "elapsed", now.Sub(a.turnStart))
		a.turnStart = time.Time{}
		a.sawPartial = false
		a.dropHandleLocked()
		a.lastAudioAt = now
		return nil, ErrTurnExhausted
	}

	if a.handle != nil {
		exp := a.handle.ExpiresAt()
		switch {
		case !exp.IsZero() && now.After(exp.Add(-expiryMargin)):
			a.log.Debug("stt session near expiry, reconnecting", "expires_at", exp)
			a.dropHandleLocked()
		case a.idleTimeout > 0 && !a.lastAudioAt.IsZero() && now.Sub(a.lastAudioAt) > a.idleTimeout:
			a.log.Debug("stt session idle, reconnecting", "idle", now.Sub(a.lastAudioAt))
			a.dropHandleLocked()
		}
	}
	a.lastAudioAt = now

	if a.handle == nil {
		h, err := a.provider.StartStream(ctx, a.cfg)
		if err != nil {
			return nil, fmt.Errorf("transcribe: start stream: %w", err)
		}
		a.handle = h
		a.pumps.Add(1)
		go func() {
			defer a.pumps.Done()
			a.pump(h)
		}()
	}
	return a.handle, nil
}

// dropHandleLocked closes the current handle, if any. Caller holds a.mu.
func (a *Adapter) dropHandleLocked() {
	if a.handle == nil {
		return
	}
	if err := a.handle.Close(); err != nil {
		a.log.Debug("closing stt session", "err", err)
	}
	a.handle = nil
}

// pump drains one session handle's transcript channels until both close.
// Each handle gets its own pump; stale pumps exit when their handle is
// closed during reconnect.
func (a *Adapter) pump(h stt.SessionHandle) {
	partials, finals := h.Partials(), h.Finals()
	for partials != nil || finals != nil {
		select {
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			a.onPartial(t.Text)
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			a.onFinal(t.Text)
		}
	}
}

func (a *Adapter) onPartial(text string) {
	if text == "" {
		return
	}
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.sawPartial = true
	if a.turnStart.IsZero() {
		a.turnStart = time.Now()
	}
	a.mu.Unlock()

	// Partials are advisory; drop rather than block a slow consumer.
	select {
	case a.partials <- text:
	default:
	}
}

func (a *Adapter) onFinal(text string) {
	if text == "" {
		return
	}
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}

	now := time.Now()
	norm := Normalize(text)
	if a.debounce > 0 && !a.lastFinalAt.IsZero() && now.Sub(a.lastFinalAt) < a.debounce {
		// Inside the window only double-fires are rejected: re-emissions with
		// no fresh partial speech, or duplicates of the accepted text. A
		// materially different final backed by new partials is real speech
		// and passes no matter how soon it lands.
		if !a.sawPartial || isDuplicate(a.lastFinalNorm, norm) {
			a.log.Debug("final transcript debounced", "text", text)
			a.mu.Unlock()
			return
		}
	}

	if !a.sawPartial && isDuplicate(a.lastFinalNorm, norm) {
		a.log.Debug("duplicate final transcript suppressed", "text", text)
		a.mu.Unlock()
		return
	}

	a.lastFinalAt = now
	a.lastFinalNorm = norm
	a.sawPartial = false
	var dur time.Duration
	if !a.turnStart.IsZero() {
		dur = now.Sub(a.turnStart)
	}
	a.turnStart = time.Time{}
	a.iteration++
	turn := Turn{
		InteractionID: fmt.Sprintf("%s#%d", a.baseID, a.iteration),
		Text:          text,
		Duration:      dur,
	}
	a.mu.Unlock()

	select {
	case a.finals <- turn:
	case <-a.done:
	}
}

// Close tears down the provider connection and closes the output channels.
// Idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.dropHandleLocked()
	a.mu.Unlock()

	close(a.done)
	a.pumps.Wait()
	close(a.partials)
	close(a.finals)
	return nil
}
