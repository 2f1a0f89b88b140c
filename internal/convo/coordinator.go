package convo

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxlingo/voxlingo/internal/config"
	"github.com/voxlingo/voxlingo/internal/enrich"
	"github.com/voxlingo/voxlingo/internal/graph"
	"github.com/voxlingo/voxlingo/internal/observe"
	"github.com/voxlingo/voxlingo/internal/protocol"
	"github.com/voxlingo/voxlingo/internal/stream"
	"github.com/voxlingo/voxlingo/pkg/audio"
)

// Sender delivers outbound messages to the session's client. Implementations
// must be safe for concurrent use: the coordinator's output loop, the
// speech-detection callback, and enrichment goroutines all send.
type Sender interface {
	Send(ctx context.Context, msg any) error
}

// Enrichers bundles the post-turn enrichment processors. Any field may be
// nil, which disables that enrichment.
type Enrichers struct {
	Flashcards *enrich.FlashcardProcessor
	Feedback   *enrich.FeedbackProcessor
	Memory     *enrich.MemoryProcessor
	Supervisor *enrich.Supervisor
}

// benignErrors are graph error messages absorbed without telling the client.
var benignErrors = []string{
	"no speech recognized",
	"recognition produced no text",
}

// Coordinator drives one session's graph execution: it translates graph
// outputs into client messages, detects barge-in, manages the interruption
// state machine, and applies the auto-restart policy when an execution ends
// unexpectedly.
type Coordinator struct {
	session  *Session
	exec     graph.Executor
	sender   Sender
	catalog  *config.Catalog
	registry *Registry
	enrich   Enrichers
	cfg      config.SessionConfig
	metrics  *observe.Metrics
	log      *slog.Logger

	mu        sync.Mutex
	started   bool
	destroyed bool
	cancel    context.CancelFunc
	runCtx    context.Context
	done      chan struct{}

	// turnStartedAt and turnSource describe the in-flight turn. Only touched
	// from the consume goroutine.
	turnStartedAt time.Time
	turnSource    string

	// speechActive is true from the first partial of an utterance until the
	// next final transcript; it gates the one-shot speech_detected signal.
	speechActive atomic.Bool
}

// NewCoordinator wires a coordinator for sess. The registry and metrics may
// be nil in tests; Destroy then skips deregistration and no metrics are
// recorded.
func NewCoordinator(sess *Session, exec graph.Executor, sender Sender, catalog *config.Catalog, registry *Registry, enrichers Enrichers, cfg config.SessionConfig, metrics *observe.Metrics, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		session:  sess,
		exec:     exec,
		sender:   sender,
		catalog:  catalog,
		registry: registry,
		enrich:   enrichers,
		cfg:      cfg,
		metrics:  metrics,
		log:      log.With("session_id", sess.ID),
		done:     make(chan struct{}),
	}
}

// Start begins graph execution in the background and opens the introduction
// flow. Calling Start twice is an error in the caller; the second call is
// ignored.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started || c.destroyed {
		c.mu.Unlock()
		return
	}
	c.started = true
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.runCtx = runCtx
	c.cancel = cancel
	c.mu.Unlock()

	if state := c.session.AdvanceIntro(); state != "" {
		c.sendMsg(runCtx, protocol.IntroductionStateUpdated{
			Type:  protocol.TypeIntroductionStateUpdated,
			State: state,
		})
	}

	go c.run(runCtx)
}

// Done is closed when the coordinator's run loop has exited.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// run owns the execute/consume/restart cycle.
func (c *Coordinator) run(ctx context.Context) {
	defer close(c.done)

	attempts := 0
	for {
		opts := graph.Options{
			SessionID: c.session.ID,
			UserID:    c.session.UserID(),
			Session:   c.session,
			OnSpeech:  c.onSpeech,
		}

		startedAt := time.Now()
		out, err := c.exec.Execute(ctx, c.session.Mux(), opts)
		if err != nil {
			c.log.Error("graph execution failed to start", "err", err)
		} else {
			c.consume(ctx, out)
			if time.Since(startedAt) >= c.cfg.RestartStableAfter {
				attempts = 0
			}
		}

		if c.isDestroyed() || ctx.Err() != nil {
			return
		}

		attempts++
		if attempts > c.cfg.RestartMaxAttempts {
			c.log.Error("graph restart attempts exhausted", "attempts", attempts-1)
			if c.metrics != nil {
				c.metrics.RecordGraphRestart(ctx, "exhausted")
			}
			c.sendMsg(ctx, protocol.Error{
				Type:    protocol.TypeError,
				Message: "The conversation engine could not be restarted. Please reconnect.",
				Code:    protocol.ErrCodeGraphRestartFailed,
			})
			return
		}

		c.log.Warn("graph execution ended unexpectedly, restarting", "attempt", attempts)
		select {
		case <-time.After(c.cfg.RestartCooldown):
		case <-ctx.Done():
			return
		}
		if c.isDestroyed() {
			return
		}

		// The completed execution's multiplexer is terminal; rewire a fresh
		// one before restarting.
		c.session.ReplaceMux(stream.NewMultiplexer(c.cfg.StreamBuffer))
		if c.metrics != nil {
			c.metrics.RecordGraphRestart(ctx, "recovered")
		}
		c.sendMsg(ctx, protocol.ConnectionRecovered{Type: protocol.TypeConnectionRecovered})
	}
}

// consume interprets one execution's outputs until its channel closes.
func (c *Coordinator) consume(ctx context.Context, out <-chan graph.Output) {
	for o := range out {
		if c.isDestroyed() {
			// Keep draining so the producer can unwind, but stop acting.
			continue
		}
		switch o.Kind {
		case graph.KindTranscript:
			// Only reached when OnSpeech was not used by the executor.
			c.onSpeech(o.Text)
		case graph.KindTurnComplete:
			if !o.InteractionComplete {
				continue
			}
			c.speechActive.Store(false)
			c.turnStartedAt = time.Now()
			c.turnSource = o.Source
			recorded := c.session.BeginTurn(o.Text)
			c.sendMsg(ctx, protocol.Transcription{
				Type:          protocol.TypeTranscription,
				Text:          recorded,
				InteractionID: o.InteractionID,
			})
		case graph.KindContentStream:
			c.consumeContent(ctx, o)
		case graph.KindAudioStream:
			c.consumeAudio(ctx, o)
		case graph.KindError:
			if o.Err == nil || isBenign(o.Err.Error()) {
				continue
			}
			c.log.Error("graph error", "interaction_id", o.InteractionID, "err", o.Err)
			c.sendMsg(ctx, protocol.Error{
				Type:    protocol.TypeError,
				Message: "Something went wrong generating the response.",
			})
		default:
			// Unknown kinds are ignored.
		}
	}
}

// consumeContent relays LLM chunks until the stream ends or the turn is
// interrupted. Interruption stops forwarding at the next chunk boundary but
// the stream is still drained so the producer can finish.
func (c *Coordinator) consumeContent(ctx context.Context, o graph.Output) {
	var full strings.Builder
	forwarding := true
	for chunk := range o.Content {
		if forwarding && c.session.Interrupted() {
			forwarding = false
		}
		if !forwarding || chunk == "" {
			continue
		}
		full.WriteString(chunk)
		c.session.AccumulateResponse(chunk)
		c.sendMsg(ctx, protocol.LLMResponseChunk{
			Type:          protocol.TypeLLMResponseChunk,
			Text:          chunk,
			InteractionID: o.InteractionID,
		})
	}
	if forwarding && c.session.Interrupted() {
		forwarding = false
	}
	if forwarding && full.Len() > 0 {
		c.session.CompleteResponse(full.String())
		c.sendMsg(ctx, protocol.LLMResponseComplete{
			Type:          protocol.TypeLLMResponseComplete,
			Text:          full.String(),
			InteractionID: o.InteractionID,
		})
	}
}

// consumeAudio relays TTS audio until the stream ends, then finishes the
// turn. EndTurn runs even when interrupted so state cannot leak forward.
func (c *Coordinator) consumeAudio(ctx context.Context, o graph.Output) {
	first := true
	forwarding := true
	for chunk := range o.Audio {
		if forwarding && c.session.Interrupted() {
			forwarding = false
		}
		if !forwarding || len(chunk) == 0 {
			continue
		}
		samples := audio.Int16BytesToFloat32(chunk)
		c.sendMsg(ctx, protocol.AudioStream{
			Type:         protocol.TypeAudioStream,
			Audio:        audio.EncodeBase64(audio.Float32ToBytes(samples)),
			AudioFormat:  protocol.AudioFormatFloat32,
			SampleRate:   c.cfg.SampleRate,
			IsFirstChunk: first,
		})
		first = false
	}

	interrupted := c.session.Interrupted()
	c.session.EndTurn()
	if interrupted {
		return
	}

	if c.metrics != nil {
		c.metrics.RecordTurn(ctx, c.session.LanguageCode(), c.turnSource)
		if !c.turnStartedAt.IsZero() {
			c.metrics.TurnDuration.Record(ctx, time.Since(c.turnStartedAt).Seconds())
		}
	}

	c.sendMsg(ctx, protocol.AudioStreamComplete{Type: protocol.TypeAudioStreamComplete})
	c.sendMsg(ctx, protocol.ConversationUpdate{
		Type:     protocol.TypeConversationUpdate,
		Messages: c.session.History(),
	})
	if state := c.session.AdvanceIntro(); state != "" {
		c.sendMsg(ctx, protocol.IntroductionStateUpdated{
			Type:  protocol.TypeIntroductionStateUpdated,
			State: state,
		})
	}
	c.triggerEnrichment(ctx)
}

// onSpeech handles an interim transcript: barge-in detection while a
// response is in flight, speech_detected + stop-playback otherwise. Invoked
// from the executor's goroutine, concurrently with consume.
func (c *Coordinator) onSpeech(text string) {
	if c.isDestroyed() {
		return
	}
	ctx := c.runContext()

	if removed, ok := c.session.Interrupt(); ok {
		c.log.Debug("barge-in detected, interrupting response", "removed", removed)
		if c.metrics != nil {
			c.metrics.RecordBargeIn(ctx, c.session.LanguageCode())
		}
		c.sendMsg(ctx, protocol.ConversationRollback{
			Type:         protocol.TypeConversationRollback,
			RemovedCount: removed,
			Messages:     c.session.History(),
		})
		c.sendMsg(ctx, protocol.Interrupt{
			Type:   protocol.TypeInterrupt,
			Reason: protocol.ReasonContinuationDetected,
		})
	} else if !c.session.Processing() && c.speechActive.CompareAndSwap(false, true) {
		c.sendMsg(ctx, protocol.SpeechDetected{Type: protocol.TypeSpeechDetected})
		c.sendMsg(ctx, protocol.Interrupt{
			Type:   protocol.TypeInterrupt,
			Reason: protocol.ReasonSpeechStart,
		})
	}

	if text != "" {
		c.sendMsg(ctx, protocol.PartialTranscript{
			Type: protocol.TypePartialTranscript,
			Text: text,
		})
	}
}

// triggerEnrichment fires the three post-turn enrichment jobs. Each is
// independent and fire-and-forget; a failure in one never affects the
// others or the conversation.
func (c *Coordinator) triggerEnrichment(ctx context.Context) {
	sup := c.enrich.Supervisor
	if sup == nil {
		return
	}
	history := c.session.History()
	lastUser := c.session.LastUserText()

	if fc := c.enrich.Flashcards; fc != nil {
		sup.Go("flashcards", func() error {
			cards := fc.Generate(ctx, history)
			c.recordEnrichment(ctx, "flashcards", statusFor(len(cards) > 0, "empty"))
			if len(cards) > 0 {
				c.sendMsg(ctx, protocol.FlashcardsGenerated{
					Type:       protocol.TypeFlashcardsGenerated,
					Flashcards: cards,
				})
			}
			return nil
		})
	}

	if fb := c.enrich.Feedback; fb != nil {
		sup.Go("feedback", func() error {
			res := fb.Generate(ctx, history, lastUser)
			c.recordEnrichment(ctx, "feedback", statusFor(res != nil, "empty"))
			if res != nil {
				c.sendMsg(ctx, protocol.FeedbackGenerated{
					Type:        protocol.TypeFeedbackGenerated,
					Summary:     res.Summary,
					Corrections: res.Corrections,
				})
			}
			return nil
		})
	}

	if mp := c.enrich.Memory; mp != nil {
		mp.IncrementTurn()
		if mp.ShouldCreateMemory() {
			userID := c.session.UserID()
			sup.Go("memory", func() error {
				err := mp.CreateMemory(ctx, userID, history)
				c.recordEnrichment(ctx, "memory", statusFor(err == nil, "error"))
				return err
			})
		}
	}
}

func (c *Coordinator) recordEnrichment(ctx context.Context, job, status string) {
	if c.metrics != nil {
		c.metrics.RecordEnrichment(ctx, job, status)
	}
}

func statusFor(ok bool, otherwise string) string {
	if ok {
		return "ok"
	}
	return otherwise
}

// ─── Client-facing operations ───────────────────────────────────────────────

// AddAudioChunk decodes a base64 PCM16 frame and pushes it into the
// multiplexer. Never blocks; failures are logged, and a buffer overflow
// destroys the session since its input stream is no longer coherent.
func (c *Coordinator) AddAudioChunk(data string) {
	pcm, err := audio.DecodeBase64(data)
	if err != nil {
		c.log.Warn("discarding undecodable audio chunk", "err", err)
		return
	}
	samples := audio.Int16BytesToFloat32(pcm)
	if err := c.session.Mux().PushAudio(samples); err != nil {
		if err == stream.ErrStreamOverflow {
			c.log.Error("input stream overflow, destroying session")
			c.Destroy()
			return
		}
		c.log.Debug("audio push rejected", "err", err)
	}
}

// SendTextMessage pushes a typed message into the same pipeline as voice.
func (c *Coordinator) SendTextMessage(text string) {
	if err := c.session.Mux().PushText(text); err != nil {
		c.log.Debug("text push rejected", "err", err)
	}
}

// SetLanguage switches the session's practice language. An empty code
// resolves to the default language; an unsupported code leaves the session
// unchanged and returns the resolution error (no language_changed is sent).
func (c *Coordinator) SetLanguage(code string) error {
	lang, err := c.catalog.Resolve(code)
	if err != nil {
		return err
	}
	c.session.SetLanguage(lang)

	if fc := c.enrich.Flashcards; fc != nil {
		fc.SetLanguage(lang.Name)
	}
	if fb := c.enrich.Feedback; fb != nil {
		fb.SetLanguage(lang.Name)
	}
	if mp := c.enrich.Memory; mp != nil {
		mp.SetLanguage(lang.Code)
	}

	c.sendMsg(c.runContext(), protocol.LanguageChanged{
		Type:         protocol.TypeLanguageChanged,
		LanguageCode: lang.Code,
		Greeting:     lang.Greeting,
	})
	return nil
}

// SetUserContext records learner identity and locale; an embedded language
// code is applied best-effort.
func (c *Coordinator) SetUserContext(userID, timezone, languageCode string) {
	c.session.SetUserContext(userID, timezone, "")
	if languageCode != "" {
		if err := c.SetLanguage(languageCode); err != nil {
			c.log.Warn("user_context language ignored", "language", languageCode, "err", err)
		}
	}
}

// ResetFlashcards clears flashcard accumulation state.
func (c *Coordinator) ResetFlashcards() {
	if fc := c.enrich.Flashcards; fc != nil {
		fc.Reset()
	}
}

// ResetConversation wipes history and enrichment counters and tells the
// client the slate is clean.
func (c *Coordinator) ResetConversation() {
	c.session.ResetConversation()
	if mp := c.enrich.Memory; mp != nil {
		mp.Reset()
	}
	c.sendMsg(c.runContext(), protocol.ConversationUpdate{
		Type:     protocol.TypeConversationUpdate,
		Messages: c.session.History(),
	})
}

// Destroy tears the session down: ends the input stream, cancels the run
// loop, and removes the session from the registry. Idempotent.
func (c *Coordinator) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	cancel := c.cancel
	c.mu.Unlock()

	c.session.Mux().End()
	if cancel != nil {
		cancel()
	}
	if c.registry != nil {
		c.registry.Delete(c.session.ID)
	}
}

// Session exposes the coordinator's session, mainly for the server and
// tests.
func (c *Coordinator) Session() *Session { return c.session }

func (c *Coordinator) isDestroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

func (c *Coordinator) runContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runCtx != nil {
		return c.runCtx
	}
	return context.Background()
}

func (c *Coordinator) sendMsg(ctx context.Context, msg any) {
	if err := c.sender.Send(ctx, msg); err != nil {
		c.log.Debug("send failed", "err", err)
	}
}

func isBenign(msg string) bool {
	lower := strings.ToLower(msg)
	for _, b := range benignErrors {
		if strings.Contains(lower, b) {
			return true
		}
	}
	return false
}
