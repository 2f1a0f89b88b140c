// Package convo owns per-session conversational state and the turn
// coordinator: the component that multiplexes client input into the
// processing graph, interprets its streaming outputs, and resolves the race
// between renewed user speech and an in-flight response.
package convo

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxlingo/voxlingo/internal/config"
	"github.com/voxlingo/voxlingo/internal/stream"
	"github.com/voxlingo/voxlingo/pkg/types"
)

// Introduction flow states.
const (
	IntroPending   = "pending"
	IntroGreeted   = "greeted"
	IntroCompleted = "completed"
)

// pendingState tracks which parts of an interrupted exchange await
// reconciliation into history when the next final transcript arrives.
type pendingState int

const (
	pendingNone pendingState = iota
	pendingUserOnly
	pendingAssistantOnly
	pendingBoth
)

// Session holds one client's conversational state. All mutating access goes
// through methods; the coordinator's output loop, the speech-detection
// callback, and the server's message handlers touch it concurrently.
type Session struct {
	// ID is the session identifier, assigned at connection time.
	ID string

	mu sync.Mutex

	userID      string
	timezone    string
	userContext string

	messages []types.Message
	language config.LanguageConfig

	mux *stream.Multiplexer

	introState string

	// Turn/interruption state.
	processing        bool
	interrupted       bool
	pendingTranscript string
	partialResponse   string

	// Interrupted-exchange reconciliation slots.
	pending          pendingState
	pendingUser      string
	pendingAssistant string
}

// NewSession creates a Session in the given language with a fresh
// multiplexer of the given buffer size.
func NewSession(id string, lang config.LanguageConfig, streamBuffer int) *Session {
	return &Session{
		ID:         id,
		language:   lang,
		mux:        stream.NewMultiplexer(streamBuffer),
		introState: IntroPending,
	}
}

// Mux returns the session's current input multiplexer.
func (s *Session) Mux() *stream.Multiplexer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mux
}

// ReplaceMux swaps in a fresh multiplexer after a graph restart; the old one
// is terminal once its execution completed.
func (s *Session) ReplaceMux(m *stream.Multiplexer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mux = m
}

// History returns a snapshot of the conversation, oldest first.
func (s *Session) History() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// LanguageCode returns the active language code.
func (s *Session) LanguageCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.language.Code
}

// LanguageName returns the active language display name.
func (s *Session) LanguageName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.language.Name
}

// Language returns the full active language entry.
func (s *Session) Language() config.LanguageConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.language
}

// SetLanguage replaces the active language entry.
func (s *Session) SetLanguage(lang config.LanguageConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.language = lang
}

// Voice returns the TTS voice derived from the active language.
func (s *Session) Voice() types.VoiceProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.VoiceProfile{
		ID:          s.language.VoiceID,
		SpeedFactor: s.language.SpeedFactor,
	}
}

// UserContext returns the latest free-form context from the client.
func (s *Session) UserContext() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userContext
}

// SetUserContext stores learner identity and locale from a user_context
// message.
func (s *Session) SetUserContext(userID, timezone, context string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if userID != "" {
		s.userID = userID
	}
	if timezone != "" {
		s.timezone = timezone
	}
	if context != "" {
		s.userContext = context
	}
}

// UserID returns the learner id, or "" before a user_context message.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// IntroState returns the introduction flow state.
func (s *Session) IntroState() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.introState
}

// AdvanceIntro moves the introduction flow forward and reports the new
// state; returns "" when already completed (no transition).
func (s *Session) AdvanceIntro() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.introState {
	case IntroPending:
		s.introState = IntroGreeted
	case IntroGreeted:
		s.introState = IntroCompleted
	default:
		return ""
	}
	return s.introState
}

// ResetConversation wipes history, pending reconciliation state, and the
// introduction flow. Turn state for an in-flight response is untouched; the
// coordinator suppresses its completion normally.
func (s *Session) ResetConversation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.pending = pendingNone
	s.pendingUser = ""
	s.pendingAssistant = ""
	s.pendingTranscript = ""
	s.introState = IntroPending
}

// BeginTurn marks response processing started for a final transcript,
// reconciling any interrupted prior exchange into history and appending the
// (possibly stitched) user message. Returns the recorded user text.
func (s *Session) BeginTurn(text string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	recorded := text
	switch s.pending {
	case pendingUserOnly:
		// The new speech continues the interrupted utterance.
		recorded = strings.TrimSpace(s.pendingUser + " " + text)
	case pendingAssistantOnly:
		s.appendLocked(types.RoleAssistant, s.pendingAssistant)
	case pendingBoth:
		// Restore the interrupted exchange chronologically, then start the
		// new turn.
		s.appendLocked(types.RoleUser, s.pendingUser)
		s.appendLocked(types.RoleAssistant, s.pendingAssistant)
	}
	s.pending = pendingNone
	s.pendingUser = ""
	s.pendingAssistant = ""

	s.appendLocked(types.RoleUser, recorded)
	s.processing = true
	s.interrupted = false
	s.pendingTranscript = recorded
	s.partialResponse = ""
	return recorded
}

// AccumulateResponse records streamed assistant text for the in-flight turn
// so an interruption can freeze it.
func (s *Session) AccumulateResponse(chunk string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partialResponse += chunk
}

// Interrupted reports whether the in-flight turn has been interrupted.
func (s *Session) Interrupted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interrupted
}

// Processing reports whether a response is currently being generated.
func (s *Session) Processing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

// Interrupt transitions Processing → Interrupted: freezes any accumulated
// partial response, rolls the superseded exchange out of history into the
// pending slots, and reports how many messages were removed from the
// client's view. Returns ok=false when no response is in flight or the turn
// is already interrupted.
func (s *Session) Interrupt() (removed int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.processing || s.interrupted || s.pendingTranscript == "" {
		return 0, false
	}
	s.interrupted = true

	// The superseded user message is the history tail; pop it for stitching.
	if n := len(s.messages); n > 0 && s.messages[n-1].Role == types.RoleUser {
		s.pendingUser = s.messages[n-1].Content
		s.messages = s.messages[:n-1]
		removed++
	}

	// Freeze the partial response. It was visible to the client as streamed
	// chunks, so it counts as removed too.
	if s.partialResponse != "" {
		s.pendingAssistant = s.partialResponse
		removed++
	}

	switch {
	case s.pendingUser != "" && s.pendingAssistant != "":
		s.pending = pendingBoth
	case s.pendingUser != "":
		s.pending = pendingUserOnly
	case s.pendingAssistant != "":
		s.pending = pendingAssistantOnly
	default:
		s.pending = pendingNone
	}
	return removed, true
}

// CompleteResponse appends the full assistant reply for an uninterrupted
// turn. The partial buffer is cleared: the reply is committed, so a later
// interruption during audio playback must not roll it back.
func (s *Session) CompleteResponse(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(types.RoleAssistant, text)
	s.partialResponse = ""
}

// EndTurn transitions Processing|Interrupted → Idle. Always called when the
// turn's audio stream finishes, interrupted or not, so state cannot leak
// into the next turn.
func (s *Session) EndTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processing = false
	s.interrupted = false
	s.partialResponse = ""
}

// LastUserText returns the content of the most recent user message, or "".
func (s *Session) LastUserText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Role == types.RoleUser {
			return s.messages[i].Content
		}
	}
	return ""
}

func (s *Session) appendLocked(role, content string) {
	s.messages = append(s.messages, types.Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
}
