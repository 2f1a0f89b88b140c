// Package protocol defines the typed WebSocket messages exchanged with the
// client. Every message is a JSON object carrying a `type` field; inbound
// payloads are dispatched on it via ParseInbound.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/voxlingo/voxlingo/pkg/types"
)

// Inbound message types.
const (
	TypeAudioChunk               = "audio_chunk"
	TypeTextMessage              = "text_message"
	TypeResetFlashcards          = "reset_flashcards"
	TypeConversationContextReset = "conversation_context_reset"
	TypeSetLanguage              = "set_language"
	TypeUserContext              = "user_context"
	TypeFlashcardClicked         = "flashcard_clicked"
	TypeTTSPronounceRequest      = "tts_pronounce_request"
)

// Outbound message types.
const (
	TypeTranscription            = "transcription"
	TypePartialTranscript        = "partial_transcript"
	TypeSpeechDetected           = "speech_detected"
	TypeInterrupt                = "interrupt"
	TypeConversationRollback     = "conversation_rollback"
	TypeLLMResponseChunk         = "llm_response_chunk"
	TypeLLMResponseComplete      = "llm_response_complete"
	TypeAudioStream              = "audio_stream"
	TypeAudioStreamComplete      = "audio_stream_complete"
	TypeConversationUpdate       = "conversation_update"
	TypeFlashcardsGenerated      = "flashcards_generated"
	TypeFeedbackGenerated        = "feedback_generated"
	TypeIntroductionStateUpdated = "introduction_state_updated"
	TypeLanguageChanged          = "language_changed"
	TypeConnectionRecovered      = "connection_recovered"
	TypeError                    = "error"
)

// Interrupt reasons.
const (
	ReasonSpeechStart          = "speech_start"
	ReasonContinuationDetected = "continuation_detected"
)

// Audio formats for outbound audio_stream messages.
const (
	AudioFormatFloat32 = "float32"
	AudioFormatInt16   = "int16"
)

// MaxTextMessageLen caps typed message length in characters.
const MaxTextMessageLen = 200

// Parse errors.
var (
	// ErrUnknownType is returned by ParseInbound for an unrecognised type
	// field. Callers typically log and ignore.
	ErrUnknownType = errors.New("protocol: unknown message type")

	// ErrTextTooLong is returned for a text_message exceeding
	// MaxTextMessageLen characters.
	ErrTextTooLong = fmt.Errorf("protocol: text exceeds %d characters", MaxTextMessageLen)
)

// ─── Inbound ────────────────────────────────────────────────────────────────

// AudioChunk carries one base64-encoded PCM16 frame from the client.
type AudioChunk struct {
	Type      string `json:"type"`
	AudioData string `json:"audio_data"`
}

// TextMessage is a typed chat message. Text is capped at MaxTextMessageLen.
type TextMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ResetFlashcards asks the session to clear flashcard accumulation state.
type ResetFlashcards struct {
	Type string `json:"type"`
}

// ConversationContextReset asks the session to wipe its conversation history.
type ConversationContextReset struct {
	Type string `json:"type"`
}

// SetLanguage switches the session's practice language.
type SetLanguage struct {
	Type         string `json:"type"`
	LanguageCode string `json:"languageCode"`
}

// UserContext delivers learner identity and locale information.
type UserContext struct {
	Type         string `json:"type"`
	Timezone     string `json:"timezone"`
	UserID       string `json:"userId"`
	LanguageCode string `json:"languageCode,omitempty"`
}

// FlashcardClicked is telemetry only; the server logs and otherwise ignores
// it.
type FlashcardClicked struct {
	Type   string `json:"type"`
	CardID string `json:"cardId,omitempty"`
}

// TTSPronounceRequest asks for an isolated one-shot pronunciation synthesis
// outside the main conversation flow.
type TTSPronounceRequest struct {
	Type         string `json:"type"`
	Text         string `json:"text"`
	LanguageCode string `json:"languageCode,omitempty"`
}

// ParseInbound decodes one client message into its concrete struct.
// Returns ErrUnknownType for an unrecognised type field and ErrTextTooLong
// for an over-long text_message.
func ParseInbound(data []byte) (any, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol: decoding envelope: %w", err)
	}

	decode := func(v any) (any, error) {
		if err := json.Unmarshal(data, v); err != nil {
			return nil, fmt.Errorf("protocol: decoding %s: %w", env.Type, err)
		}
		return v, nil
	}

	switch env.Type {
	case TypeAudioChunk:
		return decode(&AudioChunk{})
	case TypeTextMessage:
		v, err := decode(&TextMessage{})
		if err != nil {
			return nil, err
		}
		if len([]rune(v.(*TextMessage).Text)) > MaxTextMessageLen {
			return nil, ErrTextTooLong
		}
		return v, nil
	case TypeResetFlashcards:
		return decode(&ResetFlashcards{})
	case TypeConversationContextReset:
		return decode(&ConversationContextReset{})
	case TypeSetLanguage:
		return decode(&SetLanguage{})
	case TypeUserContext:
		return decode(&UserContext{})
	case TypeFlashcardClicked:
		return decode(&FlashcardClicked{})
	case TypeTTSPronounceRequest:
		return decode(&TTSPronounceRequest{})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// ─── Outbound ───────────────────────────────────────────────────────────────

// Transcription is the accepted final transcript for a turn.
type Transcription struct {
	Type          string `json:"type"`
	Text          string `json:"text"`
	InteractionID string `json:"interactionId,omitempty"`
}

// PartialTranscript is a low-latency interim transcript.
type PartialTranscript struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SpeechDetected signals that the user started speaking.
type SpeechDetected struct {
	Type string `json:"type"`
}

// Interrupt tells the client to stop playback. Reason is ReasonSpeechStart
// when no response was in flight, ReasonContinuationDetected when an
// in-flight response was cut short.
type Interrupt struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// ConversationRollback reports messages removed from history after an
// interruption so the client display can reconcile.
type ConversationRollback struct {
	Type         string          `json:"type"`
	RemovedCount int             `json:"removedCount"`
	Messages     []types.Message `json:"messages"`
}

// LLMResponseChunk is one streamed fragment of the assistant's reply.
type LLMResponseChunk struct {
	Type          string `json:"type"`
	Text          string `json:"text"`
	InteractionID string `json:"interactionId,omitempty"`
}

// LLMResponseComplete carries the full joined reply of an uninterrupted turn.
type LLMResponseComplete struct {
	Type          string `json:"type"`
	Text          string `json:"text"`
	InteractionID string `json:"interactionId,omitempty"`
}

// AudioStream is one chunk of synthesized speech. IsPronunciation marks
// audio from an isolated pronunciation request rather than the conversation.
type AudioStream struct {
	Type            string `json:"type"`
	Audio           string `json:"audio"`
	AudioFormat     string `json:"audioFormat"`
	SampleRate      int    `json:"sampleRate"`
	IsFirstChunk    bool   `json:"isFirstChunk"`
	IsPronunciation bool   `json:"isPronunciation,omitempty"`
}

// AudioStreamComplete marks the end of a turn's audio, or of a
// pronunciation playback when IsPronunciation is set.
type AudioStreamComplete struct {
	Type            string `json:"type"`
	IsPronunciation bool   `json:"isPronunciation,omitempty"`
}

// ConversationUpdate carries the full message history after a completed turn.
type ConversationUpdate struct {
	Type     string          `json:"type"`
	Messages []types.Message `json:"messages"`
}

// Flashcard is one generated study card.
type Flashcard struct {
	Front   string `json:"front"`
	Back    string `json:"back"`
	Example string `json:"example,omitempty"`
}

// FlashcardsGenerated delivers freshly generated flashcards.
type FlashcardsGenerated struct {
	Type       string      `json:"type"`
	Flashcards []Flashcard `json:"flashcards"`
}

// Correction is one identified mistake with its fix.
type Correction struct {
	Original    string `json:"original"`
	Corrected   string `json:"corrected"`
	Explanation string `json:"explanation,omitempty"`
}

// FeedbackGenerated delivers language feedback on the learner's last turns.
type FeedbackGenerated struct {
	Type        string       `json:"type"`
	Summary     string       `json:"summary"`
	Corrections []Correction `json:"corrections,omitempty"`
}

// IntroductionStateUpdated reports progress through the greeting flow.
type IntroductionStateUpdated struct {
	Type  string `json:"type"`
	State string `json:"state"`
}

// LanguageChanged confirms a successful set_language request.
type LanguageChanged struct {
	Type         string `json:"type"`
	LanguageCode string `json:"languageCode"`
	Greeting     string `json:"greeting,omitempty"`
}

// ConnectionRecovered tells the client the processing graph was restarted
// and the session continues.
type ConnectionRecovered struct {
	Type string `json:"type"`
}

// Error is a user-safe failure report. Code is set for conditions the client
// handles specially (e.g. ErrCodeGraphRestartFailed).
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ErrCodeGraphRestartFailed is the terminal code sent after the auto-restart
// policy is exhausted; the client should reconnect.
const ErrCodeGraphRestartFailed = "GRAPH_RESTART_FAILED"
