package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseInbound(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want any
	}{
		{
			name: "audio chunk",
			raw:  `{"type":"audio_chunk","audio_data":"AAAA"}`,
			want: &AudioChunk{Type: TypeAudioChunk, AudioData: "AAAA"},
		},
		{
			name: "text message",
			raw:  `{"type":"text_message","text":"hola"}`,
			want: &TextMessage{Type: TypeTextMessage, Text: "hola"},
		},
		{
			name: "set language",
			raw:  `{"type":"set_language","languageCode":"fr"}`,
			want: &SetLanguage{Type: TypeSetLanguage, LanguageCode: "fr"},
		},
		{
			name: "user context",
			raw:  `{"type":"user_context","timezone":"Europe/Madrid","userId":"u1"}`,
			want: &UserContext{Type: TypeUserContext, Timezone: "Europe/Madrid", UserID: "u1"},
		},
		{
			name: "tts pronounce request",
			raw:  `{"type":"tts_pronounce_request","text":"perro","languageCode":"es"}`,
			want: &TTSPronounceRequest{Type: TypeTTSPronounceRequest, Text: "perro", LanguageCode: "es"},
		},
		{
			name: "reset flashcards",
			raw:  `{"type":"reset_flashcards"}`,
			want: &ResetFlashcards{Type: TypeResetFlashcards},
		},
		{
			name: "conversation context reset",
			raw:  `{"type":"conversation_context_reset"}`,
			want: &ConversationContextReset{Type: TypeConversationContextReset},
		},
		{
			name: "flashcard clicked",
			raw:  `{"type":"flashcard_clicked","cardId":"c9"}`,
			want: &FlashcardClicked{Type: TypeFlashcardClicked, CardID: "c9"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseInbound([]byte(tc.raw))
			if err != nil {
				t.Fatalf("ParseInbound: %v", err)
			}
			gotJSON, _ := json.Marshal(got)
			wantJSON, _ := json.Marshal(tc.want)
			if string(gotJSON) != string(wantJSON) {
				t.Errorf("parsed = %s, want %s", gotJSON, wantJSON)
			}
		})
	}
}

func TestParseInbound_Errors(t *testing.T) {
	t.Parallel()

	t.Run("unknown type", func(t *testing.T) {
		_, err := ParseInbound([]byte(`{"type":"telepathy"}`))
		if !errors.Is(err, ErrUnknownType) {
			t.Errorf("err = %v, want ErrUnknownType", err)
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		if _, err := ParseInbound([]byte(`{`)); err == nil {
			t.Error("expected error for malformed JSON")
		}
	})

	t.Run("text too long", func(t *testing.T) {
		long := strings.Repeat("a", MaxTextMessageLen+1)
		_, err := ParseInbound([]byte(`{"type":"text_message","text":"` + long + `"}`))
		if !errors.Is(err, ErrTextTooLong) {
			t.Errorf("err = %v, want ErrTextTooLong", err)
		}
	})

	t.Run("text at limit accepted", func(t *testing.T) {
		ok := strings.Repeat("a", MaxTextMessageLen)
		if _, err := ParseInbound([]byte(`{"type":"text_message","text":"` + ok + `"}`)); err != nil {
			t.Errorf("ParseInbound: %v", err)
		}
	})
}

func TestOutboundWireShape(t *testing.T) {
	t.Parallel()

	t.Run("audio stream", func(t *testing.T) {
		b, err := json.Marshal(AudioStream{
			Type:         TypeAudioStream,
			Audio:        "UklGRg==",
			AudioFormat:  AudioFormatFloat32,
			SampleRate:   16000,
			IsFirstChunk: true,
		})
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		for _, key := range []string{`"audioFormat":"float32"`, `"sampleRate":16000`, `"isFirstChunk":true`} {
			if !strings.Contains(string(b), key) {
				t.Errorf("missing %s in %s", key, b)
			}
		}
	})

	t.Run("error code omitted when empty", func(t *testing.T) {
		b, _ := json.Marshal(Error{Type: TypeError, Message: "boom"})
		if strings.Contains(string(b), "code") {
			t.Errorf("empty code serialised: %s", b)
		}
	})

	t.Run("rollback", func(t *testing.T) {
		b, _ := json.Marshal(ConversationRollback{Type: TypeConversationRollback, RemovedCount: 2})
		if !strings.Contains(string(b), `"removedCount":2`) {
			t.Errorf("rollback shape: %s", b)
		}
	})
}
