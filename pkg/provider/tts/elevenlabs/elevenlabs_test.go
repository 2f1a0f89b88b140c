package elevenlabs

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/voxlingo/voxlingo/pkg/types"
)

// ---- WebSocket message construction ----

func TestBuildWSMessage_WithVoiceSettings(t *testing.T) {
	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
	data, err := buildWSMessage("Hola, ¿qué tal?", vs)
	if err != nil {
		t.Fatalf("buildWSMessage: %v", err)
	}

	var msg textMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Text != "Hola, ¿qué tal?" {
		t.Errorf("expected text 'Hola, ¿qué tal?', got %q", msg.Text)
	}
	if msg.VoiceSettings == nil {
		t.Fatal("expected non-nil voice settings")
	}
	if msg.VoiceSettings.Stability != 0.5 {
		t.Errorf("expected stability 0.5, got %f", msg.VoiceSettings.Stability)
	}
	if msg.VoiceSettings.SimilarityBoost != 0.75 {
		t.Errorf("expected similarity_boost 0.75, got %f", msg.VoiceSettings.SimilarityBoost)
	}
}

func TestBuildWSMessage_FlushCommand(t *testing.T) {
	// ElevenLabs flush = {"text":""} with no other fields.
	data, err := buildWSMessage("", nil)
	if err != nil {
		t.Fatalf("buildWSMessage: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal flush: %v", err)
	}
	textVal, ok := raw["text"]
	if !ok {
		t.Fatal("expected 'text' field in flush message")
	}
	if string(textVal) != `""` {
		t.Errorf("expected empty string for text, got %s", textVal)
	}
	if _, exists := raw["voice_settings"]; exists {
		t.Error("flush message should not contain voice_settings")
	}
}

// ---- Voice settings ----

func TestSettingsForVoice_SpeedFactor(t *testing.T) {
	vs := settingsForVoice(types.VoiceProfile{ID: "v", SpeedFactor: 0.8})
	if vs.Speed != 0.8 {
		t.Errorf("expected speed 0.8, got %f", vs.Speed)
	}

	vs = settingsForVoice(types.VoiceProfile{ID: "v"})
	if vs.Speed != 0 {
		t.Errorf("expected speed omitted for zero SpeedFactor, got %f", vs.Speed)
	}

	vs = settingsForVoice(types.VoiceProfile{ID: "v", SpeedFactor: 1.0})
	if vs.Speed != 0 {
		t.Errorf("expected speed omitted for neutral SpeedFactor, got %f", vs.Speed)
	}
}

// ---- URL construction ----

func TestBuildURLForVoice(t *testing.T) {
	url := buildURLForVoice("voice-abc123", "eleven_flash_v2_5")
	if !strings.Contains(url, "voice-abc123") {
		t.Errorf("URL should contain voice ID, got: %s", url)
	}
	if !strings.Contains(url, "eleven_flash_v2_5") {
		t.Errorf("URL should contain model ID, got: %s", url)
	}
	if !strings.HasPrefix(url, "wss://") {
		t.Errorf("URL should be a WebSocket URL, got: %s", url)
	}
}

// ---- Voice list response parsing ----

func TestParseVoicesResponse_Success(t *testing.T) {
	raw := []byte(`{
		"voices": [
			{
				"voice_id": "abc123",
				"name": "Lucía",
				"category": "premade",
				"labels": {"gender": "female", "accent": "castilian"}
			},
			{
				"voice_id": "def456",
				"name": "Mateo",
				"category": "premade",
				"labels": {"gender": "male"}
			}
		]
	}`)

	profiles, err := parseVoicesResponse(raw)
	if err != nil {
		t.Fatalf("parseVoicesResponse: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}

	lucia := profiles[0]
	if lucia.ID != "abc123" {
		t.Errorf("expected ID 'abc123', got %q", lucia.ID)
	}
	if lucia.Name != "Lucía" {
		t.Errorf("expected Name 'Lucía', got %q", lucia.Name)
	}
	if lucia.Provider != "elevenlabs" {
		t.Errorf("expected Provider 'elevenlabs', got %q", lucia.Provider)
	}
	if lucia.Metadata["accent"] != "castilian" {
		t.Errorf("expected accent 'castilian', got %q", lucia.Metadata["accent"])
	}
	if lucia.Metadata["category"] != "premade" {
		t.Errorf("expected category 'premade', got %q", lucia.Metadata["category"])
	}

	if profiles[1].ID != "def456" {
		t.Errorf("expected ID 'def456', got %q", profiles[1].ID)
	}
}

func TestParseVoicesResponse_Empty(t *testing.T) {
	raw := []byte(`{"voices":[]}`)
	profiles, err := parseVoicesResponse(raw)
	if err != nil {
		t.Fatalf("parseVoicesResponse: %v", err)
	}
	if len(profiles) != 0 {
		t.Errorf("expected 0 profiles, got %d", len(profiles))
	}
}

func TestParseVoicesResponse_Malformed(t *testing.T) {
	if _, err := parseVoicesResponse([]byte(`{nope`)); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}
