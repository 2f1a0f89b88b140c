package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/voxlingo/voxlingo/internal/config"
	"github.com/voxlingo/voxlingo/internal/convo"
	graphmock "github.com/voxlingo/voxlingo/internal/graph/mock"
	"github.com/voxlingo/voxlingo/pkg/audio"
	ttsmock "github.com/voxlingo/voxlingo/pkg/provider/tts/mock"
)

type testServer struct {
	url      string
	exec     *graphmock.Executor
	registry *convo.Registry
	tts      *ttsmock.Provider
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cat, err := config.NewCatalog([]config.LanguageConfig{
		{Code: "es", Name: "Spanish", Greeting: "¡Hola!", VoiceID: "voice-es", Default: true},
	})
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	sessCfg := config.SessionConfig{}
	sessCfg.ApplyDefaults()

	exec := graphmock.NewExecutor(4)
	registry := convo.NewRegistry()
	ttsP := &ttsmock.Provider{SynthesizeChunks: [][]byte{{1, 0, 2, 0}}}

	srv := New(Deps{
		Config:   config.ServerConfig{},
		Session:  sessCfg,
		Catalog:  cat,
		Executor: exec,
		Registry: registry,
		TTS:      ttsP,
	})
	mux := http.NewServeMux()
	srv.Register(mux)

	hs := httptest.NewServer(mux)
	t.Cleanup(hs.Close)

	return &testServer{
		url:      "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws",
		exec:     exec,
		registry: registry,
		tts:      ttsP,
	}
}

func dial(t *testing.T, ts *testServer) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, ts.url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

// readMsg decodes the next JSON message from conn.
func readMsg(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var m map[string]any
	if err := wsjson.Read(ctx, conn, &m); err != nil {
		t.Fatalf("Read: %v", err)
	}
	return m
}

// readUntil reads messages until one has the wanted type.
func readUntil(t *testing.T, conn *websocket.Conn, wantType string) map[string]any {
	t.Helper()
	for i := 0; i < 20; i++ {
		m := readMsg(t, conn)
		if m["type"] == wantType {
			return m
		}
	}
	t.Fatalf("no %q message in 20 reads", wantType)
	return nil
}

func send(t *testing.T, conn *websocket.Conn, msg any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func TestServer_TurnFlow(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	conn := dial(t, ts)

	var e *graphmock.Execution
	select {
	case e = <-ts.exec.Started():
	case <-time.After(2 * time.Second):
		t.Fatal("graph execution did not start")
	}

	intro := readUntil(t, conn, "introduction_state_updated")
	if intro["state"] != "greeted" {
		t.Errorf("intro state = %v, want greeted", intro["state"])
	}

	e.EmitTurnComplete("turn-1", "Hola.")
	tr := readUntil(t, conn, "transcription")
	if tr["text"] != "Hola." {
		t.Errorf("transcription text = %v", tr["text"])
	}

	content := e.NewContentStream("turn-1")
	content <- "¡Hola! ¿Qué tal?"
	close(content)
	done := readUntil(t, conn, "llm_response_complete")
	if done["text"] != "¡Hola! ¿Qué tal?" {
		t.Errorf("response = %v", done["text"])
	}

	audioCh := e.NewAudioStream("turn-1")
	audioCh <- []byte{0, 1, 2, 3}
	close(audioCh)

	a := readUntil(t, conn, "audio_stream")
	if a["audioFormat"] != "float32" || a["isFirstChunk"] != true {
		t.Errorf("audio frame = %v", a)
	}
	readUntil(t, conn, "audio_stream_complete")
	update := readUntil(t, conn, "conversation_update")
	msgs, ok := update["messages"].([]any)
	if !ok || len(msgs) != 2 {
		t.Errorf("conversation_update messages = %v", update["messages"])
	}
}

func TestServer_AudioChunkReachesGraphInput(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	conn := dial(t, ts)

	var e *graphmock.Execution
	select {
	case e = <-ts.exec.Started():
	case <-time.After(2 * time.Second):
		t.Fatal("graph execution did not start")
	}

	pcm := []byte{0, 1, 2, 3, 4, 5, 6, 7}
	send(t, conn, map[string]any{
		"type":       "audio_chunk",
		"audio_data": audio.EncodeBase64(pcm),
	})

	deadline := time.Now().Add(2 * time.Second)
	for e.Mux.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if e.Mux.Len() == 0 {
		t.Fatal("audio frame never reached the multiplexer")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	f, err := e.Mux.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(f.Audio) != 4 {
		t.Errorf("frame has %d samples, want 4", len(f.Audio))
	}
}

func TestServer_Pronounce(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	conn := dial(t, ts)

	send(t, conn, map[string]any{
		"type": "tts_pronounce_request",
		"text": "la playa",
	})

	a := readUntil(t, conn, "audio_stream")
	if a["isPronunciation"] != true {
		t.Errorf("audio frame not flagged as pronunciation: %v", a)
	}
	done := readUntil(t, conn, "audio_stream_complete")
	if done["isPronunciation"] != true {
		t.Errorf("completion not flagged as pronunciation: %v", done)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(ts.tts.ReceivedText()) == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	received := ts.tts.ReceivedText()
	if len(received) != 1 || received[0] != "la playa" {
		t.Errorf("synthesised text = %v", received)
	}
}

func TestServer_OversizeTextRejected(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	conn := dial(t, ts)

	long, err := json.Marshal(map[string]any{
		"type": "text_message",
		"text": strings.Repeat("a", 201),
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, long); err != nil {
		t.Fatalf("Write: %v", err)
	}

	e := readUntil(t, conn, "error")
	if msg, _ := e["message"].(string); msg == "" {
		t.Error("error message is empty")
	}
}

func TestServer_DisconnectDestroysSession(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	conn := dial(t, ts)

	deadline := time.Now().Add(2 * time.Second)
	for ts.registry.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if ts.registry.Len() != 1 {
		t.Fatalf("registry len = %d, want 1", ts.registry.Len())
	}

	_ = conn.Close(websocket.StatusNormalClosure, "bye")

	deadline = time.Now().Add(2 * time.Second)
	for ts.registry.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if got := ts.registry.Len(); got != 0 {
		t.Errorf("registry len after disconnect = %d, want 0", got)
	}
}
