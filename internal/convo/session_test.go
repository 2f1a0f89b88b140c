package convo

import (
	"testing"

	"github.com/voxlingo/voxlingo/internal/config"
	"github.com/voxlingo/voxlingo/pkg/types"
)

func newTestSession() *Session {
	return NewSession("sess-1", config.LanguageConfig{Code: "es", Name: "Spanish"}, 16)
}

func roles(msgs []types.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Role
	}
	return out
}

func TestSession_BeginTurnAppendsUser(t *testing.T) {
	t.Parallel()
	s := newTestSession()

	recorded := s.BeginTurn("Hola.")
	if recorded != "Hola." {
		t.Errorf("recorded = %q", recorded)
	}
	if !s.Processing() || s.Interrupted() {
		t.Error("expected processing, not interrupted")
	}
	h := s.History()
	if len(h) != 1 || h[0].Role != types.RoleUser || h[0].Content != "Hola." {
		t.Errorf("history = %+v", h)
	}
}

func TestSession_InterruptRequiresInFlightTurn(t *testing.T) {
	t.Parallel()
	s := newTestSession()

	if _, ok := s.Interrupt(); ok {
		t.Error("interrupt accepted with no turn in flight")
	}

	s.BeginTurn("Hola.")
	if _, ok := s.Interrupt(); !ok {
		t.Fatal("interrupt rejected mid-turn")
	}
	if _, ok := s.Interrupt(); ok {
		t.Error("second interrupt accepted for the same turn")
	}
}

func TestSession_InterruptBeforeResponse_StitchesUtterances(t *testing.T) {
	t.Parallel()
	s := newTestSession()

	s.BeginTurn("Quiero hablar de")
	removed, ok := s.Interrupt()
	if !ok || removed != 1 {
		t.Fatalf("removed = %d, ok = %v; want 1, true", removed, ok)
	}
	if len(s.History()) != 0 {
		t.Fatalf("history after rollback = %v", s.History())
	}
	s.EndTurn()

	recorded := s.BeginTurn("la comida española")
	if recorded != "Quiero hablar de la comida española" {
		t.Errorf("stitched text = %q", recorded)
	}
	h := s.History()
	if len(h) != 1 || h[0].Content != recorded {
		t.Errorf("history = %+v", h)
	}
}

func TestSession_InterruptMidResponse_RestoresExchange(t *testing.T) {
	t.Parallel()
	s := newTestSession()

	s.BeginTurn("Cuéntame una historia.")
	s.AccumulateResponse("Había una vez")
	removed, ok := s.Interrupt()
	if !ok || removed != 2 {
		t.Fatalf("removed = %d, ok = %v; want 2, true", removed, ok)
	}
	s.EndTurn()

	s.BeginTurn("mejor sobre piratas")
	h := s.History()
	want := []string{types.RoleUser, types.RoleAssistant, types.RoleUser}
	got := roles(h)
	if len(got) != len(want) {
		t.Fatalf("history roles = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("history roles = %v, want %v", got, want)
		}
	}
	if h[0].Content != "Cuéntame una historia." || h[1].Content != "Había una vez" || h[2].Content != "mejor sobre piratas" {
		t.Errorf("history contents = %+v", h)
	}
}

func TestSession_InterruptDuringPlayback_KeepsCompletedExchange(t *testing.T) {
	t.Parallel()
	s := newTestSession()

	s.BeginTurn("Hola.")
	s.AccumulateResponse("¡Hola! ¿Qué tal?")
	s.CompleteResponse("¡Hola! ¿Qué tal?")

	// Barge-in while the completed reply's audio is still playing: the
	// exchange is committed, so nothing is rolled back.
	removed, ok := s.Interrupt()
	if !ok || removed != 0 {
		t.Fatalf("removed = %d, ok = %v; want 0, true", removed, ok)
	}
	s.EndTurn()

	s.BeginTurn("Otra cosa.")
	h := s.History()
	want := []string{types.RoleUser, types.RoleAssistant, types.RoleUser}
	if got := roles(h); len(got) != 3 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Errorf("history roles = %v, want %v", roles(h), want)
	}
}

func TestSession_EndTurnClearsTurnState(t *testing.T) {
	t.Parallel()
	s := newTestSession()

	s.BeginTurn("Hola.")
	s.AccumulateResponse("¡Hola!")
	if _, ok := s.Interrupt(); !ok {
		t.Fatal("interrupt rejected")
	}
	s.EndTurn()
	if s.Processing() || s.Interrupted() {
		t.Error("turn state leaked past EndTurn")
	}
}

func TestSession_IntroFlow(t *testing.T) {
	t.Parallel()
	s := newTestSession()

	if s.IntroState() != IntroPending {
		t.Fatalf("initial intro state = %q", s.IntroState())
	}
	if got := s.AdvanceIntro(); got != IntroGreeted {
		t.Errorf("first advance = %q", got)
	}
	if got := s.AdvanceIntro(); got != IntroCompleted {
		t.Errorf("second advance = %q", got)
	}
	if got := s.AdvanceIntro(); got != "" {
		t.Errorf("advance past completed = %q", got)
	}

	s.ResetConversation()
	if s.IntroState() != IntroPending {
		t.Errorf("intro state after reset = %q", s.IntroState())
	}
}

func TestSession_LastUserText(t *testing.T) {
	t.Parallel()
	s := newTestSession()

	if s.LastUserText() != "" {
		t.Error("expected empty before any turn")
	}
	s.BeginTurn("Primera.")
	s.CompleteResponse("Claro.")
	s.EndTurn()
	s.BeginTurn("Segunda.")
	if got := s.LastUserText(); got != "Segunda." {
		t.Errorf("last user text = %q", got)
	}
}
