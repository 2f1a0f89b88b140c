package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voxlingo/voxlingo/pkg/provider/llm"
	llmmock "github.com/voxlingo/voxlingo/pkg/provider/llm/mock"
	"github.com/voxlingo/voxlingo/pkg/provider/stt"
	sttmock "github.com/voxlingo/voxlingo/pkg/provider/stt/mock"
	ttsmock "github.com/voxlingo/voxlingo/pkg/provider/tts/mock"
	"github.com/voxlingo/voxlingo/pkg/types"
)

func TestFallbackGroup_PrimaryPreferred(t *testing.T) {
	t.Parallel()
	g := NewFallbackGroup("primary", "primary", FallbackConfig{})
	g.AddFallback("backup", "backup")

	got, err := DoWithResult(g, func(v string) (string, error) { return v, nil })
	if err != nil {
		t.Fatalf("DoWithResult: %v", err)
	}
	if got != "primary" {
		t.Errorf("served by %q, want primary", got)
	}
}

func TestFallbackGroup_FailsOver(t *testing.T) {
	t.Parallel()
	g := NewFallbackGroup("primary", "primary", FallbackConfig{})
	g.AddFallback("backup", "backup")

	got, err := DoWithResult(g, func(v string) (string, error) {
		if v == "primary" {
			return "", errUpstream
		}
		return v, nil
	})
	if err != nil {
		t.Fatalf("DoWithResult: %v", err)
	}
	if got != "backup" {
		t.Errorf("served by %q, want backup", got)
	}
}

func TestFallbackGroup_AllFailed(t *testing.T) {
	t.Parallel()
	g := NewFallbackGroup("primary", "primary", FallbackConfig{})
	g.AddFallback("backup", "backup")

	err := g.Do(func(string) error { return errUpstream })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("Do = %v, want ErrAllFailed", err)
	}
}

func TestFallbackGroup_OpenPrimarySkipped(t *testing.T) {
	t.Parallel()
	g := NewFallbackGroup("primary", "primary", FallbackConfig{
		Breaker: BreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	g.AddFallback("backup", "backup")

	// Trip the primary's breaker.
	for i := 0; i < 2; i++ {
		_, _ = DoWithResult(g, func(v string) (string, error) {
			if v == "primary" {
				return "", errUpstream
			}
			return v, nil
		})
	}

	// With the primary open, calls go straight to the backup and the primary
	// is not invoked at all.
	primaryCalls := 0
	got, err := DoWithResult(g, func(v string) (string, error) {
		if v == "primary" {
			primaryCalls++
			return "", errUpstream
		}
		return v, nil
	})
	if err != nil {
		t.Fatalf("DoWithResult: %v", err)
	}
	if got != "backup" {
		t.Errorf("served by %q, want backup", got)
	}
	if primaryCalls != 0 {
		t.Errorf("primary invoked %d times while open, want 0", primaryCalls)
	}
}

func TestLLMFallback_FailsOverOnComplete(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{CompleteErr: errUpstream}
	backup := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "hola"}}

	f := NewLLMFallback(primary, "openai", FallbackConfig{})
	f.AddFallback("ollama", backup)

	resp, err := f.Complete(context.Background(), llm.CompletionRequest{
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "hola" {
		t.Errorf("content = %q, want backup response", resp.Content)
	}
}

func TestSTTFallback_FailsOverOnStartStream(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{StartErr: errUpstream}
	backup := &sttmock.Provider{}

	f := NewSTTFallback(primary, "deepgram", FallbackConfig{})
	f.AddFallback("backup", backup)

	h, err := f.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer h.Close()
	if len(backup.Sessions()) != 1 {
		t.Errorf("backup sessions = %d, want 1", len(backup.Sessions()))
	}
}

func TestTTSFallback_FailsOverOnSynthesize(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{SynthesizeErr: errUpstream}
	backup := &ttsmock.Provider{EchoText: true}

	f := NewTTSFallback(primary, "elevenlabs", FallbackConfig{})
	f.AddFallback("backup", backup)

	in := make(chan string, 1)
	in <- "hola"
	close(in)
	out, err := f.SynthesizeStream(context.Background(), in, types.VoiceProfile{ID: "v"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	var total int
	for chunk := range out {
		total += len(chunk)
	}
	if total == 0 {
		t.Error("no audio produced by backup")
	}
}
