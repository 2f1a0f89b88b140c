package prompt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/voxlingo/voxlingo/pkg/memory"
	memmock "github.com/voxlingo/voxlingo/pkg/memory/mock"
	embmock "github.com/voxlingo/voxlingo/pkg/provider/embeddings/mock"
	"github.com/voxlingo/voxlingo/pkg/types"
)

func TestBuild_Persona(t *testing.T) {
	t.Parallel()

	b := New(nil, nil)
	req := b.Build(context.Background(), Input{
		LanguageCode: "es",
		LanguageName: "Spanish",
		UserText:     "hola",
	})

	if !strings.Contains(req.SystemPrompt, "Spanish conversation partner") {
		t.Errorf("system prompt missing persona: %q", req.SystemPrompt)
	}
	if n := len(req.Messages); n != 1 {
		t.Fatalf("messages = %d, want 1", n)
	}
	last := req.Messages[0]
	if last.Role != types.RoleUser || last.Content != "hola" {
		t.Errorf("final message = %+v", last)
	}
}

func TestBuild_HistoryWindow(t *testing.T) {
	t.Parallel()

	b := New(nil, nil, WithHistoryLimit(3))
	history := make([]types.Message, 10)
	for i := range history {
		history[i] = types.Message{Role: types.RoleUser, Content: fmt.Sprintf("m%d", i)}
	}
	req := b.Build(context.Background(), Input{UserText: "latest", History: history})

	if n := len(req.Messages); n != 4 {
		t.Fatalf("messages = %d, want 3 history + 1 user", n)
	}
	if req.Messages[0].Content != "m7" {
		t.Errorf("oldest kept = %q, want m7", req.Messages[0].Content)
	}
	if req.Messages[3].Content != "latest" {
		t.Errorf("last = %q, want latest", req.Messages[3].Content)
	}
}

func TestBuild_RetrievedMemories(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := new(memmock.Store)
	emb := &embmock.Provider{EmbedResult: []float32{1, 0}}

	mustSave := func(id, content string, vec []float32) {
		t.Helper()
		err := store.Save(ctx, memory.Memory{
			ID: id, UserID: "u1", Content: content, Type: memory.TypeFact,
			Language: "es", Embedding: vec,
		})
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	mustSave("m1", "The learner lives in Berlin", []float32{1, 0})
	mustSave("m2", "The learner likes cooking", []float32{0, 1})

	b := New(emb, store)
	req := b.Build(ctx, Input{
		UserID:       "u1",
		LanguageCode: "es",
		LanguageName: "Spanish",
		UserText:     "donde vivo?",
	})

	if !strings.Contains(req.SystemPrompt, "lives in Berlin") {
		t.Errorf("retrieved memory missing from system prompt: %q", req.SystemPrompt)
	}
	if len(emb.EmbedCalls) != 1 || emb.EmbedCalls[0].Text != "donde vivo?" {
		t.Errorf("embed calls = %v", emb.EmbedCalls)
	}
}

func TestBuild_RetrievalFailuresAreBestEffort(t *testing.T) {
	t.Parallel()

	t.Run("embed error", func(t *testing.T) {
		emb := &embmock.Provider{EmbedErr: errors.New("quota")}
		b := New(emb, &memmock.Store{})
		req := b.Build(context.Background(), Input{UserID: "u1", UserText: "hola"})
		if strings.Contains(req.SystemPrompt, "remember") {
			t.Error("memories section present despite embed failure")
		}
		if len(req.Messages) != 1 {
			t.Errorf("messages = %d", len(req.Messages))
		}
	})

	t.Run("search error", func(t *testing.T) {
		store := &memmock.Store{}
		store.SearchErr = errors.New("db down")
		b := New(&embmock.Provider{EmbedResult: []float32{1}}, store)
		req := b.Build(context.Background(), Input{UserID: "u1", UserText: "hola"})
		if strings.Contains(req.SystemPrompt, "remember") {
			t.Error("memories section present despite search failure")
		}
	})

	t.Run("no user id disables retrieval", func(t *testing.T) {
		emb := &embmock.Provider{EmbedResult: []float32{1}}
		b := New(emb, &memmock.Store{})
		b.Build(context.Background(), Input{UserText: "hola"})
		if len(emb.EmbedCalls) != 0 {
			t.Errorf("embedder called without user id: %v", emb.EmbedCalls)
		}
	})
}

func TestBuild_UserContext(t *testing.T) {
	t.Parallel()

	b := New(nil, nil)
	req := b.Build(context.Background(), Input{
		UserText:    "hola",
		UserContext: "Preparing for a trip to Madrid next month.",
	})
	if !strings.Contains(req.SystemPrompt, "trip to Madrid") {
		t.Errorf("user context missing: %q", req.SystemPrompt)
	}
}
