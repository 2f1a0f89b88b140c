package enrich

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/voxlingo/voxlingo/internal/protocol"
	"github.com/voxlingo/voxlingo/pkg/provider/llm"
	"github.com/voxlingo/voxlingo/pkg/types"
)

const flashcardPrompt = `You are extracting study flashcards from a language practice conversation in %LANG%.
Pick up to 4 words or short phrases the learner struggled with or was newly exposed to.
Respond with a single JSON object: {"flashcards":[{"front":"<%LANG% word or phrase>","back":"<English translation>","example":"<short %LANG% example sentence>"}]}.
Respond with {"flashcards":[]} if nothing is worth a card.`

// conversationWindow caps how many recent messages feed a generation prompt.
const conversationWindow = 12

// FlashcardProcessor generates study flashcards from recent conversation.
// Cards already generated in this session are suppressed until Reset.
type FlashcardProcessor struct {
	llmP llm.Provider
	log  *slog.Logger

	mu       sync.Mutex
	language string
	seen     map[string]struct{}
}

// NewFlashcardProcessor creates a processor. Pass nil log for slog.Default.
func NewFlashcardProcessor(llmP llm.Provider, log *slog.Logger) *FlashcardProcessor {
	if log == nil {
		log = slog.Default()
	}
	return &FlashcardProcessor{
		llmP: llmP,
		log:  log,
		seen: make(map[string]struct{}),
	}
}

// SetLanguage updates the target language used in generation prompts.
func (p *FlashcardProcessor) SetLanguage(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.language = code
}

// Reset clears the duplicate-suppression state so previously generated cards
// can appear again.
func (p *FlashcardProcessor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = make(map[string]struct{})
}

// Generate produces new flashcards from messages. Returns nil on any
// failure or when no new cards were produced; errors are logged here.
func (p *FlashcardProcessor) Generate(ctx context.Context, messages []types.Message) []protocol.Flashcard {
	if len(messages) == 0 {
		return nil
	}

	p.mu.Lock()
	lang := p.language
	p.mu.Unlock()
	if lang == "" {
		lang = "the target language"
	}

	resp, err := p.llmP.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: strings.ReplaceAll(flashcardPrompt, "%LANG%", lang),
		Messages: []types.Message{{
			Role:    types.RoleUser,
			Content: renderConversation(messages, conversationWindow),
		}},
		Temperature: 0.3,
		JSONOutput:  true,
	})
	if err != nil {
		p.log.Warn("flashcard generation failed", "err", err)
		return nil
	}
	if resp == nil {
		return nil
	}

	var parsed struct {
		Flashcards []protocol.Flashcard `json:"flashcards"`
	}
	if err := decodeJSON(resp.Content, &parsed); err != nil {
		p.log.Warn("flashcard output unparseable", "err", err)
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	var fresh []protocol.Flashcard
	for _, card := range parsed.Flashcards {
		front := strings.TrimSpace(card.Front)
		if front == "" || card.Back == "" {
			continue
		}
		key := strings.ToLower(front)
		if _, dup := p.seen[key]; dup {
			continue
		}
		p.seen[key] = struct{}{}
		card.Front = front
		fresh = append(fresh, card)
	}
	return fresh
}
