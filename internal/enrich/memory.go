package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxlingo/voxlingo/pkg/memory"
	"github.com/voxlingo/voxlingo/pkg/provider/embeddings"
	"github.com/voxlingo/voxlingo/pkg/provider/llm"
	"github.com/voxlingo/voxlingo/pkg/types"
)

const memoryPrompt = `You extract one durable fact about a language learner from their practice conversation.
Good memories are stable facts, preferences, progress milestones, or notable events — not small talk.
Respond with a single JSON object: {"content":"<one English sentence about the learner>","type":"<fact|preference|progress|event>","importance":<0.0-1.0>,"topics":["<topic>"]}.
Respond with {"content":""} if the recent conversation contains nothing worth remembering.`

// DefaultMemoryInterval fires memory extraction every Nth completed turn.
const DefaultMemoryInterval = 3

// maxMemoryTopics caps the topics list on a stored memory.
const maxMemoryTopics = 5

// MemoryProcessor extracts long-term learner memories every Nth turn.
type MemoryProcessor struct {
	llmP     llm.Provider
	embedder embeddings.Provider
	store    memory.Store
	log      *slog.Logger
	interval int

	mu       sync.Mutex
	language string
	turns    int
}

// NewMemoryProcessor creates a processor firing every interval turns.
// A non-positive interval uses DefaultMemoryInterval.
func NewMemoryProcessor(llmP llm.Provider, embedder embeddings.Provider, store memory.Store, log *slog.Logger, interval int) *MemoryProcessor {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultMemoryInterval
	}
	return &MemoryProcessor{
		llmP:     llmP,
		embedder: embedder,
		store:    store,
		log:      log,
		interval: interval,
	}
}

// SetLanguage updates the language tag stored on extracted memories.
func (p *MemoryProcessor) SetLanguage(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.language = code
}

// Reset zeroes the turn counter.
func (p *MemoryProcessor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.turns = 0
}

// IncrementTurn records one completed turn.
func (p *MemoryProcessor) IncrementTurn() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.turns++
}

// ShouldCreateMemory reports whether the current turn count is a multiple of
// the extraction interval.
func (p *MemoryProcessor) ShouldCreateMemory() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.turns > 0 && p.turns%p.interval == 0
}

// CreateMemory extracts, validates, embeds, and persists one memory for
// userID. Every stage is best-effort; the returned error exists for the
// Supervisor's logging contract and must never reach the conversation path.
func (p *MemoryProcessor) CreateMemory(ctx context.Context, userID string, messages []types.Message) error {
	if userID == "" || len(messages) == 0 {
		return nil
	}

	p.mu.Lock()
	lang := p.language
	p.mu.Unlock()

	resp, err := p.llmP.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: memoryPrompt,
		Messages: []types.Message{{
			Role:    types.RoleUser,
			Content: renderConversation(messages, conversationWindow),
		}},
		Temperature: 0.1,
		JSONOutput:  true,
	})
	if err != nil {
		return fmt.Errorf("memory candidate generation: %w", err)
	}
	if resp == nil {
		return nil
	}

	var candidate struct {
		Content    string   `json:"content"`
		Type       string   `json:"type"`
		Importance float64  `json:"importance"`
		Topics     []string `json:"topics"`
	}
	if err := decodeJSON(resp.Content, &candidate); err != nil {
		return err
	}
	if strings.TrimSpace(candidate.Content) == "" {
		// Model judged the conversation unmemorable.
		return nil
	}

	m := memory.Memory{
		ID:         uuid.NewString(),
		UserID:     userID,
		Content:    strings.TrimSpace(candidate.Content),
		Type:       candidate.Type,
		Importance: clamp01(candidate.Importance),
		Topics:     candidate.Topics,
		Language:   lang,
		CreatedAt:  time.Now().UTC(),
	}
	if !memory.ValidType(m.Type) {
		m.Type = memory.TypeFact
	}
	if len(m.Topics) > maxMemoryTopics {
		m.Topics = m.Topics[:maxMemoryTopics]
	}

	vec, err := p.embedder.Embed(ctx, m.Content)
	if err != nil {
		return fmt.Errorf("embedding memory: %w", err)
	}
	m.Embedding = vec

	if err := p.store.Save(ctx, m); err != nil {
		return fmt.Errorf("persisting memory: %w", err)
	}
	p.log.Debug("memory saved", "user_id", userID, "type", m.Type)
	return nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
