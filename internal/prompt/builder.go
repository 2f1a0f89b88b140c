// Package prompt assembles the retrieval-augmented completion request for one
// conversation turn: tutor persona, remembered learner facts, optional client
// context, and a bounded window of recent history.
package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/voxlingo/voxlingo/pkg/memory"
	"github.com/voxlingo/voxlingo/pkg/provider/embeddings"
	"github.com/voxlingo/voxlingo/pkg/provider/llm"
	"github.com/voxlingo/voxlingo/pkg/types"
)

const (
	// DefaultHistoryLimit bounds how many history messages are included in a
	// request. Older turns are summarised into learner memories instead.
	DefaultHistoryLimit = 50

	// DefaultRetrievalTopK is how many memories are retrieved per turn.
	DefaultRetrievalTopK = 5

	// defaultTemperature keeps replies conversational without drifting.
	defaultTemperature = 0.7
)

// personaTemplate is the base system prompt. The two verbs are filled with the
// language display name.
const personaTemplate = `You are a friendly, patient %[1]s conversation partner helping a learner practice spoken %[1]s.
Keep replies short and natural, like real speech: one to three sentences.
Match the learner's level, gently recast their mistakes in your reply instead of lecturing, and always answer in %[1]s unless the learner explicitly asks for an explanation.`

// Input is everything the builder needs for one turn.
type Input struct {
	// UserID scopes memory retrieval. Empty disables retrieval.
	UserID string

	// LanguageCode and LanguageName come from the session's resolved language.
	LanguageCode string
	LanguageName string

	// UserText is the transcript (or typed message) driving this turn.
	UserText string

	// History is the session's conversation so far, oldest first, not
	// including UserText.
	History []types.Message

	// UserContext is free-form context supplied by the client (learner goals,
	// current lesson topic). Empty is fine.
	UserContext string
}

// Option configures a Builder.
type Option func(*Builder)

// WithHistoryLimit caps the number of history messages per request.
func WithHistoryLimit(n int) Option {
	return func(b *Builder) { b.historyLimit = n }
}

// WithRetrievalTopK sets how many memories are retrieved per turn.
func WithRetrievalTopK(k int) Option {
	return func(b *Builder) { b.topK = k }
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) { b.log = l }
}

// Builder produces llm.CompletionRequest values. Memory retrieval is
// best-effort: embedding or store failures are logged and the request is
// built without memories.
type Builder struct {
	embedder embeddings.Provider // nil disables retrieval
	store    memory.Store        // nil disables retrieval
	log      *slog.Logger

	historyLimit int
	topK         int
}

// New creates a Builder. Pass nil for embedder or store to run without
// long-term memory retrieval.
func New(embedder embeddings.Provider, store memory.Store, opts ...Option) *Builder {
	b := &Builder{
		embedder:     embedder,
		store:        store,
		log:          slog.Default(),
		historyLimit: DefaultHistoryLimit,
		topK:         DefaultRetrievalTopK,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build assembles the completion request for one turn.
func (b *Builder) Build(ctx context.Context, in Input) llm.CompletionRequest {
	var sys strings.Builder
	fmt.Fprintf(&sys, personaTemplate, displayName(in))

	if memories := b.retrieve(ctx, in); len(memories) > 0 {
		sys.WriteString("\n\nWhat you remember about this learner:\n")
		for _, m := range memories {
			fmt.Fprintf(&sys, "- %s\n", m.Content)
		}
	}

	if in.UserContext != "" {
		sys.WriteString("\nAdditional context from the learner:\n")
		sys.WriteString(in.UserContext)
	}

	history := in.History
	if b.historyLimit > 0 && len(history) > b.historyLimit {
		history = history[len(history)-b.historyLimit:]
	}
	msgs := make([]types.Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, types.Message{Role: types.RoleUser, Content: in.UserText})

	return llm.CompletionRequest{
		SystemPrompt: sys.String(),
		Messages:     msgs,
		Temperature:  defaultTemperature,
	}
}

// retrieve embeds the user text and searches the memory store. Any failure
// returns nil; the turn proceeds without memories.
func (b *Builder) retrieve(ctx context.Context, in Input) []memory.Memory {
	if b.embedder == nil || b.store == nil || in.UserID == "" || in.UserText == "" {
		return nil
	}

	vec, err := b.embedder.Embed(ctx, in.UserText)
	if err != nil {
		b.log.Warn("memory retrieval: embedding failed", "err", err)
		return nil
	}

	results, err := b.store.Search(ctx, vec, b.topK, memory.SearchFilter{
		UserID:   in.UserID,
		Language: in.LanguageCode,
	})
	if err != nil {
		b.log.Warn("memory retrieval: search failed", "err", err)
		return nil
	}

	out := make([]memory.Memory, 0, len(results))
	for _, r := range results {
		out = append(out, r.Memory)
	}
	return out
}

func displayName(in Input) string {
	if in.LanguageName != "" {
		return in.LanguageName
	}
	if in.LanguageCode != "" {
		return in.LanguageCode
	}
	return "target-language"
}
