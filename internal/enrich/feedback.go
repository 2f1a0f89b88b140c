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

const feedbackPrompt = `You are a %LANG% teacher reviewing a learner's latest utterance in a practice conversation.
The utterance to review is given last. Identify real mistakes only; do not invent corrections for acceptable colloquial speech.
Respond with a single JSON object: {"summary":"<one encouraging sentence in English>","corrections":[{"original":"<learner text>","corrected":"<fixed %LANG% text>","explanation":"<one short English sentence>"}]}.
Use an empty corrections array when the utterance is fine.`

// Feedback is the result of one feedback generation.
type Feedback struct {
	Summary     string
	Corrections []protocol.Correction
}

// FeedbackProcessor reviews the learner's utterances for mistakes.
type FeedbackProcessor struct {
	llmP llm.Provider
	log  *slog.Logger

	mu       sync.Mutex
	language string
}

// NewFeedbackProcessor creates a processor. Pass nil log for slog.Default.
func NewFeedbackProcessor(llmP llm.Provider, log *slog.Logger) *FeedbackProcessor {
	if log == nil {
		log = slog.Default()
	}
	return &FeedbackProcessor{llmP: llmP, log: log}
}

// SetLanguage updates the target language used in generation prompts.
func (p *FeedbackProcessor) SetLanguage(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.language = code
}

// Reset is a no-op; the processor keeps no cross-turn state. Present for
// interface symmetry with the other processors.
func (p *FeedbackProcessor) Reset() {}

// Generate reviews lastUserText in the context of messages. Returns nil on
// failure or when the model produced no summary.
func (p *FeedbackProcessor) Generate(ctx context.Context, messages []types.Message, lastUserText string) *Feedback {
	if strings.TrimSpace(lastUserText) == "" {
		return nil
	}

	p.mu.Lock()
	lang := p.language
	p.mu.Unlock()
	if lang == "" {
		lang = "the target language"
	}

	content := renderConversation(messages, conversationWindow) +
		"\nUtterance to review: " + lastUserText

	resp, err := p.llmP.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: strings.ReplaceAll(feedbackPrompt, "%LANG%", lang),
		Messages:     []types.Message{{Role: types.RoleUser, Content: content}},
		Temperature:  0.2,
		JSONOutput:   true,
	})
	if err != nil {
		p.log.Warn("feedback generation failed", "err", err)
		return nil
	}
	if resp == nil {
		return nil
	}

	var parsed struct {
		Summary     string                `json:"summary"`
		Corrections []protocol.Correction `json:"corrections"`
	}
	if err := decodeJSON(resp.Content, &parsed); err != nil {
		p.log.Warn("feedback output unparseable", "err", err)
		return nil
	}
	if parsed.Summary == "" {
		return nil
	}
	return &Feedback{Summary: parsed.Summary, Corrections: parsed.Corrections}
}
