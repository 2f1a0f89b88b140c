// Package enrich implements the post-turn enrichment processors: flashcard
// generation, language feedback, and long-term memory extraction.
//
// Everything here is best-effort by contract. Processors return nil results
// on failure, the Supervisor logs and drops errors from background jobs, and
// nothing in this package may affect the conversation flow.
package enrich

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/voxlingo/voxlingo/pkg/types"
)

// DefaultSupervisorLimit bounds concurrent background enrichment jobs per
// process.
const DefaultSupervisorLimit = 32

// Supervisor spawns fire-and-forget background jobs. Errors returned by a
// job are logged and dropped, never propagated; a job submitted while the
// concurrency limit is saturated is dropped with a warning rather than
// queued, since enrichment is disposable.
type Supervisor struct {
	log *slog.Logger
	g   *errgroup.Group
}

// NewSupervisor creates a Supervisor running at most limit jobs at once.
// A non-positive limit uses DefaultSupervisorLimit.
func NewSupervisor(log *slog.Logger, limit int) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	if limit <= 0 {
		limit = DefaultSupervisorLimit
	}
	g := new(errgroup.Group)
	g.SetLimit(limit)
	return &Supervisor{log: log, g: g}
}

// Go runs fn in the background. The name identifies the job in logs.
func (s *Supervisor) Go(name string, fn func() error) {
	ok := s.g.TryGo(func() error {
		if err := fn(); err != nil {
			s.log.Warn("enrichment job failed", "job", name, "err", err)
		}
		return nil
	})
	if !ok {
		s.log.Warn("enrichment job dropped, supervisor saturated", "job", name)
	}
}

// Wait blocks until all running jobs finish. Called on shutdown.
func (s *Supervisor) Wait() {
	_ = s.g.Wait()
}

// renderConversation formats messages for inclusion in a generation prompt,
// most recent last, capped at limit messages.
func renderConversation(messages []types.Message, limit int) string {
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	var sb strings.Builder
	for _, m := range messages {
		role := "Learner"
		if m.Role == types.RoleAssistant {
			role = "Tutor"
		}
		fmt.Fprintf(&sb, "%s: %s\n", role, m.Content)
	}
	return sb.String()
}

// decodeJSON unmarshals an LLM reply into v, tolerating markdown code fences
// around the object.
func decodeJSON(content string, v any) error {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("enrich: decoding structured output: %w", err)
	}
	return nil
}
