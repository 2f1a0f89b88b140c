// Package memory defines the long-term learner memory layer.
//
// A memory is a single durable fact about a learner extracted from their
// conversations: something they told the tutor about themselves, a preference
// they expressed, a milestone in their language progress, or a notable event.
// Memories carry embeddings so the prompt builder can retrieve the most
// relevant ones for the current turn via vector similarity search.
//
// The Store interface is public so that external packages can supply
// alternative storage backends (Postgres/pgvector, in-memory, …) without
// depending on voxlingo internals.
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"time"
)

// Memory types classify what kind of fact a memory records. The set is closed;
// extraction output carrying any other value must be discarded.
const (
	// TypeFact is a stable fact about the learner ("works as a nurse").
	TypeFact = "fact"

	// TypePreference is an expressed preference ("prefers slow speech").
	TypePreference = "preference"

	// TypeProgress is a language-learning milestone ("mastered past tense").
	TypeProgress = "progress"

	// TypeEvent is a notable one-off event ("visited Madrid last month").
	TypeEvent = "event"
)

// ValidType reports whether t is one of the closed set of memory types.
func ValidType(t string) bool {
	switch t {
	case TypeFact, TypePreference, TypeProgress, TypeEvent:
		return true
	}
	return false
}

// Memory is a single extracted fact about a learner.
type Memory struct {
	// ID is the unique identifier for this memory (a UUID).
	ID string

	// UserID is the learner this memory belongs to.
	UserID string

	// Content is the memory text in natural language.
	Content string

	// Type is one of TypeFact, TypePreference, TypeProgress, TypeEvent.
	Type string

	// Importance is the extraction model's importance estimate, clamped to
	// [0.0, 1.0]. Used as a secondary ranking signal during retrieval.
	Importance float64

	// Topics are coarse topic labels, at most five per memory.
	Topics []string

	// Language is the BCP-47 tag of the conversation language this memory was
	// extracted from.
	Language string

	// Embedding is the vector representation of Content. Dimension must match
	// the store configuration.
	Embedding []float32

	// CreatedAt is when the memory was extracted.
	CreatedAt time.Time
}

// SearchFilter narrows a memory search. All non-zero fields are applied as
// AND conditions.
type SearchFilter struct {
	// UserID restricts results to a single learner. Required in practice;
	// memories are never shared across users.
	UserID string

	// Type restricts results to a single memory type. Empty matches all.
	Type string

	// Language restricts results to memories extracted from conversations in
	// a specific language. Empty matches all.
	Language string
}

// Result pairs a retrieved memory with its vector-space distance from the
// query embedding. Lower Distance values indicate higher semantic similarity.
type Result struct {
	// Memory is the retrieved record.
	Memory Memory

	// Distance is the cosine distance to the query embedding.
	Distance float64
}

// Store is the abstraction over any learner memory backend.
//
// Implementations must be safe for concurrent use; the enrichment supervisor
// writes memories from background goroutines while the prompt builder reads
// them on the conversation hot path.
type Store interface {
	// Save persists a memory. If a memory with the same ID already exists it
	// is completely replaced (upsert).
	Save(ctx context.Context, m Memory) error

	// Search finds the topK memories whose embeddings are closest to the
	// query embedding, filtered by filter. Results are ordered by ascending
	// Distance (most similar first).
	// Returns an empty (non-nil) slice when no memories match.
	Search(ctx context.Context, embedding []float32, topK int, filter SearchFilter) ([]Result, error)

	// Recent returns the most recently created memories for a learner,
	// newest first, up to limit. Used when no query embedding is available.
	// Returns an empty (non-nil) slice when the learner has no memories.
	Recent(ctx context.Context, userID string, limit int) ([]Memory, error)
}
