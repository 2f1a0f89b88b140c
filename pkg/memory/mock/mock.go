// Package mock provides an in-memory test double for the memory.Store
// interface.
//
// Store keeps saved memories in a slice and performs a naive linear
// similarity scan, which is plenty for unit tests.
package mock

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/voxlingo/voxlingo/pkg/memory"
)

// Store is a mock implementation of memory.Store.
type Store struct {
	mu sync.Mutex

	// SaveErr, if non-nil, is returned by every Save call.
	SaveErr error

	// SearchErr, if non-nil, is returned by every Search call.
	SearchErr error

	// RecentErr, if non-nil, is returned by every Recent call.
	RecentErr error

	memories []memory.Memory
}

// Compile-time interface check.
var _ memory.Store = (*Store)(nil)

// Save stores m, replacing any existing memory with the same ID.
func (s *Store) Save(_ context.Context, m memory.Memory) error {
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.memories {
		if existing.ID == m.ID {
			s.memories[i] = m
			return nil
		}
	}
	s.memories = append(s.memories, m)
	return nil
}

// Search performs a linear cosine-distance scan over saved memories.
func (s *Store) Search(_ context.Context, embedding []float32, topK int, filter memory.SearchFilter) ([]memory.Result, error) {
	if s.SearchErr != nil {
		return nil, s.SearchErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	results := []memory.Result{}
	for _, m := range s.memories {
		if filter.UserID != "" && m.UserID != filter.UserID {
			continue
		}
		if filter.Type != "" && m.Type != filter.Type {
			continue
		}
		if filter.Language != "" && m.Language != filter.Language {
			continue
		}
		results = append(results, memory.Result{
			Memory:   m,
			Distance: cosineDistance(embedding, m.Embedding),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Recent returns saved memories for userID, newest first.
func (s *Store) Recent(_ context.Context, userID string, limit int) ([]memory.Memory, error) {
	if s.RecentErr != nil {
		return nil, s.RecentErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []memory.Memory{}
	for _, m := range s.memories {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Saved returns a copy of all memories stored so far, in insertion order.
func (s *Store) Saved() []memory.Memory {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]memory.Memory, len(s.memories))
	copy(out, s.memories)
	return out
}

// cosineDistance computes 1 - cosine similarity. Mismatched or zero-length
// vectors are treated as maximally distant.
func cosineDistance(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 2
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
