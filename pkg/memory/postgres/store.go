// Package postgres provides a PostgreSQL-backed implementation of the learner
// memory store using the pgvector extension for similarity search.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Save(ctx, mem)
//	results, _ := store.Search(ctx, queryVec, 5, memory.SearchFilter{UserID: uid})
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/voxlingo/voxlingo/pkg/memory"
)

// Compile-time interface check.
var _ memory.Store = (*Store)(nil)

// Store is the PostgreSQL-backed learner memory store. It holds a single
// [pgxpool.Pool]. All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, registers pgvector types on every connection,
// and runs [Migrate] to ensure the memories table and the pgvector extension
// exist.
//
// embeddingDimensions must match the output dimension of the embedding model
// used to produce [memory.Memory.Embedding] values (e.g., 1536 for OpenAI
// text-embedding-3-small). Changing this value after the first migration
// requires a manual schema change.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Save implements [memory.Store]. It upserts a memory into the memories
// table. If a memory with the same ID already exists it is completely
// replaced.
func (s *Store) Save(ctx context.Context, m memory.Memory) error {
	const q = `
		INSERT INTO memories
		    (id, user_id, content, type, importance, topics, language, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
		    user_id    = EXCLUDED.user_id,
		    content    = EXCLUDED.content,
		    type       = EXCLUDED.type,
		    importance = EXCLUDED.importance,
		    topics     = EXCLUDED.topics,
		    language   = EXCLUDED.language,
		    embedding  = EXCLUDED.embedding,
		    created_at = EXCLUDED.created_at`

	vec := pgvector.NewVector(m.Embedding)
	_, err := s.pool.Exec(ctx, q,
		m.ID,
		m.UserID,
		m.Content,
		m.Type,
		m.Importance,
		m.Topics,
		m.Language,
		vec,
		m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("memory store: save: %w", err)
	}
	return nil
}

// Search implements [memory.Store]. It finds the topK memories whose
// embeddings are closest (cosine distance) to the supplied query embedding,
// optionally filtered by filter.
//
// Results are ordered by ascending cosine distance (most similar first).
func (s *Store) Search(ctx context.Context, embedding []float32, topK int, filter memory.SearchFilter) ([]memory.Result, error) {
	queryVec := pgvector.NewVector(embedding)

	args := []any{queryVec} // $1 = query vector
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	if filter.UserID != "" {
		conditions = append(conditions, "user_id = "+next(filter.UserID))
	}
	if filter.Type != "" {
		conditions = append(conditions, "type = "+next(filter.Type))
	}
	if filter.Language != "" {
		conditions = append(conditions, "language = "+next(filter.Language))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, "\n  AND ")
	}

	args = append(args, topK)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT id, user_id, content, type, importance, topics, language, embedding, created_at,
		       embedding <=> $1 AS distance
		FROM   memories
		%s
		ORDER  BY distance
		LIMIT  %s`, whereClause, limitArg)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("memory store: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Result, error) {
		var (
			r   memory.Result
			vec pgvector.Vector
		)
		if err := row.Scan(
			&r.Memory.ID,
			&r.Memory.UserID,
			&r.Memory.Content,
			&r.Memory.Type,
			&r.Memory.Importance,
			&r.Memory.Topics,
			&r.Memory.Language,
			&vec,
			&r.Memory.CreatedAt,
			&r.Distance,
		); err != nil {
			return memory.Result{}, err
		}
		r.Memory.Embedding = vec.Slice()
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("memory store: scan rows: %w", err)
	}
	if results == nil {
		results = []memory.Result{}
	}
	return results, nil
}

// Recent implements [memory.Store]. It returns the newest memories for a
// learner, newest first.
func (s *Store) Recent(ctx context.Context, userID string, limit int) ([]memory.Memory, error) {
	const q = `
		SELECT id, user_id, content, type, importance, topics, language, embedding, created_at
		FROM   memories
		WHERE  user_id = $1
		ORDER  BY created_at DESC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("memory store: recent: %w", err)
	}

	memories, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Memory, error) {
		var (
			m   memory.Memory
			vec pgvector.Vector
		)
		if err := row.Scan(
			&m.ID,
			&m.UserID,
			&m.Content,
			&m.Type,
			&m.Importance,
			&m.Topics,
			&m.Language,
			&vec,
			&m.CreatedAt,
		); err != nil {
			return memory.Memory{}, err
		}
		m.Embedding = vec.Slice()
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("memory store: scan rows: %w", err)
	}
	if memories == nil {
		memories = []memory.Memory{}
	}
	return memories, nil
}

// Ping verifies database connectivity. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying connection pool.
// It should be called when the Store is no longer needed, typically via defer.
func (s *Store) Close() {
	s.pool.Close()
}
