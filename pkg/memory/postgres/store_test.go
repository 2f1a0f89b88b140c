package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/voxlingo/voxlingo/pkg/memory"
	"github.com/voxlingo/voxlingo/pkg/memory/postgres"
)

const testEmbeddingDim = 4

// testDSN returns the test database DSN from the environment, or skips the
// test if VOXLINGO_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("VOXLINGO_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOXLINGO_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean schema.
// It calls t.Cleanup to close the store when the test finishes.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	cleanPool := mustPool(t, ctx, dsn)
	t.Cleanup(cleanPool.Close)
	if _, err := cleanPool.Exec(ctx, "DROP TABLE IF EXISTS memories CASCADE"); err != nil {
		t.Fatalf("drop schema: %v", err)
	}

	store, err := postgres.NewStore(ctx, dsn, testEmbeddingDim)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

// mustPool opens a pgxpool with pgvector types registered.
func mustPool(t *testing.T, ctx context.Context, dsn string) *pgxpool.Pool {
	t.Helper()
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		// best-effort: pgvector may not be installed yet on a fresh DB
		_ = pgxvec.RegisterTypes(ctx, conn)
		return nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	return pool
}

func testMemory(userID string, content string, vec []float32) memory.Memory {
	return memory.Memory{
		ID:         uuid.NewString(),
		UserID:     userID,
		Content:    content,
		Type:       memory.TypeFact,
		Importance: 0.5,
		Topics:     []string{"test"},
		Language:   "es",
		Embedding:  vec,
		CreatedAt:  time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestStore_SaveAndSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	near := testMemory("user-1", "works as a nurse", []float32{1, 0, 0, 0})
	far := testMemory("user-1", "visited Madrid", []float32{0, 0, 0, 1})
	other := testMemory("user-2", "prefers slow speech", []float32{1, 0, 0, 0})

	for _, m := range []memory.Memory{near, far, other} {
		if err := store.Save(ctx, m); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	results, err := store.Search(ctx, []float32{1, 0, 0, 0}, 10, memory.SearchFilter{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Memory.ID != near.ID {
		t.Errorf("expected nearest memory first, got %q", results[0].Memory.Content)
	}
	if results[0].Distance > results[1].Distance {
		t.Error("results not ordered by ascending distance")
	}
}

func TestStore_SaveUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	m := testMemory("user-1", "original", []float32{1, 0, 0, 0})
	if err := store.Save(ctx, m); err != nil {
		t.Fatalf("Save: %v", err)
	}

	m.Content = "replaced"
	m.Type = memory.TypeProgress
	if err := store.Save(ctx, m); err != nil {
		t.Fatalf("Save (upsert): %v", err)
	}

	results, err := store.Search(ctx, []float32{1, 0, 0, 0}, 10, memory.SearchFilter{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result after upsert, got %d", len(results))
	}
	if results[0].Memory.Content != "replaced" {
		t.Errorf("content = %q, want 'replaced'", results[0].Memory.Content)
	}
	if results[0].Memory.Type != memory.TypeProgress {
		t.Errorf("type = %q, want %q", results[0].Memory.Type, memory.TypeProgress)
	}
}

func TestStore_SearchFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	fact := testMemory("user-1", "fact memory", []float32{1, 0, 0, 0})
	pref := testMemory("user-1", "preference memory", []float32{1, 0, 0, 0})
	pref.Type = memory.TypePreference
	french := testMemory("user-1", "french memory", []float32{1, 0, 0, 0})
	french.Language = "fr"

	for _, m := range []memory.Memory{fact, pref, french} {
		if err := store.Save(ctx, m); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	byType, err := store.Search(ctx, []float32{1, 0, 0, 0}, 10, memory.SearchFilter{
		UserID: "user-1",
		Type:   memory.TypePreference,
	})
	if err != nil {
		t.Fatalf("Search by type: %v", err)
	}
	if len(byType) != 1 || byType[0].Memory.ID != pref.ID {
		t.Errorf("type filter returned wrong results: %+v", byType)
	}

	byLang, err := store.Search(ctx, []float32{1, 0, 0, 0}, 10, memory.SearchFilter{
		UserID:   "user-1",
		Language: "fr",
	})
	if err != nil {
		t.Fatalf("Search by language: %v", err)
	}
	if len(byLang) != 1 || byLang[0].Memory.ID != french.ID {
		t.Errorf("language filter returned wrong results: %+v", byLang)
	}
}

func TestStore_Recent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := testMemory("user-1", "old", []float32{1, 0, 0, 0})
	old.CreatedAt = time.Now().UTC().Add(-time.Hour)
	recent := testMemory("user-1", "recent", []float32{0, 1, 0, 0})

	for _, m := range []memory.Memory{old, recent} {
		if err := store.Save(ctx, m); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	memories, err := store.Recent(ctx, "user-1", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(memories) != 2 {
		t.Fatalf("expected 2 memories, got %d", len(memories))
	}
	if memories[0].Content != "recent" {
		t.Errorf("expected newest first, got %q", memories[0].Content)
	}

	empty, err := store.Recent(ctx, "nobody", 10)
	if err != nil {
		t.Fatalf("Recent (empty): %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", empty)
	}
}
