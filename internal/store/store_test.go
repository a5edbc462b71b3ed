package store

import (
	"context"
	"math"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s := Open(filepath.Join(t.TempDir(), "research.db"), nil)
	if s.InMemory() {
		t.Fatal("expected a file-backed store")
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_UpsertAndTopK(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seeds := []struct {
		url  string
		text string
		vec  []float32
	}{
		{"https://example.com/a", "exact match", []float32{1, 0, 0}},
		{"https://example.com/b", "close match", []float32{0.9, 0.1, 0}},
		{"https://example.com/c", "unrelated", []float32{0, 1, 0}},
	}
	for _, seed := range seeds {
		if _, err := s.Upsert(ctx, seed.url, "t", seed.text, seed.vec); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	chunks, err := s.TopK(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("TopK failed: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0].Text != "exact match" || chunks[1].Text != "close match" {
		t.Errorf("wrong ranking: %q then %q", chunks[0].Text, chunks[1].Text)
	}
	if math.Abs(chunks[0].Similarity-1.0) > 1e-6 {
		t.Errorf("identical vectors should score 1.0, got %v", chunks[0].Similarity)
	}
	if chunks[1].Similarity >= chunks[0].Similarity {
		t.Errorf("similarities out of order: %v >= %v", chunks[1].Similarity, chunks[0].Similarity)
	}
}

func TestStore_UpsertReplacesByURL(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id1, err := s.Upsert(ctx, "https://example.com/page", "old", "old text", []float32{1, 0})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	id2, err := s.Upsert(ctx, "https://example.com/page", "new", "new text", []float32{0, 1})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if id1 != id2 {
		t.Errorf("re-upsert changed id: %d -> %d", id1, id2)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("got %d rows, want 1", n)
	}

	chunks, err := s.TopK(ctx, []float32{0, 1}, 1)
	if err != nil {
		t.Fatalf("TopK failed: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Text != "new text" || chunks[0].Title != "new" {
		t.Errorf("stale row returned: %+v", chunks)
	}
}

func TestStore_SkipsMismatchedDimensions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Upsert(ctx, "https://example.com/x", "t", "text", []float32{1, 0, 0}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	chunks, err := s.TopK(ctx, []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("TopK failed: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("mismatched dimensions should be skipped, got %d chunks", len(chunks))
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "research.db")
	ctx := context.Background()

	s := Open(path, nil)
	if _, err := s.Upsert(ctx, "https://example.com/p", "t", "text", []float32{1}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	s.Close()

	s = Open(path, nil)
	defer s.Close()
	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("got %d rows after reopen, want 1", n)
	}
}

func TestStore_FallsBackToMemory(t *testing.T) {
	// A directory is not a usable database file.
	s := Open(t.TempDir(), nil)
	if !s.InMemory() {
		t.Fatal("expected in-memory fallback")
	}
	defer s.Close()

	ctx := context.Background()
	if _, err := s.Upsert(ctx, "https://example.com/m", "t", "text", []float32{1, 0}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	chunks, err := s.TopK(ctx, []float32{1, 0}, 1)
	if err != nil {
		t.Fatalf("TopK failed: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Text != "text" {
		t.Errorf("got %+v", chunks)
	}
}

func TestStore_EmptyPathIsInMemory(t *testing.T) {
	s := Open("", nil)
	if !s.InMemory() {
		t.Error("empty path should select the in-memory store")
	}
}

func TestStore_TopKZero(t *testing.T) {
	s := Open("", nil)
	chunks, err := s.TopK(context.Background(), []float32{1}, 0)
	if err != nil {
		t.Fatalf("TopK failed: %v", err)
	}
	if chunks != nil {
		t.Errorf("k=0 should return nothing, got %v", chunks)
	}
}

func TestMemoryStore_TieBreaksByInsertionOrder(t *testing.T) {
	m := newMemoryStore()
	m.upsert("https://a", "", "first", []float32{1, 0})
	m.upsert("https://b", "", "second", []float32{1, 0})

	got := m.topK([]float32{1, 0}, 2)
	if len(got) != 2 {
		t.Fatalf("got %d results", len(got))
	}
	if got[0].Text != "first" || got[1].Text != "second" {
		t.Errorf("equal scores must keep insertion order: %q, %q", got[0].Text, got[1].Text)
	}
}

func TestVectorRoundTrip(t *testing.T) {
	vec := []float32{0.5, -1.25, 3.75, 0}
	decoded, err := decodeVector(encodeVector(vec))
	if err != nil {
		t.Fatalf("decodeVector failed: %v", err)
	}
	if len(decoded) != len(vec) {
		t.Fatalf("got %d values, want %d", len(decoded), len(vec))
	}
	for i := range vec {
		if decoded[i] != vec[i] {
			t.Errorf("value %d: got %v, want %v", i, decoded[i], vec[i])
		}
	}

	if _, err := decodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}
