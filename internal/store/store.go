// Package store persists summaries and their embeddings in SQLite and
// ranks them by cosine similarity. When the database cannot be opened it
// degrades to an in-memory store so a research run still completes.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"scour/internal/embedding"
)

// Chunk is one stored summary.
type Chunk struct {
	ID        int64
	URL       string
	Title     string
	Text      string
	CreatedAt time.Time
}

// ScoredChunk is a chunk with its raw cosine similarity to a query.
type ScoredChunk struct {
	Chunk
	Similarity float64
}

// Store holds summaries and embeddings. Exactly one of db or mem is set.
type Store struct {
	db     *sql.DB
	mem    *memoryStore
	mu     sync.RWMutex
	path   string
	logger *zap.Logger
}

// Open opens the SQLite database at path, creating it and its schema as
// needed. An empty path, or any failure to open or initialize the
// database, falls back to an in-memory store with a warning rather than
// aborting the run.
func Open(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path == "" {
		return &Store{mem: newMemoryStore(), logger: logger}
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Warn("cannot create database directory, using in-memory store",
				zap.String("path", path), zap.Error(err))
			return &Store{mem: newMemoryStore(), logger: logger}
		}
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		logger.Warn("cannot open database, using in-memory store",
			zap.String("path", path), zap.Error(err))
		return &Store{mem: newMemoryStore(), logger: logger}
	}

	s := &Store{db: db, path: path, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		logger.Warn("cannot initialize database, using in-memory store",
			zap.String("path", path), zap.Error(err))
		return &Store{mem: newMemoryStore(), logger: logger}
	}
	return s
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS summaries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL UNIQUE,
		title TEXT,
		text TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS embeddings (
		summary_id INTEGER PRIMARY KEY,
		dim INTEGER NOT NULL,
		vec_blob BLOB NOT NULL,
		FOREIGN KEY (summary_id) REFERENCES summaries(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_summaries_url ON summaries(url);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// InMemory reports whether the store is running without persistence.
func (s *Store) InMemory() bool {
	return s.mem != nil
}

// Upsert stores a summary and its embedding, replacing any previous row
// with the same URL. It returns the summary's row id.
func (s *Store) Upsert(ctx context.Context, url, title, text string, vec []float32) (int64, error) {
	if s.mem != nil {
		return s.mem.upsert(url, title, text, vec), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO summaries (url, title, text) VALUES (?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET title = excluded.title, text = excluded.text`,
		url, title, text,
	); err != nil {
		return 0, fmt.Errorf("failed to upsert summary: %w", err)
	}

	var id int64
	if err := tx.QueryRowContext(ctx, "SELECT id FROM summaries WHERE url = ?", url).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to read summary id: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO embeddings (summary_id, dim, vec_blob) VALUES (?, ?, ?)
		 ON CONFLICT(summary_id) DO UPDATE SET dim = excluded.dim, vec_blob = excluded.vec_blob`,
		id, len(vec), encodeVector(vec),
	); err != nil {
		return 0, fmt.Errorf("failed to upsert embedding: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return id, nil
}

// TopK returns up to k chunks ranked by cosine similarity to queryVec,
// most similar first. Rows embedded at a different dimension are skipped.
// Ties break toward the older row so results stay deterministic. When the
// in-database cosine_sim path is unavailable the ranking falls back to a
// full scan with the similarity computed in process.
func (s *Store) TopK(ctx context.Context, queryVec []float32, k int) ([]ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}
	if s.mem != nil {
		return s.mem.topK(queryVec, k), nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out, err := s.topKIndexed(ctx, queryVec, k)
	if err != nil {
		s.logger.Warn("indexed similarity query failed, scanning in memory", zap.Error(err))
		return s.topKScan(ctx, queryVec, k)
	}
	return out, nil
}

func (s *Store) topKIndexed(ctx context.Context, queryVec []float32, k int) ([]ScoredChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.url, s.title, s.text, s.created_at,
		        cosine_sim(?, e.vec_blob, e.dim) AS sim
		 FROM summaries s
		 JOIN embeddings e ON e.summary_id = s.id
		 WHERE e.dim = ?
		 ORDER BY sim DESC, s.id ASC
		 LIMIT ?`,
		encodeVector(queryVec), len(queryVec), k,
	)
	if err != nil {
		return nil, fmt.Errorf("similarity query failed: %w", err)
	}
	defer rows.Close()

	var out []ScoredChunk
	for rows.Next() {
		var c ScoredChunk
		var created sql.NullTime
		if err := rows.Scan(&c.ID, &c.URL, &c.Title, &c.Text, &created, &c.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if created.Valid {
			c.CreatedAt = created.Time
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// topKScan pulls every embedded row and ranks in process. Slower, but it
// works on any connection regardless of registered SQL functions.
func (s *Store) topKScan(ctx context.Context, queryVec []float32, k int) ([]ScoredChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.url, s.title, s.text, s.created_at, e.vec_blob
		 FROM summaries s
		 JOIN embeddings e ON e.summary_id = s.id
		 WHERE e.dim = ?`,
		len(queryVec),
	)
	if err != nil {
		return nil, fmt.Errorf("embedding scan failed: %w", err)
	}
	defer rows.Close()

	var scored []ScoredChunk
	for rows.Next() {
		var c ScoredChunk
		var created sql.NullTime
		var blob []byte
		if err := rows.Scan(&c.ID, &c.URL, &c.Title, &c.Text, &created, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if created.Valid {
			c.CreatedAt = created.Time
		}
		vec, err := decodeVector(blob)
		if err != nil || len(vec) != len(queryVec) {
			continue
		}
		sim, err := embedding.CosineSimilarity(queryVec, vec)
		if err != nil {
			continue
		}
		c.Similarity = sim
		scored = append(scored, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		return scored[i].ID < scored[j].ID
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// Count returns the number of stored summaries.
func (s *Store) Count(ctx context.Context) (int, error) {
	if s.mem != nil {
		return s.mem.count(), nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM summaries").Scan(&n)
	return n, err
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// encodeVector packs a vector as little-endian float32s.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector unpacks a little-endian float32 blob.
func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("blob length %d not a multiple of 4", len(blob))
	}
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out, nil
}
