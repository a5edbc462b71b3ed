package store

import (
	"sort"
	"sync"
	"time"

	"scour/internal/embedding"
)

// memoryStore is the fallback used when SQLite is unavailable. Nothing
// survives the process, which is acceptable for a single research run.
type memoryStore struct {
	mu    sync.RWMutex
	rows  []memRow
	byURL map[string]int
	nexID int64
}

type memRow struct {
	id      int64
	url     string
	title   string
	text    string
	vec     []float32
	created time.Time
}

func newMemoryStore() *memoryStore {
	return &memoryStore{byURL: make(map[string]int), nexID: 1}
}

func (m *memoryStore) upsert(url, title, text string, vec []float32) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	vecCopy := make([]float32, len(vec))
	copy(vecCopy, vec)

	if i, ok := m.byURL[url]; ok {
		m.rows[i].title = title
		m.rows[i].text = text
		m.rows[i].vec = vecCopy
		return m.rows[i].id
	}

	id := m.nexID
	m.nexID++
	m.rows = append(m.rows, memRow{
		id: id, url: url, title: title, text: text, vec: vecCopy, created: time.Now(),
	})
	m.byURL[url] = len(m.rows) - 1
	return id
}

func (m *memoryStore) topK(queryVec []float32, k int) []ScoredChunk {
	m.mu.RLock()
	defer m.mu.RUnlock()

	scored := make([]ScoredChunk, 0, len(m.rows))
	for _, row := range m.rows {
		if len(row.vec) != len(queryVec) {
			continue
		}
		sim, err := embedding.CosineSimilarity(queryVec, row.vec)
		if err != nil {
			continue
		}
		scored = append(scored, ScoredChunk{
			Chunk: Chunk{
				ID: row.id, URL: row.url, Title: row.title, Text: row.text, CreatedAt: row.created,
			},
			Similarity: sim,
		})
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
	return scored
}

func (m *memoryStore) count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}
