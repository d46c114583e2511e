package vectorindex

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/dstowell/margin/internal/embedding"
)

// memoryEntry is one indexed chunk held in process memory.
type memoryEntry struct {
	documentID string
	chunkIndex int
	filename   string
	title      string
	text       string
	vector     []float32
	order      int // insertion order, for stable tie-breaking
}

// Memory is a brute-force cosine-similarity index held in process
// memory. It backs tests and single-node deployments where an external
// vector store is overkill.
type Memory struct {
	provider embedding.Provider
	logger   *slog.Logger

	mu      sync.RWMutex
	entries map[string]map[int]*memoryEntry // documentID -> chunkIndex -> entry
	nextOrd int
}

// NewMemory creates an in-memory index using provider for embeddings.
func NewMemory(provider embedding.Provider, logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{
		provider: provider,
		logger:   logger,
		entries:  make(map[string]map[int]*memoryEntry),
	}
}

// Upsert implements Index. Re-upserting a document replaces its chunk
// set.
func (m *Memory) Upsert(ctx context.Context, doc DocumentChunks) error {
	ctx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()

	embedded, err := embedChunks(ctx, m.provider, doc, m.logger)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	byIndex := m.entries[doc.DocumentID]
	if byIndex == nil {
		byIndex = make(map[int]*memoryEntry, len(embedded))
		m.entries[doc.DocumentID] = byIndex
	}
	for _, ec := range embedded {
		entry := byIndex[ec.Index]
		if entry == nil {
			entry = &memoryEntry{order: m.nextOrd}
			m.nextOrd++
			byIndex[ec.Index] = entry
		}
		entry.documentID = doc.DocumentID
		entry.chunkIndex = ec.Index
		entry.filename = doc.Filename
		entry.title = doc.Title
		entry.text = ec.Text
		entry.vector = ec.Vector
	}
	return nil
}

// Search implements Index.
func (m *Memory) Search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	if k <= 0 {
		k = DefaultTopK
	}
	ctx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()

	queryVec, err := embedQuery(ctx, m.provider, query)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	type scored struct {
		entry *memoryEntry
		score float64
	}
	var all []scored
	for _, byIndex := range m.entries {
		for _, entry := range byIndex {
			all = append(all, scored{entry: entry, score: cosine(queryVec, entry.vector)})
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].entry.order < all[j].entry.order
	})

	if k > len(all) {
		k = len(all)
	}
	results := make([]SearchResult, 0, k)
	for _, s := range all[:k] {
		results = append(results, SearchResult{
			Content:    s.entry.text,
			Filename:   s.entry.filename,
			Title:      s.entry.title,
			DocumentID: s.entry.documentID,
			Similarity: s.score,
		})
	}
	return results, nil
}

// Remove implements Index. Removing an unindexed document is a no-op.
func (m *Memory) Remove(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, documentID)
	return nil
}

// Count implements Index: distinct documents, not chunks.
func (m *Memory) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

// Ready implements Index. Process memory is always reachable.
func (m *Memory) Ready(context.Context) bool { return true }

// cosine computes cosine similarity between two vectors of equal
// length.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
