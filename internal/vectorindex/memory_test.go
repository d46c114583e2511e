package vectorindex

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dstowell/margin/internal/embedding"
)

// hashProvider embeds by content hash, so identical texts get identical
// vectors and similarity 1.0 against themselves.
type hashProvider struct{}

func (hashProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = embedding.SyntheticVector(t, embedding.Dimension)
	}
	return out, nil
}

func (hashProvider) Dimension() int { return embedding.Dimension }

type brokenProvider struct{}

func (brokenProvider) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("embedding backend down")
}

func (brokenProvider) Dimension() int { return embedding.Dimension }

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestMemoryUpsertAndSearch(t *testing.T) {
	idx := NewMemory(hashProvider{}, discardLogger())
	ctx := context.Background()

	err := idx.Upsert(ctx, DocumentChunks{
		DocumentID: "doc-1",
		Filename:   "notes.md",
		Title:      "Notes",
		Chunks:     []string{"alpha beta gamma", "delta epsilon zeta"},
	})
	require.NoError(t, err)

	results, err := idx.Search(ctx, "alpha beta gamma", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	top := results[0]
	assert.Equal(t, "alpha beta gamma", top.Content)
	assert.Equal(t, "doc-1", top.DocumentID)
	assert.Equal(t, "notes.md", top.Filename)
	assert.Equal(t, "Notes", top.Title)
	assert.InDelta(t, 1.0, top.Similarity, 1e-6)
}

func TestMemoryUpsertIsIdempotent(t *testing.T) {
	idx := NewMemory(hashProvider{}, discardLogger())
	ctx := context.Background()

	doc := DocumentChunks{
		DocumentID: "doc-1",
		Filename:   "a.txt",
		Chunks:     []string{"first chunk", "second chunk"},
	}
	require.NoError(t, idx.Upsert(ctx, doc))
	require.NoError(t, idx.Upsert(ctx, doc))

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	results, err := idx.Search(ctx, "first chunk", 10)
	require.NoError(t, err)

	matches := 0
	for _, r := range results {
		if r.Content == "first chunk" {
			matches++
		}
	}
	assert.Equal(t, 1, matches, "re-upsert must overwrite, not duplicate")
}

func TestMemoryCountIsDistinctDocuments(t *testing.T) {
	idx := NewMemory(hashProvider{}, discardLogger())
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, DocumentChunks{
		DocumentID: "doc-1",
		Chunks:     []string{"one", "two", "three"},
	}))
	require.NoError(t, idx.Upsert(ctx, DocumentChunks{
		DocumentID: "doc-2",
		Chunks:     []string{"four"},
	}))

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMemoryRemoveIsIdempotent(t *testing.T) {
	idx := NewMemory(hashProvider{}, discardLogger())
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, DocumentChunks{
		DocumentID: "doc-1",
		Chunks:     []string{"content"},
	}))

	require.NoError(t, idx.Remove(ctx, "doc-1"))
	require.NoError(t, idx.Remove(ctx, "doc-1"))
	require.NoError(t, idx.Remove(ctx, "never-indexed"))

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestMemorySearchTieBreaksByInsertionOrder(t *testing.T) {
	idx := NewMemory(hashProvider{}, discardLogger())
	ctx := context.Background()

	// Identical text in two documents produces identical vectors and
	// therefore identical similarity.
	require.NoError(t, idx.Upsert(ctx, DocumentChunks{
		DocumentID: "doc-early",
		Chunks:     []string{"shared text"},
	}))
	require.NoError(t, idx.Upsert(ctx, DocumentChunks{
		DocumentID: "doc-late",
		Chunks:     []string{"shared text"},
	}))

	results, err := idx.Search(ctx, "shared text", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "doc-early", results[0].DocumentID)
	assert.Equal(t, "doc-late", results[1].DocumentID)
}

func TestMemorySearchCapsAtK(t *testing.T) {
	idx := NewMemory(hashProvider{}, discardLogger())
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, DocumentChunks{
		DocumentID: "doc-1",
		Chunks:     []string{"a", "b", "c", "d", "e", "f", "g"},
	}))

	results, err := idx.Search(ctx, "a", 3)
	require.NoError(t, err)
	assert.Len(t, results, 3)

	// Non-positive k falls back to the default.
	results, err = idx.Search(ctx, "a", 0)
	require.NoError(t, err)
	assert.Len(t, results, DefaultTopK)
}

func TestMemoryUpsertSurvivesEmbeddingOutage(t *testing.T) {
	// With the fallback wrapper in front, an embedding backend that
	// fails every call still yields synthetic vectors, so indexing
	// completes and the index stays ready.
	provider := embedding.NewFallback(brokenProvider{}, 0, discardLogger())
	idx := NewMemory(provider, discardLogger())
	ctx := context.Background()

	err := idx.Upsert(ctx, DocumentChunks{
		DocumentID: "doc-1",
		Chunks:     []string{"chunk one", "chunk two"},
	})
	require.NoError(t, err)

	assert.True(t, idx.Ready(ctx))

	results, err := idx.Search(ctx, "chunk one", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "chunk one", results[0].Content)
}
