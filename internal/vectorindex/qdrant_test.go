//go:build integration
// +build integration

package vectorindex

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupQdrant connects to a local Qdrant and skips the test if none is
// running.
func setupQdrant(t *testing.T) *Qdrant {
	idx, err := NewQdrant("localhost", 6334, hashProvider{}, discardLogger())
	if err != nil {
		t.Skipf("Qdrant not available: %v", err)
	}
	if !idx.Ready(context.Background()) {
		idx.Close()
		t.Skip("Qdrant not responding to health checks")
	}
	return idx
}

func TestQdrantUpsertSearchRemove(t *testing.T) {
	idx := setupQdrant(t)
	defer idx.Close()

	ctx := context.Background()
	docID := uuid.New().String()

	doc := DocumentChunks{
		DocumentID: docID,
		Filename:   "integration.txt",
		Title:      "Integration Test",
		Chunks:     []string{"the quick brown fox", "jumps over the lazy dog"},
	}
	require.NoError(t, idx.Upsert(ctx, doc))

	results, err := idx.Search(ctx, "the quick brown fox", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	found := false
	for _, r := range results {
		if r.DocumentID == docID && r.Content == "the quick brown fox" {
			found = true
			assert.Equal(t, "integration.txt", r.Filename)
			assert.Equal(t, "Integration Test", r.Title)
			assert.Greater(t, r.Similarity, 0.9)
		}
	}
	assert.True(t, found, "uploaded chunk should surface for its own text")

	require.NoError(t, idx.Remove(ctx, docID))
	require.NoError(t, idx.Remove(ctx, docID), "second remove must be a no-op")
}

func TestQdrantUpsertIsIdempotent(t *testing.T) {
	idx := setupQdrant(t)
	defer idx.Close()

	ctx := context.Background()
	docID := uuid.New().String()
	t.Cleanup(func() { _ = idx.Remove(context.Background(), docID) })

	doc := DocumentChunks{
		DocumentID: docID,
		Filename:   "idempotent.txt",
		Chunks:     []string{"stable point identity"},
	}
	require.NoError(t, idx.Upsert(ctx, doc))

	before, err := idx.Count(ctx)
	require.NoError(t, err)

	require.NoError(t, idx.Upsert(ctx, doc))

	after, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after, "re-upsert must not add documents")
}

func TestQdrantCountDistinctDocuments(t *testing.T) {
	idx := setupQdrant(t)
	defer idx.Close()

	ctx := context.Background()
	docA := uuid.New().String()
	docB := uuid.New().String()
	t.Cleanup(func() {
		_ = idx.Remove(context.Background(), docA)
		_ = idx.Remove(context.Background(), docB)
	})

	before, err := idx.Count(ctx)
	require.NoError(t, err)

	require.NoError(t, idx.Upsert(ctx, DocumentChunks{
		DocumentID: docA,
		Chunks:     []string{"chunk one", "chunk two", "chunk three"},
	}))
	require.NoError(t, idx.Upsert(ctx, DocumentChunks{
		DocumentID: docB,
		Chunks:     []string{"single chunk"},
	}))

	after, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+2, after, "count is per document, not per chunk")
}
