package retrieval

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dstowell/margin/internal/store"
	"github.com/dstowell/margin/internal/vectorindex"
)

// stubIndex returns canned results or a canned error.
type stubIndex struct {
	results []vectorindex.SearchResult
	err     error
}

func (s *stubIndex) Upsert(context.Context, vectorindex.DocumentChunks) error { return nil }
func (s *stubIndex) Search(context.Context, string, int) ([]vectorindex.SearchResult, error) {
	return s.results, s.err
}
func (s *stubIndex) Remove(context.Context, string) error { return nil }
func (s *stubIndex) Count(context.Context) (int, error)   { return 0, nil }
func (s *stubIndex) Ready(context.Context) bool           { return s.err == nil }

// stubDocs serves a fixed notebook.
type stubDocs struct {
	docs []store.Document
	err  error
}

func (s *stubDocs) ListDocuments(context.Context, string) ([]store.Document, error) {
	return s.docs, s.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func notebookDocs() []store.Document {
	return []store.Document{
		{ID: "d1", NotebookID: "nb", Filename: "one.txt", Title: "One", Content: "alpha beta gamma delta"},
		{ID: "d2", NotebookID: "nb", Filename: "two.txt", Title: "Two", Content: "epsilon zeta eta theta"},
	}
}

func TestRetrieveUsesIndexResults(t *testing.T) {
	idx := &stubIndex{results: []vectorindex.SearchResult{
		{Content: "chunk a", Filename: "one.txt", Title: "One", DocumentID: "d1", Similarity: 0.9},
		{Content: "chunk b", Filename: "two.txt", Title: "Two", DocumentID: "d2", Similarity: 0.8},
	}}
	r := New(idx, &stubDocs{docs: notebookDocs()}, testLogger())

	groups, err := r.Retrieve(context.Background(), "question", "nb", nil)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "d1", groups[0].DocumentID)
	assert.Equal(t, []string{"chunk a"}, groups[0].Chunks)
	assert.Equal(t, "d2", groups[1].DocumentID)
}

func TestRetrieveFiltersForeignNotebookResults(t *testing.T) {
	// The index is process-global; results from documents outside the
	// notebook must not leak into its context.
	idx := &stubIndex{results: []vectorindex.SearchResult{
		{Content: "foreign", DocumentID: "other-notebook-doc", Similarity: 0.99},
		{Content: "mine", Filename: "one.txt", DocumentID: "d1", Similarity: 0.5},
	}}
	r := New(idx, &stubDocs{docs: notebookDocs()}, testLogger())

	groups, err := r.Retrieve(context.Background(), "q", "nb", nil)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "d1", groups[0].DocumentID)
}

func TestRetrieveScopeFilter(t *testing.T) {
	idx := &stubIndex{results: []vectorindex.SearchResult{
		{Content: "from d1", DocumentID: "d1", Similarity: 0.9},
		{Content: "from d2", DocumentID: "d2", Similarity: 0.8},
	}}
	r := New(idx, &stubDocs{docs: notebookDocs()}, testLogger())

	groups, err := r.Retrieve(context.Background(), "q", "nb", []string{"d2"})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "d2", groups[0].DocumentID)
}

func TestRetrieveFallbackWithUnreachableIndex(t *testing.T) {
	idx := &stubIndex{err: vectorindex.ErrIndexUnavailable}
	r := New(idx, &stubDocs{docs: notebookDocs()}, testLogger())

	groups, err := r.Retrieve(context.Background(), "q", "nb", []string{"d1"})
	require.NoError(t, err, "index failure must not be fatal")
	require.NotEmpty(t, groups)

	for _, g := range groups {
		assert.Equal(t, "d1", g.DocumentID, "scoped fallback draws only from the selection")
		for _, chunk := range g.Chunks {
			assert.Contains(t, "alpha beta gamma delta", chunk)
		}
	}
}

func TestRetrieveSelectionOfMissingDocumentsYieldsNoContext(t *testing.T) {
	// A selection naming only documents no longer in the notebook (for
	// example just deleted) must not widen to the whole notebook.
	idx := &stubIndex{results: []vectorindex.SearchResult{
		{Content: "from d1", DocumentID: "d1", Similarity: 0.9},
	}}
	r := New(idx, &stubDocs{docs: notebookDocs()}, testLogger())

	groups, err := r.Retrieve(context.Background(), "q", "nb", []string{"gone"})
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestRetrieveFallbackUnscopedCoversAllDocuments(t *testing.T) {
	idx := &stubIndex{results: nil} // healthy but empty index
	r := New(idx, &stubDocs{docs: notebookDocs()}, testLogger())

	groups, err := r.Retrieve(context.Background(), "q", "nb", nil)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "d1", groups[0].DocumentID)
	assert.Equal(t, "d2", groups[1].DocumentID)
}

func TestRetrieveFallbackWindowCap(t *testing.T) {
	long := strings.Repeat("word ", 5000) // far more than cap*window chars
	docs := []store.Document{{ID: "d1", NotebookID: "nb", Filename: "big.txt", Content: long}}
	r := New(&stubIndex{}, &stubDocs{docs: docs}, testLogger())

	groups, err := r.Retrieve(context.Background(), "q", "nb", nil)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.LessOrEqual(t, len(groups[0].Chunks), fallbackWindowCap)
	for _, chunk := range groups[0].Chunks {
		assert.LessOrEqual(t, len(chunk), fallbackWindowChars)
	}
}

func TestRetrieveStoreFailureIsFatal(t *testing.T) {
	r := New(&stubIndex{}, &stubDocs{err: errors.New("db down")}, testLogger())

	_, err := r.Retrieve(context.Background(), "q", "nb", nil)
	assert.Error(t, err)
}

func TestRetrieveGroupsFirstSeenOrder(t *testing.T) {
	// Documents A, A, B, A, C collapse to three groups in first-seen
	// order with chunks preserved.
	idx := &stubIndex{results: []vectorindex.SearchResult{
		{Content: "a1", DocumentID: "d1"},
		{Content: "a2", DocumentID: "d1"},
		{Content: "b1", DocumentID: "d2"},
		{Content: "a3", DocumentID: "d1"},
		{Content: "c1", DocumentID: "d3"},
	}}
	docs := append(notebookDocs(), store.Document{ID: "d3", NotebookID: "nb", Filename: "three.txt"})
	r := New(idx, &stubDocs{docs: docs}, testLogger())

	groups, err := r.Retrieve(context.Background(), "q", "nb", nil)
	require.NoError(t, err)
	require.Len(t, groups, 3)
	assert.Equal(t, "d1", groups[0].DocumentID)
	assert.Equal(t, []string{"a1", "a2", "a3"}, groups[0].Chunks)
	assert.Equal(t, "d2", groups[1].DocumentID)
	assert.Equal(t, "d3", groups[2].DocumentID)
}

func TestRetrieveAllSelection(t *testing.T) {
	r := New(&stubIndex{}, &stubDocs{docs: notebookDocs()}, testLogger())

	groups, err := r.RetrieveAll(context.Background(), "nb", []string{"d2"})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "d2", groups[0].DocumentID)
	assert.NotEmpty(t, groups[0].Chunks)

	all, err := r.RetrieveAll(context.Background(), "nb", nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
