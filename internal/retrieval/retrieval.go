// Package retrieval turns a question into grounded, per-document
// context for the answer generator. The vector index is consulted
// first, but it is an optimization only: when it is empty, lagging or
// unreachable, retrieval windows the raw stored document content so a
// notebook can always be asked about.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dstowell/margin/internal/chunker"
	"github.com/dstowell/margin/internal/store"
	"github.com/dstowell/margin/internal/vectorindex"
)

const (
	// Fallback windowing over raw document content.
	fallbackWindowChars = 1500
	fallbackWindowCap   = 5

	// fallbackSimilarity marks synthetic results produced without the
	// index. 1.0 is a placeholder, not a measured similarity.
	fallbackSimilarity = 1.0
)

// DocumentContext is all retrieved chunks of one document, in the order
// they surfaced. The slice order across documents is first-seen order
// and drives citation numbering downstream.
type DocumentContext struct {
	DocumentID string
	Filename   string
	Title      string
	Chunks     []string
}

// DocumentSource provides raw document content, used to scope index
// results to a notebook and to build fallback windows.
type DocumentSource interface {
	ListDocuments(ctx context.Context, notebookID string) ([]store.Document, error)
}

// Retriever orchestrates index search and raw-content fallbacks.
type Retriever struct {
	index  vectorindex.Index
	docs   DocumentSource
	logger *slog.Logger
}

// New creates a Retriever.
func New(index vectorindex.Index, docs DocumentSource, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{index: index, docs: docs, logger: logger}
}

// Retrieve produces grounded context for a question. selectedDocIDs
// narrows the scope to those documents; empty means the whole notebook.
// Index failures degrade to fallback windowing and are never fatal; the
// only fatal error is the document store being unreachable.
func (r *Retriever) Retrieve(ctx context.Context, query, notebookID string, selectedDocIDs []string) ([]DocumentContext, error) {
	docs, err := r.docs.ListDocuments(ctx, notebookID)
	if err != nil {
		return nil, fmt.Errorf("listing notebook documents: %w", err)
	}

	inNotebook := make(map[string]bool, len(docs))
	for _, d := range docs {
		inNotebook[d.ID] = true
	}

	// A requested selection stays binding even when none of its IDs
	// survive the notebook check; falling back to the whole notebook
	// would answer from documents the caller excluded.
	scoped := len(selectedDocIDs) > 0
	selected := make(map[string]bool, len(selectedDocIDs))
	for _, id := range selectedDocIDs {
		if inNotebook[id] {
			selected[id] = true
		}
	}

	results, err := r.index.Search(ctx, query, vectorindex.DefaultTopK)
	if err != nil {
		r.logger.Warn("index search failed, degrading to raw content",
			"notebook_id", notebookID, "error", err)
		results = nil
	}

	// Index results from other notebooks (the index is global) or from
	// outside the requested scope are discarded.
	filtered := results[:0]
	for _, res := range results {
		if !inNotebook[res.DocumentID] {
			continue
		}
		if scoped && !selected[res.DocumentID] {
			continue
		}
		filtered = append(filtered, res)
	}

	if len(filtered) == 0 {
		target := docs
		if scoped {
			target = target[:0]
			for _, d := range docs {
				if selected[d.ID] {
					target = append(target, d)
				}
			}
		}
		r.logger.Info("no indexed chunks matched, windowing raw content",
			"notebook_id", notebookID, "documents", len(target), "scoped", scoped)
		filtered = windowDocuments(target)
	}

	return groupByDocument(filtered), nil
}

// RetrieveAll gathers context without a query, for content generation
// over a whole selection. It always windows raw content: there is no
// question to rank against.
func (r *Retriever) RetrieveAll(ctx context.Context, notebookID string, selectedDocIDs []string) ([]DocumentContext, error) {
	docs, err := r.docs.ListDocuments(ctx, notebookID)
	if err != nil {
		return nil, fmt.Errorf("listing notebook documents: %w", err)
	}

	if len(selectedDocIDs) > 0 {
		selected := make(map[string]bool, len(selectedDocIDs))
		for _, id := range selectedDocIDs {
			selected[id] = true
		}
		kept := docs[:0]
		for _, d := range docs {
			if selected[d.ID] {
				kept = append(kept, d)
			}
		}
		docs = kept
	}

	return groupByDocument(windowDocuments(docs)), nil
}

// windowDocuments converts raw document content into synthetic search
// results.
func windowDocuments(docs []store.Document) []vectorindex.SearchResult {
	var results []vectorindex.SearchResult
	for _, d := range docs {
		for _, window := range chunker.Window(d.Content, fallbackWindowChars, fallbackWindowCap) {
			results = append(results, vectorindex.SearchResult{
				Content:    window,
				Filename:   d.Filename,
				Title:      d.Title,
				DocumentID: d.ID,
				Similarity: fallbackSimilarity,
			})
		}
	}
	return results
}

// groupByDocument collapses results into per-document groups preserving
// first-seen order, the order citations are numbered in.
func groupByDocument(results []vectorindex.SearchResult) []DocumentContext {
	var groups []DocumentContext
	byID := make(map[string]int)

	for _, res := range results {
		i, ok := byID[res.DocumentID]
		if !ok {
			i = len(groups)
			byID[res.DocumentID] = i
			groups = append(groups, DocumentContext{
				DocumentID: res.DocumentID,
				Filename:   res.Filename,
				Title:      res.Title,
			})
		}
		groups[i].Chunks = append(groups[i].Chunks, res.Content)
	}
	return groups
}
