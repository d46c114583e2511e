// Package indexer runs document indexing off the request path: a
// strictly FIFO, single-consumer queue feeds a pipeline that chunks
// stored documents and upserts them into the vector index. Indexing
// failures mark the document but never remove it; its raw content keeps
// serving retrieval fallbacks.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dstowell/margin/internal/chunker"
	"github.com/dstowell/margin/internal/store"
	"github.com/dstowell/margin/internal/vectorindex"
)

// DocumentStore is the slice of the relational store the pipeline
// needs.
type DocumentStore interface {
	GetDocument(ctx context.Context, id string) (*store.Document, error)
	SetDocumentStatus(ctx context.Context, id, status string) error
}

// Pipeline indexes and de-indexes single documents.
type Pipeline struct {
	docs   DocumentStore
	index  vectorindex.Index
	logger *slog.Logger
}

// NewPipeline creates a Pipeline.
func NewPipeline(docs DocumentStore, index vectorindex.Index, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{docs: docs, index: index, logger: logger}
}

// IndexDocument chunks a stored document and upserts it into the index,
// recording the outcome in the document's status.
func (p *Pipeline) IndexDocument(ctx context.Context, documentID string) error {
	start := time.Now()

	doc, err := p.docs.GetDocument(ctx, documentID)
	if err != nil {
		// Deleted between enqueue and processing; nothing to do.
		return fmt.Errorf("load document %s: %w", documentID, err)
	}

	chunks := chunker.Split(doc.Content, chunker.DefaultChunkSize)
	if len(chunks) == 0 {
		p.logger.Warn("document has no indexable text", "document_id", documentID)
		return p.docs.SetDocumentStatus(ctx, documentID, store.StatusIndexed)
	}

	err = p.index.Upsert(ctx, vectorindex.DocumentChunks{
		DocumentID: doc.ID,
		Filename:   doc.Filename,
		Title:      doc.Title,
		Chunks:     chunks,
	})
	if err != nil {
		if statusErr := p.docs.SetDocumentStatus(ctx, documentID, store.StatusFailed); statusErr != nil {
			p.logger.Warn("marking document failed", "document_id", documentID, "error", statusErr)
		}
		return fmt.Errorf("index document %s: %w", documentID, err)
	}

	if err := p.docs.SetDocumentStatus(ctx, documentID, store.StatusIndexed); err != nil {
		return fmt.Errorf("marking document indexed: %w", err)
	}

	p.logger.Info("document indexed",
		"document_id", documentID, "chunks", len(chunks), "duration", time.Since(start))
	return nil
}

// RemoveDocument deletes a document's chunks from the index.
func (p *Pipeline) RemoveDocument(ctx context.Context, documentID string) error {
	if err := p.index.Remove(ctx, documentID); err != nil {
		return fmt.Errorf("remove document %s from index: %w", documentID, err)
	}
	p.logger.Info("document removed from index", "document_id", documentID)
	return nil
}
