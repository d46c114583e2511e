// Package vectorindex stores embedded document chunks and serves
// cosine-similarity search over them. Three backends implement the same
// Index contract: an in-memory store for tests and single-node
// deployments, Qdrant over gRPC, and Postgres with pgvector. The index
// is a relevance optimization, never a hard dependency: callers degrade
// to raw-document fallbacks when it is unavailable.
package vectorindex

import (
	"context"
	"time"
)

const (
	// DefaultTopK is the number of chunks returned by a search when the
	// caller does not override it.
	DefaultTopK = 5

	// OpTimeout is the hard bound on a single index operation. Upsert
	// and Remove fail soft on expiry; Search returns empty.
	OpTimeout = 30 * time.Second

	// embedBatchSize and embedBatchDelay throttle embedding calls during
	// upserts so bursty uploads do not overwhelm the embedding backend.
	embedBatchSize  = 16
	embedBatchDelay = 200 * time.Millisecond
)

// DocumentChunks is the unit of indexing: all chunks of one document,
// in chunk order, plus the metadata carried into every search result.
type DocumentChunks struct {
	DocumentID string
	Filename   string
	Title      string
	Chunks     []string
}

// SearchResult is one retrieved chunk with its cosine similarity to the
// query, conceptually in [-1, 1]. Backends that cannot compute a true
// similarity emit 1.0 as a documented placeholder.
type SearchResult struct {
	Content    string
	Filename   string
	Title      string
	DocumentID string
	Similarity float64
}

// Index is the vector store contract shared by all backends.
type Index interface {
	// Upsert embeds every chunk and stores it under a composite key of
	// documentID and chunk index, so retries overwrite rather than
	// duplicate. Individual chunk embedding failures are logged and
	// skipped; partial indexing is acceptable.
	Upsert(ctx context.Context, doc DocumentChunks) error

	// Search embeds the query and returns the top k results by cosine
	// similarity, descending, ties broken by insertion order.
	Search(ctx context.Context, query string, k int) ([]SearchResult, error)

	// Remove deletes all chunks for the document. Removing a document
	// with no indexed chunks is a no-op, not an error.
	Remove(ctx context.Context, documentID string) error

	// Count reports the number of distinct indexed documents.
	Count(ctx context.Context) (int, error)

	// Ready reports whether the backend is reachable. It never panics
	// and never returns an error.
	Ready(ctx context.Context) bool
}
