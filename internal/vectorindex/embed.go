package vectorindex

import (
	"context"
	"log/slog"
	"time"

	"github.com/dstowell/margin/internal/embedding"
)

// embeddedChunk pairs a chunk's text and position with its vector.
type embeddedChunk struct {
	Index  int
	Text   string
	Vector []float32
}

// embedChunks embeds a document's chunks in small batches with an
// inter-batch delay as backpressure on the embedding backend. Batches
// that fail to embed are logged and skipped so a partially indexed
// document still serves searches.
func embedChunks(ctx context.Context, provider embedding.Provider, doc DocumentChunks, logger *slog.Logger) ([]embeddedChunk, error) {
	out := make([]embeddedChunk, 0, len(doc.Chunks))

	for start := 0; start < len(doc.Chunks); start += embedBatchSize {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		end := min(start+embedBatchSize, len(doc.Chunks))
		batch := doc.Chunks[start:end]

		vectors, err := provider.Embed(ctx, batch)
		if err != nil || len(vectors) != len(batch) {
			logger.Warn("skipping chunk batch after embedding failure",
				"document_id", doc.DocumentID, "batch_start", start, "batch_end", end, "error", err)
			continue
		}

		for i, vec := range vectors {
			if len(vec) != provider.Dimension() {
				logger.Warn("skipping chunk with wrong embedding dimension",
					"document_id", doc.DocumentID, "chunk_index", start+i,
					"got", len(vec), "want", provider.Dimension())
				continue
			}
			out = append(out, embeddedChunk{
				Index:  start + i,
				Text:   batch[i],
				Vector: vec,
			})
		}

		if end < len(doc.Chunks) {
			select {
			case <-time.After(embedBatchDelay):
			case <-ctx.Done():
				return out, ctx.Err()
			}
		}
	}

	return out, nil
}

// embedQuery embeds a single search query.
func embedQuery(ctx context.Context, provider embedding.Provider, query string) ([]float32, error) {
	vectors, err := provider.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 || len(vectors[0]) != provider.Dimension() {
		return nil, ErrDimensionMismatch
	}
	return vectors[0], nil
}
