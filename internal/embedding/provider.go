// Package embedding maps text to fixed-dimension vectors. The pipeline
// agrees on a single dimension at deploy time; every backend must emit
// vectors of exactly that size.
package embedding

import "context"

// Dimension is the vector size agreed upon by the entire pipeline:
// embedding backends, the vector index, and query-time search.
const Dimension = 768

// Provider maps texts to fixed-dimension vectors. Implementations must
// be deterministic for identical input under a given provider version.
type Provider interface {
	// Embed returns one vector per input text, aligned by index.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension reports the vector size this provider emits.
	Dimension() int
}
