package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// DefaultEmbedTimeout bounds a single call to the external embedding
// backend before the synthetic fallback kicks in.
const DefaultEmbedTimeout = 15 * time.Second

// Fallback wraps a Provider so that embedding never fails: when the
// backend errors or times out, each text gets a deterministic synthetic
// vector derived from its content and length. Search quality in this
// mode degrades to near-random ordering; the substitution is an
// availability device, not a semantic embedding, and every use is
// logged so degraded results stay diagnosable.
type Fallback struct {
	backend Provider
	timeout time.Duration
	logger  *slog.Logger
}

// NewFallback wraps backend with the degraded-mode substitution. A zero
// timeout defaults to DefaultEmbedTimeout.
func NewFallback(backend Provider, timeout time.Duration, logger *slog.Logger) *Fallback {
	if timeout <= 0 {
		timeout = DefaultEmbedTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{backend: backend, timeout: timeout, logger: logger}
}

// Dimension implements Provider.
func (f *Fallback) Dimension() int { return f.backend.Dimension() }

// Embed delegates to the backend and substitutes synthetic vectors on
// failure. It only returns an error when the caller's own context is
// done.
func (f *Fallback) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	embedCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	vectors, err := f.backend.Embed(embedCtx, texts)
	if err == nil && len(vectors) == len(texts) {
		return vectors, nil
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	f.logger.Warn("embedding backend unavailable, substituting synthetic vectors",
		"texts", len(texts), "error", err)

	vectors = make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = SyntheticVector(text, f.backend.Dimension())
	}
	return vectors, nil
}

// SyntheticVector derives a deterministic, reproducible vector from the
// text's content hash and length. Identical text always yields the same
// vector, so re-indexing under the fallback stays idempotent.
func SyntheticVector(text string, dim int) []float32 {
	sum := sha256.Sum256([]byte(text))
	seed := int64(binary.BigEndian.Uint64(sum[:8]))
	rng := rand.New(rand.NewSource(seed))

	v := make([]float32, dim)
	var norm float64
	for i := range v {
		x := rng.Float64()*2 - 1
		v[i] = float32(x)
		norm += x * x
	}

	// Mix a length feature into the first component so documents of
	// wildly different sizes do not collide on hash alone.
	lengthFeature := float64(len(text)%997) / 997
	norm -= float64(v[0]) * float64(v[0])
	v[0] = float32(lengthFeature)
	norm += lengthFeature * lengthFeature

	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range v {
			v[i] *= scale
		}
	}
	return v
}
