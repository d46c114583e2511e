package vectorindex

import "errors"

var (
	// ErrIndexUnavailable marks a backend that cannot be reached or
	// initialized. Callers treat it as a degradation, not a failure.
	ErrIndexUnavailable = errors.New("vector index unavailable")

	// ErrDimensionMismatch marks a vector whose size disagrees with the
	// pipeline's configured dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrCapacityExceeded marks a provider-side quota condition during
	// index creation. The message carries the remediation.
	ErrCapacityExceeded = errors.New("vector index capacity limit reached, delete unused indexes or raise the quota")
)
