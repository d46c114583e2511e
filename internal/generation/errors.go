package generation

import "errors"

var (
	// ErrTimeout is returned when the generation backend does not answer
	// within the per-call deadline.
	ErrTimeout = errors.New("generation timed out")

	// ErrQuotaExceeded is returned on backend rate or quota limits.
	ErrQuotaExceeded = errors.New("generation quota exceeded")

	// ErrAuthFailure is returned when the backend rejects credentials.
	ErrAuthFailure = errors.New("generation authentication failed")
)
